package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/villagecompute/posoffline/internal/client/models"
	"github.com/villagecompute/posoffline/internal/common"
)

// Sell records a sale into the offline queue. The sale is captured and
// sealed locally whether or not the server is reachable; synchronization
// happens later.
func (a *App) Sell(ctx context.Context) error {
	productID, err := getSimpleText(a.reader, "Enter product id", os.Stdout)
	if err != nil {
		return err
	}
	qtyText, err := getSimpleText(a.reader, "Enter quantity", os.Stdout)
	if err != nil {
		return err
	}
	qty, err := strconv.Atoi(qtyText)
	if err != nil || qty <= 0 {
		fmt.Println("Quantity must be a positive integer")
		return fmt.Errorf("invalid quantity: %q", qtyText)
	}
	amount, err := getSimpleText(a.reader, "Enter total amount (e.g. 42.00)", os.Stdout)
	if err != nil {
		return err
	}
	paymentMethod, err := getSimpleText(a.reader, "Enter payment method id", os.Stdout)
	if err != nil {
		return err
	}

	tx := models.SaleTransaction{
		LocalTransactionID: uuid.NewString(),
		Currency:           "USD",
		TotalAmount:        amount,
		PaymentMethodID:    paymentMethod,
		Items: []models.CartItem{
			{ProductID: productID, Quantity: qty, Price: amount},
		},
	}

	entry, err := a.queue.Enqueue(ctx, tx, "")
	if err != nil {
		switch {
		case errors.Is(err, common.ErrQueueFull):
			fmt.Println("Queue is full. Sync or purge before recording new sales.")
		case errors.Is(err, common.ErrDeviceNotPaired):
			fmt.Println("This terminal is not paired. Run 'pair' first.")
		case errors.Is(err, common.ErrDuplicateTransaction):
			fmt.Println("This sale is already queued.")
		default:
			fmt.Printf("Sale not recorded: %s\n", err.Error())
		}
		return err
	}

	fmt.Printf("Sale queued (%s)\n", entry.IdempotencyKey)

	stats, err := a.queue.Stats(ctx)
	if err == nil && stats.SoftLimitReached {
		fmt.Printf("Warning: queue depth %d is past the soft limit\n", stats.Depth)
	}

	a.trigger.RequestSync()
	return nil
}
