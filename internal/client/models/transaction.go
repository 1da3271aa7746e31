package models

// SaleTransaction is the plaintext transaction payload sealed into a
// QueueEntry. It exists in cleartext only transiently on the terminal and in
// the reconciliation worker after decryption.
type SaleTransaction struct {
	LocalTransactionID string     `json:"localTransactionId"`
	Currency           string     `json:"currency"`
	TotalAmount        string     `json:"totalAmount"`
	CustomerID         string     `json:"customerId,omitempty"`
	PaymentMethodID    string     `json:"paymentMethodId"`
	Items              []CartItem `json:"items"`
}

// CartItem is one line of the sale.
type CartItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}
