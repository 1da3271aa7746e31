// Package stream is the Redis Streams wake-up channel between the upload
// endpoint and the reconciliation worker. The stream is a latency
// optimization only; the worker's poll loop remains the source of truth, so
// a lost message delays a record, it never strands one.
package stream

import (
	"context"

	"github.com/redis/rueidis"
	"github.com/villagecompute/posoffline/internal/logging"
)

// Notifier announces newly inserted reconciliation records.
type Notifier interface {
	// NotifyUploaded publishes a wake-up for one idempotency key.
	// Best-effort: errors are logged, never propagated to the upload path.
	NotifyUploaded(ctx context.Context, idempotencyKey string)
}

// RedisNotifier publishes wake-ups with XADD.
type RedisNotifier struct {
	client rueidis.Client
	stream string
	logger logging.Logger
}

func NewRedisNotifier(client rueidis.Client, stream string, logger logging.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, stream: stream, logger: logger.With("module", "stream")}
}

func (n *RedisNotifier) NotifyUploaded(ctx context.Context, idempotencyKey string) {
	cmd := n.client.B().Xadd().Key(n.stream).Id("*").
		FieldValue().FieldValue("idempotency_key", idempotencyKey).
		Build()

	if err := n.client.Do(ctx, cmd).Error(); err != nil {
		n.logger.Warn(ctx, "wake-up publish failed", "error", err.Error())
	}
}

// NoopNotifier drops wake-ups. Used when Redis is not configured and in
// tests; the worker's poll loop still picks records up.
type NoopNotifier struct{}

func (NoopNotifier) NotifyUploaded(context.Context, string) {}

// Consumer reads wake-ups from the stream via a consumer group, so several
// worker instances share one backlog.
type Consumer struct {
	client   rueidis.Client
	stream   string
	group    string
	consumer string
	logger   logging.Logger
}

func NewConsumer(client rueidis.Client, stream, group, consumer string, logger logging.Logger) *Consumer {
	return &Consumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		logger:   logger.With("module", "stream"),
	}
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) {
	cmd := c.client.B().XgroupCreate().Key(c.stream).Group(c.group).Id("0").Mkstream().Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		// BUSYGROUP on restart is the normal case
		c.logger.Info(ctx, "consumer group create", "result", err.Error())
	}
}

// Wait blocks up to blockMillis for a wake-up and acknowledges everything it
// reads. Returns true when at least one message arrived. The message content
// is irrelevant; arrival alone triggers a claim pass.
func (c *Consumer) Wait(ctx context.Context, blockMillis int64) bool {
	readCmd := c.client.B().Xreadgroup().Group(c.group, c.consumer).
		Count(64).
		Block(blockMillis).
		Streams().
		Key(c.stream).
		Id(">").
		Build()

	result := c.client.Do(ctx, readCmd)
	if err := result.Error(); err != nil {
		if !rueidis.IsRedisNil(err) && ctx.Err() == nil {
			c.logger.Warn(ctx, "stream read failed", "error", err.Error())
		}
		return false
	}

	streams, err := result.AsXRead()
	if err != nil {
		c.logger.Warn(ctx, "stream decode failed", "error", err.Error())
		return false
	}

	got := false
	for _, messages := range streams {
		for _, message := range messages {
			got = true
			ackCmd := c.client.B().Xack().Key(c.stream).Group(c.group).Id(message.ID).Build()
			if err := c.client.Do(ctx, ackCmd).Error(); err != nil {
				c.logger.Warn(ctx, "stream ack failed", "message_id", message.ID, "error", err.Error())
			}
		}
	}
	return got
}
