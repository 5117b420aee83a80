// Package consumer implements the delivery consumer state machine
// (Received → Decoded → Attempted → Settled): pick work, load the
// destination, check the breaker, check the rate limit, attempt delivery,
// branch on outcome, update the store — all driven by AMQP delivery,
// ack, and nack rather than polling a queue table.
package consumer

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"webhookhub/internal/backoff"
	"webhookhub/internal/broker"
	"webhookhub/internal/deliveryclient"
	"webhookhub/internal/logging"
	"webhookhub/internal/store"
	"webhookhub/internal/types"
)

// DestinationLoader resolves the Destination a job targets, so the
// consumer can apply its rate limit, breaker, and delivery-client tuning.
// In production this is backed by the same Postgres store; tests can
// supply a map-backed fake.
type DestinationLoader interface {
	ByID(ctx context.Context, id string) (types.Destination, error)
}

// JobPublisher is the publish capability the consumer depends on —
// satisfied by *broker.Publisher in production, and by an in-memory fake
// in tests so state-machine tests don't need a real broker connection.
type JobPublisher interface {
	PublishRetry(ctx context.Context, job types.DeliveryJob, delayMS int64) error
	PublishDLX(ctx context.Context, job types.DeliveryJob) error
}

// Consumer drives the main queue. Prefetch is enforced by the AMQP channel
// QoS before Consumer.Run starts receiving; see cmd/webhookhub for wiring.
type Consumer struct {
	Publisher   JobPublisher
	Deliveries  store.DeliveryStore
	Destination DestinationLoader
	Poster      deliveryclient.Poster
	Limiter     RateLimiter
	Breaker     BreakerChecker
	Backoff     backoff.Policy
	MaxAttempts int
	Logger      logging.Logger
}

// RateLimiter is the subset of *ratelimit.Limiter the consumer depends on.
type RateLimiter interface {
	Allow(ctx context.Context, dest types.Destination) (bool, int64, error)
	Done(ctx context.Context, dest types.Destination)
}

// BreakerChecker is the subset of *breaker.Breaker the consumer depends on.
type BreakerChecker interface {
	Open(ctx context.Context, destinationID string) (bool, time.Time, error)
	RecordOutcome(ctx context.Context, d types.Destination, success bool) error
}

// Run consumes from the main queue until ctx is cancelled, processing one
// message at a time per goroutine — callers spin up Prefetch goroutines
// each running Run over the same channel's delivery stream to get bounded
// concurrency. In-flight deliveries never coordinate directly with each
// other, only through the stores and the broker.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

// handle processes exactly one message. It is never acked before its
// outcome is durably written to the delivery store.
func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	job, err := broker.DecodeJob(msg.Body)
	if err != nil {
		c.Logger.Error("decode_failed", "error", err)
		_ = msg.Reject(false)
		return
	}

	dest, err := c.Destination.ByID(ctx, job.DestinationID)
	if err != nil {
		c.Logger.Error("destination_load_failed", "delivery_id", job.DeliveryID, "error", err)
		_ = msg.Reject(false)
		return
	}

	if open, until, err := c.Breaker.Open(ctx, dest.ID); err != nil {
		c.Logger.Error("breaker_check_failed", "delivery_id", job.DeliveryID, "error", err)
		_ = msg.Reject(false)
		return
	} else if open {
		if err := c.deferJob(ctx, job, time.Until(until).Milliseconds()); err != nil {
			c.Logger.Error("breaker_defer_failed", "delivery_id", job.DeliveryID, "error", err)
			_ = msg.Reject(false)
			return
		}
		_ = msg.Ack(false)
		return
	}

	if c.Limiter != nil {
		allowed, waitMS, err := c.Limiter.Allow(ctx, dest)
		if err != nil {
			c.Logger.Error("rate_limit_check_failed", "delivery_id", job.DeliveryID, "error", err)
			_ = msg.Reject(false)
			return
		}
		if !allowed {
			if err := c.deferJob(ctx, job, waitMS); err != nil {
				c.Logger.Error("rate_limit_defer_failed", "delivery_id", job.DeliveryID, "error", err)
				_ = msg.Reject(false)
				return
			}
			_ = msg.Ack(false)
			return
		}
		defer c.Limiter.Done(ctx, dest)
	}

	outcome := c.Poster.Post(ctx, deliveryclient.TargetFromDestination(dest), []byte(job.PayloadJSON))
	now := time.Now()

	switch {
	case outcome.Kind == deliveryclient.Success:
		if err := c.Deliveries.UpdateStatus(ctx, job.DeliveryID, types.DeliveryDelivered, job.Attempt, nil, &now, &now); err != nil {
			c.Logger.Error("status_write_failed", "delivery_id", job.DeliveryID, "error", err)
			_ = msg.Reject(false)
			return
		}
		_ = c.Breaker.RecordOutcome(ctx, dest, true)
		_ = msg.Ack(false)

	case outcome.Kind == deliveryclient.RetryableFailure && job.Attempt < c.maxAttempts(job):
		next := job.Attempt + 1
		delayMS := c.Backoff.Delay(job.Attempt)
		msgText := outcome.Msg
		if err := c.Deliveries.UpdateStatus(ctx, job.DeliveryID, types.DeliveryRetrying, next, &msgText, &now, nil); err != nil {
			c.Logger.Error("status_write_failed", "delivery_id", job.DeliveryID, "error", err)
			_ = msg.Reject(false)
			return
		}
		retryJob := job
		retryJob.Attempt = next
		if err := c.Publisher.PublishRetry(ctx, retryJob, delayMS); err != nil {
			// If the retry-queue publish fails, take the unhandled-failure
			// path: reject without requeue. The row is already RETRYING
			// with the next attempt number, so redelivery (or
			// dead-lettering) of this message loses no progress.
			c.Logger.Error("retry_publish_failed", "delivery_id", job.DeliveryID, "error", err)
			_ = msg.Reject(false)
			return
		}
		_ = c.Breaker.RecordOutcome(ctx, dest, false)
		_ = msg.Ack(false)

	default:
		msgText := outcome.Msg
		if err := c.Deliveries.UpdateStatus(ctx, job.DeliveryID, types.DeliveryDead, job.Attempt, &msgText, &now, nil); err != nil {
			c.Logger.Error("status_write_failed", "delivery_id", job.DeliveryID, "error", err)
			_ = msg.Reject(false)
			return
		}
		if err := c.Publisher.PublishDLX(ctx, job); err != nil {
			c.Logger.Error("dlx_publish_failed", "delivery_id", job.DeliveryID, "error", err)
			_ = msg.Reject(false)
			return
		}
		_ = c.Breaker.RecordOutcome(ctx, dest, false)
		// Not nack: DLQ routing here is application-driven (the job was
		// published to the DLX above), so the original message is acked
		// after that publish succeeds.
		_ = msg.Ack(false)
	}
}

func (c *Consumer) maxAttempts(job types.DeliveryJob) int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return 5
}

// deferJob republishes the job to the retry queue unchanged (same attempt
// number) with delayMS as the TTL — used for breaker-open and
// rate-limit-denied deferrals, which are flow control, not delivery
// attempts, and so do not increment attempts or touch the delivery row.
func (c *Consumer) deferJob(ctx context.Context, job types.DeliveryJob, delayMS int64) error {
	if delayMS <= 0 {
		delayMS = 100
	}
	if err := c.Publisher.PublishRetry(ctx, job, delayMS); err != nil {
		return fmt.Errorf("consumer: defer job: %w", err)
	}
	return nil
}
