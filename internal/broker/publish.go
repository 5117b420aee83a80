package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"webhookhub/internal/types"
)

// Publisher publishes DeliveryJob messages to the three destinations the
// delivery pipeline needs: the main exchange (ingest fan-out and
// dead-letter-back re-entry), the retry queue (via the default exchange),
// and the DLX.
type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// PublishMain publishes a DeliveryJob to the main exchange with the
// delivery routing key, persistent delivery mode. Used by the ingest
// pipeline for the first attempt of every delivery.
func (p *Publisher) PublishMain(ctx context.Context, job types.DeliveryJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("broker: marshal job: %w", err)
	}
	return p.ch.PublishWithContext(ctx, MainExchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// PublishRetry republishes a DeliveryJob to the retry queue via the
// default exchange, with a per-message expiration of delayMS milliseconds.
// Used by the consumer on a retryable failure.
func (p *Publisher) PublishRetry(ctx context.Context, job types.DeliveryJob, delayMS int64) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("broker: marshal job: %w", err)
	}
	return p.ch.PublishWithContext(ctx, "", RetryQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(delayMS, 10),
		Body:         body,
	})
}

// PublishDLX publishes a DeliveryJob to the dead-letter exchange. Used by
// the consumer on terminal failure.
func (p *Publisher) PublishDLX(ctx context.Context, job types.DeliveryJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("broker: marshal job: %w", err)
	}
	return p.ch.PublishWithContext(ctx, DLX, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// DecodeJob decodes a DeliveryJob from a raw message body. Unknown fields
// are tolerated — encoding/json already ignores fields with no matching
// struct tag.
func DecodeJob(body []byte) (types.DeliveryJob, error) {
	var job types.DeliveryJob
	if err := json.Unmarshal(body, &job); err != nil {
		return types.DeliveryJob{}, fmt.Errorf("broker: decode job: %w", err)
	}
	return job, nil
}
