// Package breaker implements a per-destination circuit breaker: when a
// destination is consistently failing, stop sending HTTP attempts to it
// for a cooldown window and instead defer the job via the retry queue.
package breaker

import (
	"context"
	"time"

	"webhookhub/internal/store"
	"webhookhub/internal/types"
)

// Breaker consults and updates per-destination health counters.
type Breaker struct {
	store store.BreakerStore
}

func New(s store.BreakerStore) *Breaker {
	return &Breaker{store: s}
}

// Open reports whether the destination's breaker is currently open, and
// until when.
func (b *Breaker) Open(ctx context.Context, destinationID string) (bool, time.Time, error) {
	until, err := b.store.OpenUntil(ctx, destinationID)
	if err != nil {
		return false, time.Time{}, err
	}
	if until == nil || !until.After(time.Now()) {
		return false, time.Time{}, nil
	}
	return true, *until, nil
}

// RecordOutcome updates the health counters for a destination and opens
// the breaker if the failure ratio crosses the destination's configured
// threshold over its configured minimum sample size.
func (b *Breaker) RecordOutcome(ctx context.Context, d types.Destination, success bool) error {
	if success {
		return b.store.RecordSuccess(ctx, d.ID)
	}
	cooldown := time.Duration(d.BreakerCooldownS) * time.Second
	return b.store.RecordFailure(ctx, d.ID, d.BreakerFailureRatio, int(d.BreakerMinRequests), cooldown)
}
