// Package store defines the capability contracts for webhookhub's row
// stores and a pgx-backed implementation. Tests substitute in-memory
// fakes implementing the same interfaces — no inheritance hierarchy,
// just narrow contracts.
package store

import (
	"context"
	"time"

	"webhookhub/internal/types"
)

// EventStore is content-addressed idempotent event persistence.
type EventStore interface {
	// InsertIfAbsent inserts the event unless a row with the same
	// (source_name, idempotency_key) already exists, in which case it
	// returns inserted=false and no error. The method must be called
	// inside a transaction boundary the implementation controls.
	InsertIfAbsent(ctx context.Context, ev types.Event) (inserted bool, err error)
}

// DeliveryStore holds delivery records keyed by UUID.
type DeliveryStore interface {
	Insert(ctx context.Context, d types.Delivery) error

	// UpdateStatus performs a conditional transition: it only applies
	// when the current status is not already terminal (DELIVERED or
	// DEAD), rejecting stale updates.
	UpdateStatus(ctx context.Context, id string, status types.DeliveryStatus, attempts int, lastError *string, lastAttemptAt, deliveredAt *time.Time) error

	Get(ctx context.Context, id string) (types.Delivery, error)
}

// SourceLookup is the read-only lookup surface for sources.
type SourceLookup interface {
	// ByName returns the active-or-not source with the given name, or
	// ErrNotFound if no such source exists.
	ByName(ctx context.Context, name string) (types.Source, error)
}

// DestinationLookup is the read-only lookup surface for destinations and
// their routing rules.
type DestinationLookup interface {
	// MatchingActive returns every active destination whose rules match
	// (sourceName, eventType).
	MatchingActive(ctx context.Context, sourceName, eventType string) ([]types.Destination, error)

	// ByID returns the destination with the given ID, or ErrNotFound.
	ByID(ctx context.Context, id string) (types.Destination, error)
}

// BreakerStore backs internal/breaker's circuit-breaker state.
type BreakerStore interface {
	OpenUntil(ctx context.Context, destinationID string) (*time.Time, error)
	RecordSuccess(ctx context.Context, destinationID string) error
	RecordFailure(ctx context.Context, destinationID string, ratio float64, minRequests int, cooldown time.Duration) error
}
