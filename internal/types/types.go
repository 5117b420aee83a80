// Package types holds the entity and wire-message shapes shared across
// webhookhub's ingest and delivery paths.
package types

import "time"

// Source is a registered external system that sends webhooks. Read-only
// to the ingest/consumer core; managed via the admin surface.
type Source struct {
	ID         string
	Name       string
	HMACSecret string
	Active     bool
	CreatedAt  time.Time
}

// Destination is an HTTP endpoint that receives webhook bodies.
type Destination struct {
	ID        string
	Name      string
	TargetURL string
	Active    bool
	CreatedAt time.Time

	// Destination-level tuning kept inline on the row rather than split
	// into a separate config table.
	ConnectTimeoutS     int32
	TimeoutS            int32
	VerifyTLS           bool
	MaxRPS              float64
	Burst               int32
	MaxInflight         int32
	BreakerFailureRatio float64
	BreakerMinRequests  int32
	BreakerCooldownS    int32
}

// DestinationRule selects which destinations receive which (source, event
// type) pairs. unique(destination_id, source_name, event_type).
type DestinationRule struct {
	ID            string
	DestinationID string
	SourceName    string
	EventType     string
}

// Event is a deduplicated ingest record, one per unique
// (source_name, idempotency_key).
type Event struct {
	ID             string
	SourceName     string
	EventType      string
	IdempotencyKey string
	PayloadJSON    string
	ReceivedAt     time.Time
}

// DeliveryStatus is the tagged variant of a Delivery's lifecycle state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryRetrying  DeliveryStatus = "RETRYING"
	DeliveryDead      DeliveryStatus = "DEAD"
)

// Delivery is one pending/complete attempt to push one Event to one
// Destination. unique(event_id, destination_id).
type Delivery struct {
	ID            string
	EventID       string
	DestinationID string
	Status        DeliveryStatus
	Attempts      int
	MaxAttempts   int
	LastError     *string
	LastAttemptAt *time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}

// Terminal reports whether the delivery is in a state that must never be
// mutated again.
func (d Delivery) Terminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryDead
}

// DeliveryJob is the wire message that drives the consumer. It is never
// persisted directly; it is serialized to JSON for the broker.
//
// PayloadJSON carries the raw inbound webhook body verbatim, as a string —
// never re-encoded as a nested JSON value. Round-trip byte-equivalence
// through the retry queue depends on this staying a string field.
type DeliveryJob struct {
	DeliveryID    string `json:"deliveryId"`
	EventID       string `json:"eventId"`
	DestinationID string `json:"destinationId"`
	TargetURL     string `json:"targetUrl"`
	PayloadJSON   string `json:"payloadJson"`
	Attempt       int    `json:"attempt"`
}
