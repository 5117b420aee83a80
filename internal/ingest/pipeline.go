// Package ingest implements the ingest pipeline that authenticates a
// webhook, records it exactly once, and fans it out into one pending
// delivery per matching active destination.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"webhookhub/internal/broker"
	"webhookhub/internal/dedupe"
	"webhookhub/internal/hmacsig"
	"webhookhub/internal/logging"
	"webhookhub/internal/store"
	"webhookhub/internal/types"
)

const defaultMaxAttempts = 5

// Publisher is the publish capability the ingest pipeline depends on.
type Publisher interface {
	PublishMain(ctx context.Context, job types.DeliveryJob) error
}

// Deduper is the Redis fast-path idempotency cache. Optional: when nil,
// the pipeline relies solely on Postgres's unique constraint. Claim must
// only ever be called after the matching Postgres insert has committed —
// see internal/dedupe for why.
type Deduper interface {
	Seen(ctx context.Context, fingerprint string) bool
	Claim(ctx context.Context, fingerprint string)
}

// Pipeline authenticates a webhook, deduplicates it, and enqueues one
// delivery job per matching destination.
type Pipeline struct {
	Sources      store.SourceLookup
	Destinations store.DestinationLookup
	Events       store.EventStore
	Deliveries   store.DeliveryStore
	Publisher    Publisher
	Dedupe       Deduper
	Logger       logging.Logger
}

// Ingest runs the full pipeline. Preconditions are checked in order and
// the first failure short-circuits the rest.
func (p *Pipeline) Ingest(ctx context.Context, sourceName, eventType string, rawBody []byte, suppliedSig string) ([]types.Delivery, error) {
	if eventType == "" {
		return nil, validationErr("event_type must not be blank")
	}

	src, err := p.Sources.ByName(ctx, sourceName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, sourceNotFoundErr()
		}
		return nil, storageErr("lookup source", err)
	}
	if !src.Active {
		return nil, sourceInactiveErr()
	}
	if suppliedSig == "" {
		return nil, missingSignatureErr()
	}
	if !hmacsig.Verify(src.HMACSecret, rawBody, suppliedSig) {
		return nil, invalidSignatureErr()
	}

	idempotencyKey := fingerprint(sourceName, eventType, rawBody)
	dedupeKey := sourceName + "/" + idempotencyKey

	if p.Dedupe != nil && p.Dedupe.Seen(ctx, dedupeKey) {
		// A prior call already got its insert committed to Postgres and
		// claimed this fingerprint — skip the Postgres round trip entirely
		// for this common case.
		return []types.Delivery{}, nil
	}

	ev := types.Event{
		ID:             uuid.Must(uuid.NewV4()).String(),
		SourceName:     sourceName,
		EventType:      eventType,
		IdempotencyKey: idempotencyKey,
		PayloadJSON:    string(rawBody),
		ReceivedAt:     time.Now(),
	}

	inserted, err := p.Events.InsertIfAbsent(ctx, ev)
	if err != nil {
		return nil, storageErr("insert event", err)
	}
	if !inserted {
		// Idempotent: a duplicate fingerprint is a successful no-op, not
		// an error. No new rows, no new jobs.
		return []types.Delivery{}, nil
	}

	if p.Dedupe != nil {
		// Only claim the fast-path key once the insert is durably
		// committed, so a transient failure before this point can never
		// strand the fingerprint as "seen" for an event that was never
		// recorded.
		p.Dedupe.Claim(ctx, dedupeKey)
	}

	destinations, err := p.Destinations.MatchingActive(ctx, sourceName, eventType)
	if err != nil {
		return nil, storageErr("match destinations", err)
	}

	deliveries := make([]types.Delivery, 0, len(destinations))
	for _, dest := range destinations {
		d := types.Delivery{
			ID:            uuid.Must(uuid.NewV4()).String(),
			EventID:       ev.ID,
			DestinationID: dest.ID,
			Status:        types.DeliveryPending,
			Attempts:      0,
			MaxAttempts:   defaultMaxAttempts,
			CreatedAt:     time.Now(),
		}
		if err := p.Deliveries.Insert(ctx, d); err != nil {
			return nil, storageErr("insert delivery", err)
		}
		job := types.DeliveryJob{
			DeliveryID:    d.ID,
			EventID:       ev.ID,
			DestinationID: dest.ID,
			TargetURL:     dest.TargetURL,
			PayloadJSON:   ev.PayloadJSON,
			Attempt:       1,
		}
		if err := p.Publisher.PublishMain(ctx, job); err != nil {
			return nil, brokerErr("publish delivery job", err)
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

func fingerprint(sourceName, eventType string, rawBody []byte) string {
	h := sha256.New()
	h.Write([]byte(sourceName))
	h.Write([]byte(eventType))
	h.Write(rawBody)
	return hex.EncodeToString(h.Sum(nil))
}

// Ensure broker.Publisher satisfies Publisher, and dedupe.Cache satisfies
// Deduper, at compile time.
var (
	_ Publisher = (*broker.Publisher)(nil)
	_ Deduper   = (*dedupe.Cache)(nil)
)
