package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhookhub/internal/logging"
	"webhookhub/internal/store"
	"webhookhub/internal/types"
)

type fakePublisher struct {
	published []types.DeliveryJob
}

func (f *fakePublisher) PublishMain(ctx context.Context, job types.DeliveryJob) error {
	f.published = append(f.published, job)
	return nil
}

// sign computes the same hex(HMAC-SHA256(secret, body)) that
// internal/hmacsig.Verify recomputes, for building test fixtures.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newPipeline(t *testing.T) (*Pipeline, *store.MemStore, *fakePublisher) {
	t.Helper()
	mem := store.NewMemStore()
	pub := &fakePublisher{}
	p := &Pipeline{
		Sources:      mem,
		Destinations: mem,
		Events:       mem,
		Deliveries:   mem,
		Publisher:    pub,
		Logger:       logging.New("test"),
	}
	return p, mem, pub
}

// fakeDedupe is an in-memory stand-in for the Redis fast-path cache. It
// mirrors the production Cache's peek/claim split: Seen never has a side
// effect, and only Claim marks a fingerprint as seen.
type fakeDedupe struct {
	claimed map[string]bool
	hits    int
	claims  int
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{claimed: map[string]bool{}}
}

func (f *fakeDedupe) Seen(ctx context.Context, fingerprint string) bool {
	if f.claimed[fingerprint] {
		f.hits++
		return true
	}
	return false
}

func (f *fakeDedupe) Claim(ctx context.Context, fingerprint string) {
	f.claims++
	f.claimed[fingerprint] = true
}

func TestIngestHappyPath(t *testing.T) {
	p, mem, pub := newPipeline(t)
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})
	mem.SeedDestination(types.Destination{ID: "dest-1", Name: "d1", TargetURL: "https://example.test/hook", Active: true})
	mem.SeedRule(types.DestinationRule{ID: "r1", DestinationID: "dest-1", SourceName: "github", EventType: "push"})

	body := []byte(`{"test":true}`)
	sig := sign("s3cr3t", body)

	deliveries, err := p.Ingest(context.Background(), "github", "push", body, sig)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, types.DeliveryPending, deliveries[0].Status)
	require.Len(t, pub.published, 1)
	assert.Equal(t, 1, pub.published[0].Attempt)
	assert.Equal(t, `{"test":true}`, pub.published[0].PayloadJSON)
}

func TestIngestIdempotent(t *testing.T) {
	p, mem, pub := newPipeline(t)
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})
	mem.SeedDestination(types.Destination{ID: "dest-1", Name: "d1", TargetURL: "https://example.test/hook", Active: true})
	mem.SeedRule(types.DestinationRule{ID: "r1", DestinationID: "dest-1", SourceName: "github", EventType: "push"})

	body := []byte(`{"test":true}`)
	sig := sign("s3cr3t", body)

	first, err := p.Ingest(context.Background(), "github", "push", body, sig)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := p.Ingest(context.Background(), "github", "push", body, sig)
	require.NoError(t, err)
	assert.Empty(t, second, "duplicate submission must return an empty delivery list")

	assert.Len(t, pub.published, 1, "duplicate submission must not publish a second job")
}

func TestIngestDedupeFastPathSkipsEventStore(t *testing.T) {
	p, mem, pub := newPipeline(t)
	dedupe := newFakeDedupe()
	p.Dedupe = dedupe
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})
	mem.SeedDestination(types.Destination{ID: "dest-1", Name: "d1", TargetURL: "https://example.test/hook", Active: true})
	mem.SeedRule(types.DestinationRule{ID: "r1", DestinationID: "dest-1", SourceName: "github", EventType: "push"})

	body := []byte(`{"test":true}`)
	sig := sign("s3cr3t", body)

	first, err := p.Ingest(context.Background(), "github", "push", body, sig)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 0, dedupe.hits, "first submission must not register as a cache hit")

	second, err := p.Ingest(context.Background(), "github", "push", body, sig)
	require.NoError(t, err)
	assert.Empty(t, second, "cache-claimed fingerprint must short-circuit to an empty result")
	assert.Equal(t, 1, dedupe.hits, "second submission must be caught by the fast-path cache")
	assert.Len(t, pub.published, 1, "fast-path duplicate must not publish a second job")
}

// failOnceEvents wraps an EventStore and fails the first InsertIfAbsent
// call with a transient error, succeeding on every call after.
type failOnceEvents struct {
	store.EventStore
	failed bool
}

func (f *failOnceEvents) InsertIfAbsent(ctx context.Context, ev types.Event) (bool, error) {
	if !f.failed {
		f.failed = true
		return false, errors.New("connection reset")
	}
	return f.EventStore.InsertIfAbsent(ctx, ev)
}

func TestIngestStorageErrorDoesNotClaimDedupeKey(t *testing.T) {
	mem := store.NewMemStore()
	pub := &fakePublisher{}
	dedupe := newFakeDedupe()
	p := &Pipeline{
		Sources:      mem,
		Destinations: mem,
		Events:       &failOnceEvents{EventStore: mem},
		Deliveries:   mem,
		Publisher:    pub,
		Dedupe:       dedupe,
		Logger:       logging.New("test"),
	}
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})
	mem.SeedDestination(types.Destination{ID: "dest-1", Name: "d1", TargetURL: "https://example.test/hook", Active: true})
	mem.SeedRule(types.DestinationRule{ID: "r1", DestinationID: "dest-1", SourceName: "github", EventType: "push"})

	body := []byte(`{"test":true}`)
	sig := sign("s3cr3t", body)

	// First attempt hits the transient InsertIfAbsent failure. The event
	// was never durably stored, so the dedupe cache must not have claimed
	// the fingerprint.
	_, err := p.Ingest(context.Background(), "github", "push", body, sig)
	requireKind(t, err, KindStorage)
	assert.Equal(t, 0, dedupe.claims, "a failed insert must never claim the dedupe key")
	assert.Empty(t, pub.published)

	// The caller's required retry of the same webhook must reach
	// Postgres again rather than being silently swallowed by a falsely
	// claimed cache key.
	second, err := p.Ingest(context.Background(), "github", "push", body, sig)
	require.NoError(t, err)
	require.Len(t, second, 1, "the retried submission must actually be recorded, not dropped")
	assert.Len(t, pub.published, 1)
	assert.Equal(t, 1, dedupe.claims, "the successful insert must claim the dedupe key exactly once")
}

func TestIngestValidationErrors(t *testing.T) {
	p, mem, _ := newPipeline(t)
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})

	_, err := p.Ingest(context.Background(), "github", "", []byte("{}"), "anything")
	requireKind(t, err, KindValidation)
}

func TestIngestSourceNotFound(t *testing.T) {
	p, _, _ := newPipeline(t)
	_, err := p.Ingest(context.Background(), "unknown", "push", []byte("{}"), "sig")
	requireKind(t, err, KindSourceNotFound)
}

func TestIngestSourceInactive(t *testing.T) {
	p, mem, _ := newPipeline(t)
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: false})
	_, err := p.Ingest(context.Background(), "github", "push", []byte("{}"), "sig")
	requireKind(t, err, KindSourceInactive)
}

func TestIngestMissingSignature(t *testing.T) {
	p, mem, _ := newPipeline(t)
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})
	_, err := p.Ingest(context.Background(), "github", "push", []byte("{}"), "")
	requireKind(t, err, KindMissingSignature)
}

func TestIngestInvalidSignature(t *testing.T) {
	p, mem, _ := newPipeline(t)
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})
	_, err := p.Ingest(context.Background(), "github", "push", []byte("{}"), "deadbeef")
	requireKind(t, err, KindInvalidSignature)
}

func TestIngestNoMatchingDestinationsReturnsEmpty(t *testing.T) {
	p, mem, pub := newPipeline(t)
	mem.SeedSource(types.Source{ID: "src-1", Name: "github", HMACSecret: "s3cr3t", Active: true})
	body := []byte(`{"test":true}`)
	sig := sign("s3cr3t", body)

	deliveries, err := p.Ingest(context.Background(), "github", "push", body, sig)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
	assert.Empty(t, pub.published)
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, kind, ierr.Kind)
}
