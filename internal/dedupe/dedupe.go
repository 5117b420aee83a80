// Package dedupe implements the Redis-backed idempotency fast-path cache:
// a read-through cache of event fingerprints that have already been
// durably recorded in Postgres, letting the ingest pipeline recognize an
// exact duplicate redelivery without a second round trip to the database.
// The cache is populated only after Postgres confirms the insert, never
// before — so a transient storage failure between the two can never leave
// a fingerprint marked "seen" for an event that was never actually stored.
// Postgres's unique (source_name, idempotency_key) constraint remains the
// sole source of truth; a cache miss, a cache outage, or any Redis error
// always falls through to it.
package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// Cache is the Redis-backed idempotency fast-path cache keyed by event
// fingerprint.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb, ttl: defaultTTL}
}

// Seen reports whether fingerprint has already been claimed by a prior
// successful Claim call, within the TTL window. It is read-only: a miss
// here never prevents the caller from proceeding to Postgres, and any
// Redis error is treated as "not seen" so a cache outage degrades to
// relying solely on the database constraint rather than rejecting or
// dropping ingestion.
func (c *Cache) Seen(ctx context.Context, fingerprint string) bool {
	n, err := c.rdb.Exists(ctx, "dedupe:"+fingerprint).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Claim marks fingerprint as seen for the TTL window. Callers must only
// call Claim after the corresponding Postgres insert has been durably
// committed — claiming ahead of that write would let a later transient
// storage failure strand the fingerprint as "seen" for an event that was
// never actually recorded. A Redis error here is non-fatal: it just means
// the next retry of the same webhook pays the Postgres round trip instead
// of hitting the fast path, which is always safe.
func (c *Cache) Claim(ctx context.Context, fingerprint string) {
	_ = c.rdb.Set(ctx, "dedupe:"+fingerprint, 1, c.ttl).Err()
}
