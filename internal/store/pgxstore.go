package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"webhookhub/internal/types"
)

const uniqueViolationCode = "23505"

// PgxStore implements EventStore, DeliveryStore, SourceLookup,
// DestinationLookup, and BreakerStore against the Postgres schema, using
// direct pgxpool queries rather than an ORM — short single-statement
// writes, no hidden N+1 lookups.
type PgxStore struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{Pool: pool}
}

func (s *PgxStore) InsertIfAbsent(ctx context.Context, ev types.Event) (bool, error) {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO events (event_id, source_name, event_type, idempotency_key, payload_json, received_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
	`, ev.ID, ev.SourceName, ev.EventType, ev.IdempotencyKey, ev.PayloadJSON, ev.ReceivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return false, nil
		}
		return false, fmt.Errorf("store: insert event: %w", err)
	}
	return true, nil
}

func (s *PgxStore) Insert(ctx context.Context, d types.Delivery) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO deliveries (delivery_id, event_id, destination_id, status, attempts, max_attempts, created_at)
		VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7)
	`, d.ID, d.EventID, d.DestinationID, string(d.Status), d.Attempts, d.MaxAttempts, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert delivery: %w", err)
	}
	return nil
}

func (s *PgxStore) UpdateStatus(ctx context.Context, id string, status types.DeliveryStatus, attempts int, lastError *string, lastAttemptAt, deliveredAt *time.Time) error {
	cmd, err := s.Pool.Exec(ctx, `
		UPDATE deliveries
		SET status=$2, attempts=$3, last_error=$4, last_attempt_at=$5, delivered_at=$6
		WHERE delivery_id=$1::uuid AND status NOT IN ('DELIVERED','DEAD')
	`, id, string(status), attempts, lastError, lastAttemptAt, deliveredAt)
	if err != nil {
		return fmt.Errorf("store: update delivery status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		// Either the row doesn't exist, or it was already terminal — a
		// rare but expected race, since normally only one message per
		// delivery is ever in flight at a time.
		return nil
	}
	return nil
}

func (s *PgxStore) Get(ctx context.Context, id string) (types.Delivery, error) {
	var d types.Delivery
	var status string
	err := s.Pool.QueryRow(ctx, `
		SELECT delivery_id::text, event_id::text, destination_id::text, status, attempts, max_attempts,
		       last_error, last_attempt_at, delivered_at, created_at
		FROM deliveries WHERE delivery_id=$1::uuid
	`, id).Scan(&d.ID, &d.EventID, &d.DestinationID, &status, &d.Attempts, &d.MaxAttempts,
		&d.LastError, &d.LastAttemptAt, &d.DeliveredAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Delivery{}, ErrNotFound
	}
	if err != nil {
		return types.Delivery{}, fmt.Errorf("store: get delivery: %w", err)
	}
	d.Status = types.DeliveryStatus(status)
	return d, nil
}

func (s *PgxStore) ByName(ctx context.Context, name string) (types.Source, error) {
	var src types.Source
	err := s.Pool.QueryRow(ctx, `
		SELECT source_id::text, name, hmac_secret, active, created_at
		FROM sources WHERE name=$1
	`, name).Scan(&src.ID, &src.Name, &src.HMACSecret, &src.Active, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Source{}, ErrNotFound
	}
	if err != nil {
		return types.Source{}, fmt.Errorf("store: lookup source: %w", err)
	}
	return src, nil
}

func (s *PgxStore) MatchingActive(ctx context.Context, sourceName, eventType string) ([]types.Destination, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT d.destination_id::text, d.name, d.target_url, d.active, d.created_at,
		       d.connect_timeout_s, d.timeout_s, d.verify_tls, d.max_rps, d.burst, d.max_inflight,
		       d.breaker_failure_ratio, d.breaker_min_requests, d.breaker_cooldown_s
		FROM destination_rules r
		JOIN destinations d ON d.destination_id = r.destination_id
		WHERE r.source_name = $1 AND r.event_type = $2 AND d.active = true
	`, sourceName, eventType)
	if err != nil {
		return nil, fmt.Errorf("store: match destinations: %w", err)
	}
	defer rows.Close()
	var out []types.Destination
	for rows.Next() {
		var d types.Destination
		if err := rows.Scan(&d.ID, &d.Name, &d.TargetURL, &d.Active, &d.CreatedAt,
			&d.ConnectTimeoutS, &d.TimeoutS, &d.VerifyTLS, &d.MaxRPS, &d.Burst, &d.MaxInflight,
			&d.BreakerFailureRatio, &d.BreakerMinRequests, &d.BreakerCooldownS); err != nil {
			return nil, fmt.Errorf("store: scan destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PgxStore) ByID(ctx context.Context, id string) (types.Destination, error) {
	var d types.Destination
	err := s.Pool.QueryRow(ctx, `
		SELECT destination_id::text, name, target_url, active, created_at,
		       connect_timeout_s, timeout_s, verify_tls, max_rps, burst, max_inflight,
		       breaker_failure_ratio, breaker_min_requests, breaker_cooldown_s
		FROM destinations WHERE destination_id=$1::uuid
	`, id).Scan(&d.ID, &d.Name, &d.TargetURL, &d.Active, &d.CreatedAt,
		&d.ConnectTimeoutS, &d.TimeoutS, &d.VerifyTLS, &d.MaxRPS, &d.Burst, &d.MaxInflight,
		&d.BreakerFailureRatio, &d.BreakerMinRequests, &d.BreakerCooldownS)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Destination{}, ErrNotFound
	}
	if err != nil {
		return types.Destination{}, fmt.Errorf("store: lookup destination: %w", err)
	}
	return d, nil
}

func (s *PgxStore) OpenUntil(ctx context.Context, destinationID string) (*time.Time, error) {
	var openUntil *time.Time
	err := s.Pool.QueryRow(ctx, `SELECT open_until FROM destination_health WHERE destination_id=$1::uuid`, destinationID).Scan(&openUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: breaker open_until: %w", err)
	}
	return openUntil, nil
}

func (s *PgxStore) RecordSuccess(ctx context.Context, destinationID string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO destination_health(destination_id, success_count) VALUES($1::uuid, 1)
		ON CONFLICT (destination_id) DO UPDATE SET success_count = destination_health.success_count + 1
	`, destinationID)
	if err != nil {
		return fmt.Errorf("store: record success: %w", err)
	}
	return nil
}

func (s *PgxStore) RecordFailure(ctx context.Context, destinationID string, ratio float64, minRequests int, cooldown time.Duration) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO destination_health(destination_id, failure_count) VALUES($1::uuid, 1)
		ON CONFLICT (destination_id) DO UPDATE SET failure_count = destination_health.failure_count + 1
	`, destinationID)
	if err != nil {
		return fmt.Errorf("store: record failure: %w", err)
	}
	var success, failure int
	if err := s.Pool.QueryRow(ctx, `SELECT success_count, failure_count FROM destination_health WHERE destination_id=$1::uuid`, destinationID).Scan(&success, &failure); err != nil {
		return fmt.Errorf("store: read health: %w", err)
	}
	total := success + failure
	if total < minRequests {
		return nil
	}
	if float64(failure)/float64(total) < ratio {
		return nil
	}
	until := time.Now().Add(cooldown)
	if _, err := s.Pool.Exec(ctx, `UPDATE destination_health SET open_until=$2 WHERE destination_id=$1::uuid`, destinationID, until); err != nil {
		return fmt.Errorf("store: open breaker: %w", err)
	}
	return nil
}
