// Package retention periodically deletes old events that have no
// deliveries still in flight, together with their settled delivery rows,
// so the event table doesn't grow without bound in a long-running
// deployment.
package retention

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"webhookhub/internal/logging"
)

const defaultRetentionDays = 7

// Run blocks, sweeping once an hour until ctx is cancelled.
func Run(ctx context.Context, pool *pgxpool.Pool, logger logging.Logger) {
	days := defaultRetentionDays
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, pool, logger, days)
		}
	}
}

func sweep(ctx context.Context, pool *pgxpool.Pool, logger logging.Logger, days int) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	cmd, err := pool.Exec(ctx, `
		WITH expired AS (
			SELECT e.event_id FROM events e
			WHERE e.received_at < $1
			  AND NOT EXISTS (
			    SELECT 1 FROM deliveries d
			    WHERE d.event_id = e.event_id
			      AND d.status IN ('PENDING', 'RETRYING')
			  )
		), settled AS (
			DELETE FROM deliveries d
			WHERE d.event_id IN (SELECT event_id FROM expired)
		)
		DELETE FROM events e
		WHERE e.event_id IN (SELECT event_id FROM expired)
	`, cutoff)
	if err != nil {
		logger.Error("retention_sweep_failed", "error", err)
		return
	}
	if cmd.RowsAffected() > 0 {
		logger.KV("retention_swept", "rows", cmd.RowsAffected())
	}
}
