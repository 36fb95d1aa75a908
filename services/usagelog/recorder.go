package usagelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/inference-router/services/router"
)

// Recorder persists served requests to PostgreSQL for reporting. It
// implements router.UsageRecorder.
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder creates a usage recorder backed by the given database
func NewRecorder(db *sql.DB, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger,
	}
}

// Record inserts one usage record
func (r *Recorder) Record(ctx context.Context, rec router.UsageRecord) error {
	query := `
		INSERT INTO usage_records (request_id, model_id, provider, tokens, cost, latency_ms, fallback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.RequestID, rec.ModelID, rec.Provider, rec.Tokens, rec.Cost, rec.LatencyMs, rec.Fallback, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// ModelTotals aggregates usage for one model over a period
type ModelTotals struct {
	ModelID  string  `json:"model_id"`
	Requests int     `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// TotalsSince returns per-model usage aggregates for records newer than
// the given time
func (r *Recorder) TotalsSince(ctx context.Context, since time.Time) ([]ModelTotals, error) {
	query := `
		SELECT model_id, COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE created_at >= $1
		GROUP BY model_id
		ORDER BY model_id
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	defer rows.Close()

	var totals []ModelTotals
	for rows.Next() {
		var t ModelTotals
		if err := rows.Scan(&t.ModelID, &t.Requests, &t.Tokens, &t.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan usage totals: %w", err)
		}
		totals = append(totals, t)
	}

	return totals, rows.Err()
}

// CleanupOldRecords removes records older than the retention period to
// keep the table size manageable
func (r *Recorder) CleanupOldRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup usage records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("cleaned up old usage records",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff", cutoff))

	return rowsAffected, nil
}

// StartCleanupWorker periodically deletes records past the retention
// period until the context is canceled
func (r *Recorder) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("started usage log cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := r.CleanupOldRecords(ctx, retention); err != nil {
				r.logger.Error("failed to cleanup usage records", zap.Error(err))
			}
		case <-ctx.Done():
			r.logger.Info("stopping usage log cleanup worker")
			return
		}
	}
}
