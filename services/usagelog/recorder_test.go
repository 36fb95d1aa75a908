package usagelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/inference-router/services/router"
)

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRecorder(db, zap.NewNop()), mock
}

func TestRecorder_Record(t *testing.T) {
	rec, mock := newMockRecorder(t)

	usage := router.UsageRecord{
		RequestID: "req-123",
		ModelID:   "gpt-4o",
		Provider:  "openai",
		Tokens:    42,
		Cost:      0.084,
		LatencyMs: 350,
		Fallback:  false,
	}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO usage_records").
			WithArgs(usage.RequestID, usage.ModelID, usage.Provider, usage.Tokens, usage.Cost, usage.LatencyMs, usage.Fallback, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, rec.Record(context.Background(), usage))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO usage_records").
			WillReturnError(errors.New("connection lost"))

		err := rec.Record(context.Background(), usage)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert usage record")
	})
}

func TestRecorder_TotalsSince(t *testing.T) {
	rec, mock := newMockRecorder(t)
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("aggregates per model", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"model_id", "count", "tokens", "cost"}).
			AddRow("claude-3-5-sonnet", 5, 1200, 0.6).
			AddRow("gpt-4o", 10, 4200, 8.4)

		mock.ExpectQuery("SELECT model_id, COUNT").
			WithArgs(since).
			WillReturnRows(rows)

		totals, err := rec.TotalsSince(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, totals, 2)
		assert.Equal(t, "claude-3-5-sonnet", totals[0].ModelID)
		assert.Equal(t, 5, totals[0].Requests)
		assert.Equal(t, int64(4200), totals[1].Tokens)
		assert.Equal(t, 8.4, totals[1].Cost)
	})

	t.Run("empty result", func(t *testing.T) {
		mock.ExpectQuery("SELECT model_id, COUNT").
			WithArgs(since).
			WillReturnRows(sqlmock.NewRows([]string{"model_id", "count", "tokens", "cost"}))

		totals, err := rec.TotalsSince(context.Background(), since)
		require.NoError(t, err)
		assert.Empty(t, totals)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT model_id, COUNT").
			WillReturnError(errors.New("relation does not exist"))

		_, err := rec.TotalsSince(context.Background(), since)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query usage totals")
	})
}

func TestRecorder_CleanupOldRecords(t *testing.T) {
	rec, mock := newMockRecorder(t)

	t.Run("deletes past retention", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM usage_records").
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 17))

		deleted, err := rec.CleanupOldRecords(context.Background(), 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(17), deleted)
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM usage_records").
			WillReturnError(errors.New("timeout"))

		_, err := rec.CleanupOldRecords(context.Background(), 30*24*time.Hour)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to cleanup usage records")
	})
}

func TestRecorder_CleanupWorkerStopsOnContextCancel(t *testing.T) {
	rec, _ := newMockRecorder(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		rec.StartCleanupWorker(ctx, time.Hour, 30*24*time.Hour)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop after context cancellation")
	}
}
