package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/inference-router/services/providers"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterRatio:       0.2,
	}
}

func TestPolicy_DelayBeforeAttempt(t *testing.T) {
	p := Policy{
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          300 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	t.Run("first attempt has no delay", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), p.DelayBeforeAttempt(1))
	})

	t.Run("exponential growth", func(t *testing.T) {
		assert.Equal(t, 100*time.Millisecond, p.DelayBeforeAttempt(2))
		assert.Equal(t, 200*time.Millisecond, p.DelayBeforeAttempt(3))
	})

	t.Run("capped at max delay", func(t *testing.T) {
		assert.Equal(t, 300*time.Millisecond, p.DelayBeforeAttempt(4))
		assert.Equal(t, 300*time.Millisecond, p.DelayBeforeAttempt(10))
	})

	t.Run("jitter stays within ratio bounds", func(t *testing.T) {
		jittered := p
		jittered.JitterRatio = 0.2
		for i := 0; i < 100; i++ {
			d := jittered.DelayBeforeAttempt(3)
			assert.GreaterOrEqual(t, d, 160*time.Millisecond)
			assert.LessOrEqual(t, d, 240*time.Millisecond)
		}
	})
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return providers.NewTransientError("openai", "connection reset", nil)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	provErr := providers.NewTransientError("openai", "gateway timeout", nil)
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return provErr
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.ErrorIs(t, err, provErr)
}

func TestDo_CapacityErrorShortCircuits(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return providers.NewCapacityError("openai", "quota exceeded")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, providers.IsCapacity(err))
}

func TestDo_PermanentErrorShortCircuits(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return providers.NewPermanentError("openai", "invalid api key", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, providers.IsPermanent(err))
}

func TestDo_UnclassifiedErrorIsRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return errors.New("something broke")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancellationStopsBackoff(t *testing.T) {
	policy := fastPolicy()
	policy.BaseDelay = time.Hour
	policy.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, func(ctx context.Context) error {
		calls++
		return providers.NewTransientError("openai", "timeout", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithResult(t *testing.T) {
	t.Run("returns value on success", func(t *testing.T) {
		calls := 0
		result, err := DoWithResult(context.Background(), fastPolicy(), func(ctx context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", providers.NewTransientError("openai", "retry me", nil)
			}
			return "hello", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "hello", result)
		assert.Equal(t, 2, calls)
	})

	t.Run("returns zero value on failure", func(t *testing.T) {
		result, err := DoWithResult(context.Background(), fastPolicy(), func(ctx context.Context) (string, error) {
			return "partial", providers.NewPermanentError("openai", "bad request", nil)
		})

		require.Error(t, err)
		assert.Equal(t, "", result)
	})
}

func TestPolicy_Normalize(t *testing.T) {
	p := Policy{}.normalize()
	d := DefaultPolicy()

	assert.Equal(t, d.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, d.BaseDelay, p.BaseDelay)
	assert.Equal(t, d.MaxDelay, p.MaxDelay)
	assert.Equal(t, d.BackoffMultiplier, p.BackoffMultiplier)
}
