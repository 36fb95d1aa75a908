package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/inference-router/models"
	"github.com/upb/inference-router/services/breaker"
	"github.com/upb/inference-router/services/providers"
	"github.com/upb/inference-router/services/quota"
)

var registryNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := zap.NewNop()
	return New(quota.NewTracker(logger), logger)
}

func newModel(id string, priority int, quotaLimit int64) *models.ModelDescriptor {
	return models.NewModelDescriptor(models.ModelParams{
		ID:           id,
		Name:         id,
		ProviderKind: "openai",
		Priority:     priority,
		QuotaLimit:   quotaLimit,
	}, breaker.New(breaker.DefaultConfig()), registryNow)
}

func newFallbackModel(priority int) *models.ModelDescriptor {
	return models.NewModelDescriptor(models.ModelParams{
		ID:           providers.FallbackProviderName,
		Name:         "Local Fallback",
		ProviderKind: providers.FallbackProviderName,
		Priority:     priority,
		Fallback:     true,
	}, nil, registryNow)
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("registers a model", func(t *testing.T) {
		require.NoError(t, r.Register(newModel("gpt-4o", 1, 1000)))
		assert.Equal(t, 1, r.Count())

		m, err := r.Get("gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", m.ID)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		err := r.Register(newModel("gpt-4o", 2, 1000))
		assert.ErrorIs(t, err, ErrModelAlreadyRegistered)
	})

	t.Run("rejects empty id", func(t *testing.T) {
		err := r.Register(newModel("", 1, 1000))
		assert.Error(t, err)
	})

	t.Run("unknown id not found", func(t *testing.T) {
		_, err := r.Get("nonexistent")
		assert.ErrorIs(t, err, ErrModelNotFound)
	})
}

func TestRegistry_PriorityOrdering(t *testing.T) {
	r := newTestRegistry(t)

	// register out of order; listing must sort by priority
	require.NoError(t, r.Register(newModel("llama-3-8b", 3, 0)))
	require.NoError(t, r.Register(newFallbackModel(4)))
	require.NoError(t, r.Register(newModel("gpt-4o", 1, 1000)))
	require.NoError(t, r.Register(newModel("claude-3-5-sonnet", 2, 1000)))

	all := r.All()
	require.Len(t, all, 4)
	assert.Equal(t, "gpt-4o", all[0].ID)
	assert.Equal(t, "claude-3-5-sonnet", all[1].ID)
	assert.Equal(t, "llama-3-8b", all[2].ID)
	assert.Equal(t, providers.FallbackProviderName, all[3].ID)
}

func TestRegistry_ListEligible(t *testing.T) {
	r := newTestRegistry(t)

	m1 := newModel("gpt-4o", 1, 100)
	m2 := newModel("claude-3-5-sonnet", 2, 1000)
	fallback := newFallbackModel(3)
	require.NoError(t, r.Register(m1))
	require.NoError(t, r.Register(m2))
	require.NoError(t, r.Register(fallback))

	t.Run("all eligible initially", func(t *testing.T) {
		assert.Len(t, r.ListEligible(), 3)
	})

	t.Run("exhausted model excluded", func(t *testing.T) {
		m1.MarkQuotaExhausted("quota exceeded")

		eligible := r.ListEligible()
		require.Len(t, eligible, 2)
		assert.Equal(t, "claude-3-5-sonnet", eligible[0].ID)
	})

	t.Run("fallback survives everything", func(t *testing.T) {
		m2.MarkUnavailable("provider down")

		eligible := r.ListEligible()
		require.Len(t, eligible, 1)
		assert.Equal(t, providers.FallbackProviderName, eligible[0].ID)
		assert.True(t, eligible[0].Fallback)
	})
}

func TestRegistry_Invokers(t *testing.T) {
	r := newTestRegistry(t)

	inv := providers.InvokerFunc(func(ctx context.Context, model, prompt string) (*providers.Result, error) {
		return &providers.Result{Content: "ok", TokensUsed: 1}, nil
	})
	r.RegisterInvoker("openai", inv)

	t.Run("resolves registered kind", func(t *testing.T) {
		got, err := r.InvokerFor(newModel("gpt-4o", 1, 1000))
		require.NoError(t, err)

		result, err := got.Invoke(context.Background(), "gpt-4o", "hi")
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Content)
	})

	t.Run("unknown kind fails", func(t *testing.T) {
		unknown := models.NewModelDescriptor(models.ModelParams{
			ID:           "mystery",
			ProviderKind: "unregistered",
		}, nil, registryNow)

		_, err := r.InvokerFor(unknown)
		assert.ErrorIs(t, err, ErrInvokerNotFound)
	})
}

func TestRegistry_ResetAll(t *testing.T) {
	r := newTestRegistry(t)

	m1 := newModel("gpt-4o", 1, 100)
	m2 := newModel("claude-3-5-sonnet", 2, 100)
	require.NoError(t, r.Register(m1))
	require.NoError(t, r.Register(m2))

	m1.ApplyUsage(96, registryNow)
	m1.MarkQuotaExhausted("quota critical")
	m2.ApplyUsage(50, registryNow)

	t.Run("nothing due before window end", func(t *testing.T) {
		assert.Equal(t, 0, r.ResetAll(registryNow.Add(time.Hour)))
		assert.Equal(t, int64(96), m1.QuotaUsed())
	})

	t.Run("resets all due windows", func(t *testing.T) {
		nextDay := time.Date(2025, 6, 2, 0, 0, 1, 0, time.UTC)
		assert.Equal(t, 2, r.ResetAll(nextDay))

		assert.Equal(t, int64(0), m1.QuotaUsed())
		assert.Equal(t, int64(0), m2.QuotaUsed())
		assert.True(t, m1.Eligible())
	})
}

func TestRegistry_ManualReset(t *testing.T) {
	r := newTestRegistry(t)
	m := newModel("gpt-4o", 1, 100)
	require.NoError(t, r.Register(m))

	m.ApplyUsage(96, registryNow)
	m.MarkPermanentlyUnavailable("invalid api key")
	require.False(t, m.Eligible())

	t.Run("clears permanent failure", func(t *testing.T) {
		require.NoError(t, r.Reset("gpt-4o"))
		assert.Equal(t, int64(0), m.QuotaUsed())
		assert.True(t, m.Eligible())
	})

	t.Run("unknown model errors", func(t *testing.T) {
		assert.ErrorIs(t, r.Reset("nonexistent"), ErrModelNotFound)
	})
}

func TestRegistry_Snapshot(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(newModel("gpt-4o", 1, 1000)))
	require.NoError(t, r.Register(newFallbackModel(2)))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "gpt-4o", snapshot[0].ID)
	assert.Equal(t, "closed", snapshot[0].BreakerState)
	assert.True(t, snapshot[0].IsAvailable)
}
