package router

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/inference-router/models"
	"github.com/upb/inference-router/services/providers"
	"github.com/upb/inference-router/services/quota"
	"github.com/upb/inference-router/services/registry"
	"github.com/upb/inference-router/services/retry"
)

// Request is one inference request submitted by a caller
type Request struct {
	// Prompt is the opaque text forwarded to the selected provider
	Prompt string

	// PreferredModelID selects a specific model when it is eligible
	PreferredModelID string

	// PageContext and Locale steer the local fallback response
	PageContext string
	Locale      string
}

// Response is the guaranteed outcome of a request. The router never
// returns an error: the worst case is the deterministic local fallback.
type Response struct {
	RequestID      string  `json:"request_id"`
	Content        string  `json:"content"`
	Model          string  `json:"model"`
	ModelID        string  `json:"model_id"`
	TokensUsed     int     `json:"tokens_used"`
	Cost           float64 `json:"cost"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	Fallback       bool    `json:"fallback"`
}

// UsageRecord captures one served request for persistence
type UsageRecord struct {
	RequestID string
	ModelID   string
	Provider  string
	Tokens    int
	Cost      float64
	LatencyMs int64
	Fallback  bool
}

// UsageRecorder persists usage records. Implementations must tolerate
// concurrent calls; recording failures never affect the response.
type UsageRecorder interface {
	Record(ctx context.Context, rec UsageRecord) error
}

// Config holds router tuning parameters
type Config struct {
	// RetryPolicy governs per-model retry behavior
	RetryPolicy retry.Policy

	// AttemptTimeout bounds each individual provider call
	AttemptTimeout time.Duration
}

// DefaultConfig returns the standard router configuration
func DefaultConfig() Config {
	return Config{
		RetryPolicy:    retry.DefaultPolicy(),
		AttemptTimeout: 30 * time.Second,
	}
}

// Router selects the healthiest eligible model for each request, executes
// it through the model's circuit breaker wrapping the retry executor, and
// falls back through lower-priority models until the local responder
// terminates the chain.
type Router struct {
	registry *registry.Registry
	tracker  *quota.Tracker
	recorder UsageRecorder
	config   Config
	logger   *zap.Logger
}

// New creates a router. The recorder may be nil; usage persistence is then
// skipped.
func New(reg *registry.Registry, tracker *quota.Tracker, recorder UsageRecorder, config Config, logger *zap.Logger) *Router {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	return &Router{
		registry: reg,
		tracker:  tracker,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// GenerateResponse routes a request across the registry's models. Failed
// models are excluded from consideration for this request only; the loop
// is bounded by the registered model count, so the call always terminates
// in bounded time with either a provider response or the local fallback.
func (r *Router) GenerateResponse(ctx context.Context, req Request) *Response {
	requestID := uuid.New().String()
	start := time.Now()
	tried := make(map[string]bool)

	for attempt := 0; attempt < r.registry.Count(); attempt++ {
		m := r.selectModel(req.PreferredModelID, tried)
		if m == nil {
			break
		}
		tried[m.ID] = true

		result, err := r.invoke(ctx, m, req.Prompt)
		if err != nil {
			r.handleModelFailure(m, err)
			continue
		}

		cost := float64(result.TokensUsed) * m.CostPerToken
		r.tracker.RecordUsage(m, int64(result.TokensUsed))

		resp := &Response{
			RequestID:      requestID,
			Content:        result.Content,
			Model:          m.Name,
			ModelID:        m.ID,
			TokensUsed:     result.TokensUsed,
			Cost:           cost,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			Fallback:       false,
		}

		r.logger.Info("request served",
			zap.String("request_id", requestID),
			zap.String("model_id", m.ID),
			zap.Int("tokens_used", result.TokensUsed),
			zap.Float64("cost", cost),
			zap.Int64("latency_ms", resp.ResponseTimeMs))

		r.recordUsage(ctx, resp, m.ProviderKind)
		return resp
	}

	return r.fallbackResponse(ctx, requestID, req, start)
}

// selectModel picks the preferred model when eligible, otherwise the
// highest-priority eligible model not yet tried in this request. The
// local fallback descriptor is never selected here; it terminates the
// chain separately.
func (r *Router) selectModel(preferredID string, tried map[string]bool) *models.ModelDescriptor {
	if preferredID != "" && !tried[preferredID] {
		if m, err := r.registry.Get(preferredID); err == nil && !m.Fallback && m.Eligible() {
			return m
		}
	}

	for _, m := range r.registry.ListEligible() {
		if m.Fallback || tried[m.ID] {
			continue
		}
		return m
	}
	return nil
}

// invoke executes one provider call through the model's breaker wrapping
// the retry executor. Capacity errors are recorded as neutral breaker
// outcomes: they signal planned limits, not provider faults.
func (r *Router) invoke(ctx context.Context, m *models.ModelDescriptor, prompt string) (*providers.Result, error) {
	inv, err := r.registry.InvokerFor(m)
	if err != nil {
		return nil, providers.NewPermanentError(m.ProviderKind, "no invoker configured", err)
	}

	if err := m.Breaker.Allow(); err != nil {
		return nil, err
	}

	result, err := retry.DoWithResult(ctx, r.config.RetryPolicy, func(ctx context.Context) (*providers.Result, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
		defer cancel()

		res, invokeErr := inv.Invoke(attemptCtx, m.ID, prompt)
		if invokeErr != nil && attemptCtx.Err() == context.DeadlineExceeded {
			// an exceeded per-attempt timeout is a retryable failure
			invokeErr = providers.NewTransientError(m.ProviderKind, "provider call timed out", invokeErr)
		}
		return res, invokeErr
	})

	switch {
	case err == nil:
		m.Breaker.RecordSuccess()
	case providers.IsCapacity(err):
		m.Breaker.RecordNeutral()
	default:
		m.Breaker.RecordFailure()
	}
	return result, err
}

// handleModelFailure converts a failed invocation into availability state:
// capacity errors disable the model until the next quota reset, permanent
// errors until a manual reset, everything else softly until recovery.
func (r *Router) handleModelFailure(m *models.ModelDescriptor, err error) {
	switch {
	case providers.IsCapacity(err):
		r.tracker.MarkExhausted(m, err.Error())

	case providers.IsPermanent(err):
		m.MarkPermanentlyUnavailable(err.Error())
		r.logger.Error("model permanently unavailable until manual reset",
			zap.String("model_id", m.ID),
			zap.Error(err))

	default:
		m.MarkUnavailable(err.Error())
		r.logger.Warn("model failed, trying next in fallback chain",
			zap.String("model_id", m.ID),
			zap.Error(err))
	}
}

// fallbackResponse terminates the chain with the deterministic local
// responder. It cannot fail and costs nothing.
func (r *Router) fallbackResponse(ctx context.Context, requestID string, req Request, start time.Time) *Response {
	content := providers.LocalFallback(req.Prompt, req.PageContext, req.Locale)

	resp := &Response{
		RequestID:      requestID,
		Content:        content,
		Model:          r.fallbackModelName(),
		ModelID:        r.fallbackModelID(),
		TokensUsed:     0,
		Cost:           0,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Fallback:       true,
	}

	r.logger.Warn("all remote models unavailable, served local fallback",
		zap.String("request_id", requestID),
		zap.String("locale", req.Locale),
		zap.String("page_context", req.PageContext))

	r.recordUsage(ctx, resp, providers.FallbackProviderName)
	return resp
}

// fallbackModelName returns the display name of the fallback descriptor
func (r *Router) fallbackModelName() string {
	if m := r.fallbackDescriptor(); m != nil {
		return m.Name
	}
	return "Local Fallback"
}

// fallbackModelID returns the id of the fallback descriptor
func (r *Router) fallbackModelID() string {
	if m := r.fallbackDescriptor(); m != nil {
		return m.ID
	}
	return providers.FallbackProviderName
}

func (r *Router) fallbackDescriptor() *models.ModelDescriptor {
	for _, m := range r.registry.All() {
		if m.Fallback {
			return m
		}
	}
	return nil
}

// recordUsage persists a usage record when a recorder is configured.
// Persistence failures are logged and swallowed; they never affect the
// caller's response.
func (r *Router) recordUsage(ctx context.Context, resp *Response, provider string) {
	if r.recorder == nil {
		return
	}

	rec := UsageRecord{
		RequestID: resp.RequestID,
		ModelID:   resp.ModelID,
		Provider:  provider,
		Tokens:    resp.TokensUsed,
		Cost:      resp.Cost,
		LatencyMs: resp.ResponseTimeMs,
		Fallback:  resp.Fallback,
	}
	if err := r.recorder.Record(ctx, rec); err != nil {
		r.logger.Warn("failed to persist usage record",
			zap.String("request_id", resp.RequestID),
			zap.Error(err))
	}
}

// GetModelStatus returns a read-only snapshot of every model
func (r *Router) GetModelStatus() []models.ModelStatus {
	return r.registry.Snapshot()
}

// ResetModel clears a model's failure and quota state. Returns false when
// the id is unknown.
func (r *Router) ResetModel(id string) bool {
	return r.registry.Reset(id) == nil
}
