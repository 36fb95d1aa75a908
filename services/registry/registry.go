package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/inference-router/models"
	"github.com/upb/inference-router/services/providers"
	"github.com/upb/inference-router/services/quota"
)

var (
	// ErrModelNotFound is returned when a model id is not registered
	ErrModelNotFound = errors.New("model not found")

	// ErrModelAlreadyRegistered is returned on duplicate registration
	ErrModelAlreadyRegistered = errors.New("model already registered")

	// ErrInvokerNotFound is returned when no invoker serves a provider kind
	ErrInvokerNotFound = errors.New("no invoker registered for provider kind")
)

// Registry is the ordered catalog of model descriptors. Descriptors are
// created at process start and never deleted while the process runs; only
// their mutable state changes. The registry also maps provider kinds to
// their invocation functions.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]*models.ModelDescriptor
	ordered      []*models.ModelDescriptor
	invokers     map[string]providers.Invoker
	quotaTracker *quota.Tracker
	logger       *zap.Logger
}

// New creates an empty registry
func New(tracker *quota.Tracker, logger *zap.Logger) *Registry {
	return &Registry{
		byID:         make(map[string]*models.ModelDescriptor),
		invokers:     make(map[string]providers.Invoker),
		quotaTracker: tracker,
		logger:       logger,
	}
}

// Register adds a descriptor to the catalog
func (r *Registry) Register(m *models.ModelDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m == nil || m.ID == "" {
		return errors.New("model descriptor requires an id")
	}
	if _, exists := r.byID[m.ID]; exists {
		return ErrModelAlreadyRegistered
	}

	r.byID[m.ID] = m
	r.ordered = append(r.ordered, m)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Priority < r.ordered[j].Priority
	})

	r.logger.Info("registered model",
		zap.String("model_id", m.ID),
		zap.String("provider_kind", m.ProviderKind),
		zap.Int("priority", m.Priority),
		zap.Bool("fallback", m.Fallback))
	return nil
}

// RegisterInvoker maps a provider kind to its invocation function
func (r *Registry) RegisterInvoker(kind string, inv providers.Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[kind] = inv
}

// InvokerFor returns the invoker serving a descriptor's provider kind
func (r *Registry) InvokerFor(m *models.ModelDescriptor) (providers.Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invokers[m.ProviderKind]
	if !ok {
		return nil, ErrInvokerNotFound
	}
	return inv, nil
}

// Get returns a descriptor by id
func (r *Registry) Get(id string) (*models.ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, ErrModelNotFound
	}
	return m, nil
}

// ListEligible returns the models currently able to serve a request,
// sorted ascending by priority. The fallback descriptor carries the
// numerically highest priority, guaranteeing it sorts last and is the
// final resort, never the first choice.
func (r *Registry) ListEligible() []*models.ModelDescriptor {
	r.mu.RLock()
	ordered := make([]*models.ModelDescriptor, len(r.ordered))
	copy(ordered, r.ordered)
	r.mu.RUnlock()

	eligible := make([]*models.ModelDescriptor, 0, len(ordered))
	for _, m := range ordered {
		if m.Eligible() {
			eligible = append(eligible, m)
		}
	}
	return eligible
}

// All returns every registered descriptor in priority order
func (r *Registry) All() []*models.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ModelDescriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Count returns the number of registered models
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ResetAll resets every model whose quota window has elapsed. Called
// periodically by the scheduler.
func (r *Registry) ResetAll(now time.Time) int {
	reset := 0
	for _, m := range r.All() {
		if r.quotaTracker.ResetIfDue(m, now) {
			reset++
		}
	}
	return reset
}

// Reset is the manual operator override: it clears a model's quota and
// failure state immediately, including its breaker.
func (r *Registry) Reset(id string) error {
	m, err := r.Get(id)
	if err != nil {
		return err
	}

	m.ForceReset(time.Now())
	r.logger.Info("model manually reset", zap.String("model_id", id))
	return nil
}

// Snapshot returns a read-only status view of every model for dashboards
func (r *Registry) Snapshot() []models.ModelStatus {
	all := r.All()
	out := make([]models.ModelStatus, 0, len(all))
	for _, m := range all {
		out = append(out, m.Snapshot())
	}
	return out
}
