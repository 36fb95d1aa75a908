package quota

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/inference-router/models"
)

// Level identifies the severity of a threshold crossing
type Level string

const (
	// LevelWarning is logged but does not disable the model
	LevelWarning Level = "warning"

	// LevelCritical disables the model until the next quota reset
	LevelCritical Level = "critical"
)

// ThresholdEvent describes a rising quota threshold crossing
type ThresholdEvent struct {
	ModelID    string
	ModelName  string
	Level      Level
	PrevPct    float64
	NewPct     float64
	QuotaUsed  int64
	QuotaLimit int64
	At         time.Time
}

// Listener receives quota threshold events. Implementations must be safe
// for concurrent use; events may fire from any request goroutine.
type Listener interface {
	OnQuotaWarning(event ThresholdEvent)
	OnQuotaCritical(event ThresholdEvent)
}

// Tracker maintains per-model usage counters and emits threshold events on
// rising crossings. Side effects are observable only through the emitted
// events and the descriptor's public state.
type Tracker struct {
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []Listener

	// now is injected in tests to control time
	now func() time.Time
}

// NewTracker creates a quota tracker that logs every event through the
// given logger
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers a listener for threshold events
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// RecordUsage increments the model's quota consumption, appends a history
// sample and fires threshold events when the new percentage crosses a
// threshold the previous percentage was below. Repeated calls that stay
// above a threshold do not fire duplicate events.
func (t *Tracker) RecordUsage(m *models.ModelDescriptor, tokens int64) {
	if m.Fallback {
		// the local responder has no quota to account
		return
	}

	now := t.now()
	delta := m.ApplyUsage(tokens, now)

	t.logger.Debug("recorded model usage",
		zap.String("model_id", m.ID),
		zap.Int64("tokens", tokens),
		zap.Int64("quota_used", delta.Used),
		zap.Float64("quota_pct", delta.NewPct))

	t.checkThresholds(m, delta, now)
}

// checkThresholds compares the previous and new percentages against the
// model's warning and critical thresholds
func (t *Tracker) checkThresholds(m *models.ModelDescriptor, delta models.UsageDelta, now time.Time) {
	event := ThresholdEvent{
		ModelID:    m.ID,
		ModelName:  m.Name,
		PrevPct:    delta.PrevPct,
		NewPct:     delta.NewPct,
		QuotaUsed:  delta.Used,
		QuotaLimit: m.QuotaLimit,
		At:         now,
	}

	// critical first: a single large increment can cross both thresholds
	// at once, and only the critical action should disable the model
	if delta.PrevPct < m.CriticalPct && delta.NewPct >= m.CriticalPct {
		event.Level = LevelCritical
		m.MarkQuotaExhausted(fmt.Sprintf("quota critical: %.1f%% of %d tokens used", delta.NewPct, m.QuotaLimit))

		t.logger.Error("model quota critical, disabling until reset",
			zap.String("model_id", m.ID),
			zap.String("model_name", m.Name),
			zap.Float64("quota_pct", delta.NewPct),
			zap.Float64("critical_pct", m.CriticalPct))

		t.notify(event)
		return
	}

	if delta.PrevPct < m.WarningPct && delta.NewPct >= m.WarningPct {
		event.Level = LevelWarning

		t.logger.Warn("model quota warning threshold crossed",
			zap.String("model_id", m.ID),
			zap.String("model_name", m.Name),
			zap.Float64("quota_pct", delta.NewPct),
			zap.Float64("warning_pct", m.WarningPct))

		t.notify(event)
	}
}

// notify delivers an event to every subscribed listener
func (t *Tracker) notify(event ThresholdEvent) {
	t.mu.RLock()
	listeners := t.listeners
	t.mu.RUnlock()

	for _, l := range listeners {
		switch event.Level {
		case LevelCritical:
			l.OnQuotaCritical(event)
		default:
			l.OnQuotaWarning(event)
		}
	}
}

// MarkExhausted handles a provider-reported quota exhaustion: the model is
// disabled for the remainder of the window and a critical event fires. The
// provider's own accounting is authoritative here, so the event carries the
// tracker's last known percentages.
func (t *Tracker) MarkExhausted(m *models.ModelDescriptor, reason string) {
	pct := m.QuotaPercentage()
	m.MarkQuotaExhausted(reason)

	t.logger.Error("provider reported quota exhaustion, disabling model until reset",
		zap.String("model_id", m.ID),
		zap.String("model_name", m.Name),
		zap.String("reason", reason))

	t.notify(ThresholdEvent{
		ModelID:    m.ID,
		ModelName:  m.Name,
		Level:      LevelCritical,
		PrevPct:    pct,
		NewPct:     pct,
		QuotaUsed:  m.QuotaUsed(),
		QuotaLimit: m.QuotaLimit,
		At:         t.now(),
	})
}

// ResetIfDue zeroes the model's quota window once it has elapsed,
// restoring availability and clearing the last error
func (t *Tracker) ResetIfDue(m *models.ModelDescriptor, now time.Time) bool {
	if !m.ResetIfDue(now) {
		return false
	}

	t.logger.Info("model quota window reset",
		zap.String("model_id", m.ID),
		zap.String("model_name", m.Name),
		zap.Time("next_reset", m.QuotaResetAt()))
	return true
}

// SetNowFunc overrides the time source for tests
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.now = now
}
