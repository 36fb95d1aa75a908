package models

import (
	"sync"
	"time"

	"github.com/upb/inference-router/services/breaker"
)

// ModelParams holds the static configuration a descriptor is built from
type ModelParams struct {
	ID           string
	Name         string
	ProviderKind string

	// Priority orders model selection; lower values are preferred
	Priority int

	MaxTokens    int
	CostPerToken float64

	// QuotaLimit is the per-window token cap. Zero means unlimited.
	QuotaLimit int64

	// WarningPct and CriticalPct are quota alert thresholds in percent
	WarningPct  float64
	CriticalPct float64

	// Fallback marks the indestructible local responder descriptor
	Fallback bool

	// HistoryCapacity overrides the quota history ring size when positive
	HistoryCapacity int
}

// ModelDescriptor is the registry's view of one backend model: identity,
// quota accounting, availability and an owned circuit breaker. Mutable
// fields are guarded by a per-descriptor mutex; identity and limits are
// immutable after construction.
type ModelDescriptor struct {
	ID           string
	Name         string
	ProviderKind string
	Priority     int
	MaxTokens    int
	CostPerToken float64
	QuotaLimit   int64
	WarningPct   float64
	CriticalPct  float64
	Fallback     bool

	// Breaker is owned exclusively by this descriptor, never shared
	Breaker *breaker.Breaker

	mu             sync.Mutex
	quotaUsed      int64
	quotaResetAt   time.Time
	quotaExhausted bool
	permanentDown  bool
	available      bool
	lastError      string
	history        *QuotaHistory
}

// DefaultWarningPct and DefaultCriticalPct are the standard quota alert
// thresholds
const (
	DefaultWarningPct  = 80.0
	DefaultCriticalPct = 95.0
)

// NewModelDescriptor builds a descriptor from static configuration. The
// quota window ends at the next midnight UTC.
func NewModelDescriptor(params ModelParams, brk *breaker.Breaker, now time.Time) *ModelDescriptor {
	if params.WarningPct <= 0 {
		params.WarningPct = DefaultWarningPct
	}
	if params.CriticalPct <= 0 {
		params.CriticalPct = DefaultCriticalPct
	}
	return &ModelDescriptor{
		ID:           params.ID,
		Name:         params.Name,
		ProviderKind: params.ProviderKind,
		Priority:     params.Priority,
		MaxTokens:    params.MaxTokens,
		CostPerToken: params.CostPerToken,
		QuotaLimit:   params.QuotaLimit,
		WarningPct:   params.WarningPct,
		CriticalPct:  params.CriticalPct,
		Fallback:     params.Fallback,
		Breaker:      brk,
		quotaResetAt: NextMidnightUTC(now),
		available:    true,
		history:      NewQuotaHistory(params.HistoryCapacity),
	}
}

// UsageDelta describes a quota change produced by ApplyUsage. The quota
// tracker uses the previous and new percentages to detect rising threshold
// crossings.
type UsageDelta struct {
	PrevPct float64
	NewPct  float64
	Used    int64
}

// ApplyUsage increments quota consumption, appends a history sample and
// returns the percentage transition. All three happen under one lock
// acquisition so the sample is internally consistent.
func (m *ModelDescriptor) ApplyUsage(tokens int64, now time.Time) UsageDelta {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.percentageLocked()
	m.quotaUsed += tokens
	m.history.Append(QuotaSample{Timestamp: now, Used: m.quotaUsed, Limit: m.QuotaLimit})

	return UsageDelta{PrevPct: prev, NewPct: m.percentageLocked(), Used: m.quotaUsed}
}

// percentageLocked computes the quota percentage. Caller must hold the lock.
// Unlimited quotas always report zero.
func (m *ModelDescriptor) percentageLocked() float64 {
	if m.QuotaLimit <= 0 {
		return 0
	}
	return float64(m.quotaUsed) / float64(m.QuotaLimit) * 100
}

// QuotaPercentage returns the current quota consumption in percent
func (m *ModelDescriptor) QuotaPercentage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.percentageLocked()
}

// QuotaUsed returns the tokens consumed in the current window
func (m *ModelDescriptor) QuotaUsed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quotaUsed
}

// QuotaResetAt returns the end of the current quota window
func (m *ModelDescriptor) QuotaResetAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quotaResetAt
}

// Available reports whether the model is currently usable
func (m *ModelDescriptor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// LastError returns the most recent failure description
func (m *ModelDescriptor) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// History returns the quota samples in chronological order
func (m *ModelDescriptor) History() []QuotaSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Samples()
}

// MarkUnavailable soft-disables the model and records the failure reason
func (m *ModelDescriptor) MarkUnavailable(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = false
	m.lastError = reason
}

// MarkQuotaExhausted disables the model until the next quota reset. The
// exhaustion flag overrides breaker state: the model is treated as
// unavailable regardless of how healthy the breaker looks.
func (m *ModelDescriptor) MarkQuotaExhausted(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = false
	m.quotaExhausted = true
	m.lastError = reason
}

// QuotaExhausted reports whether the critical quota threshold was crossed
// in the current window
func (m *ModelDescriptor) QuotaExhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quotaExhausted
}

// MarkPermanentlyUnavailable disables the model until a manual reset.
// Unlike quota exhaustion, this state survives quota window resets; it is
// used for configuration and credential failures.
func (m *ModelDescriptor) MarkPermanentlyUnavailable(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = false
	m.permanentDown = true
	m.lastError = reason
}

// ResetIfDue zeroes quota state once the window has elapsed. Returns true
// when a reset happened.
func (m *ModelDescriptor) ResetIfDue(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.quotaResetAt) {
		return false
	}

	m.quotaUsed = 0
	m.quotaResetAt = NextMidnightUTC(now)
	m.quotaExhausted = false
	if !m.permanentDown {
		m.available = true
		m.lastError = ""
	}
	return true
}

// ForceReset clears quota and failure state regardless of the window, and
// resets the breaker. Used by the manual operator override.
func (m *ModelDescriptor) ForceReset(now time.Time) {
	m.mu.Lock()
	m.resetLocked(now)
	m.mu.Unlock()

	if m.Breaker != nil {
		m.Breaker.Reset()
	}
}

// resetLocked clears all window and failure state, including permanent
// failures. Caller must hold the lock.
func (m *ModelDescriptor) resetLocked(now time.Time) {
	m.quotaUsed = 0
	m.quotaResetAt = NextMidnightUTC(now)
	m.quotaExhausted = false
	m.permanentDown = false
	m.available = true
	m.lastError = ""
}

// Eligible reports whether the model may serve a request: available, quota
// not exhausted, breaker admitting traffic (closed, probe-ready, or
// half-open with a free probe slot), and consumption below the critical
// threshold. The fallback descriptor is always eligible.
func (m *ModelDescriptor) Eligible() bool {
	if m.Fallback {
		return true
	}

	m.mu.Lock()
	available := m.available
	exhausted := m.quotaExhausted
	pct := m.percentageLocked()
	overLimit := m.QuotaLimit > 0 && m.quotaUsed >= m.QuotaLimit
	critical := m.CriticalPct
	m.mu.Unlock()

	if !available || exhausted || overLimit || pct >= critical {
		return false
	}
	if m.Breaker != nil && !m.Breaker.CanAttempt() {
		return false
	}
	return true
}

// ModelStatus is a read-only snapshot for dashboards
type ModelStatus struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ProviderKind    string    `json:"provider_kind"`
	Priority        int       `json:"priority"`
	IsAvailable     bool      `json:"is_available"`
	QuotaUsed       int64     `json:"quota_used"`
	QuotaLimit      int64     `json:"quota_limit"`
	QuotaPercentage float64   `json:"quota_percentage"`
	QuotaResetAt    time.Time `json:"quota_reset_at"`
	BreakerState    string    `json:"breaker_state"`
	LastError       string    `json:"last_error,omitempty"`
}

// Snapshot returns a consistent status snapshot of the descriptor
func (m *ModelDescriptor) Snapshot() ModelStatus {
	m.mu.Lock()
	status := ModelStatus{
		ID:              m.ID,
		Name:            m.Name,
		ProviderKind:    m.ProviderKind,
		Priority:        m.Priority,
		IsAvailable:     m.available,
		QuotaUsed:       m.quotaUsed,
		QuotaLimit:      m.QuotaLimit,
		QuotaPercentage: m.percentageLocked(),
		QuotaResetAt:    m.quotaResetAt,
		LastError:       m.lastError,
	}
	m.mu.Unlock()

	if m.Breaker != nil {
		status.BreakerState = m.Breaker.State().String()
	} else {
		status.BreakerState = breaker.StateClosed.String()
	}
	return status
}

// NextMidnightUTC returns the start of the next UTC day, the end of a
// daily quota window
func NextMidnightUTC(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
