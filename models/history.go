package models

import "time"

// DefaultHistoryCapacity holds one sample every five minutes for a day
const DefaultHistoryCapacity = 288

// QuotaSample is a point-in-time snapshot of quota consumption. The three
// fields are always read and written together under the descriptor lock so
// each sample is internally consistent.
type QuotaSample struct {
	Timestamp time.Time `json:"timestamp"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
}

// QuotaHistory is a fixed-capacity ring buffer of quota samples. Once full,
// appending evicts the oldest sample.
type QuotaHistory struct {
	samples  []QuotaSample
	capacity int
	start    int
	count    int
}

// NewQuotaHistory creates an empty history with the given capacity
func NewQuotaHistory(capacity int) *QuotaHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &QuotaHistory{
		samples:  make([]QuotaSample, capacity),
		capacity: capacity,
	}
}

// Append adds a sample, evicting the oldest once the buffer is full
func (h *QuotaHistory) Append(s QuotaSample) {
	if h.count < h.capacity {
		h.samples[(h.start+h.count)%h.capacity] = s
		h.count++
		return
	}
	h.samples[h.start] = s
	h.start = (h.start + 1) % h.capacity
}

// Len returns the number of stored samples
func (h *QuotaHistory) Len() int {
	return h.count
}

// Capacity returns the fixed buffer capacity
func (h *QuotaHistory) Capacity() int {
	return h.capacity
}

// Samples returns the stored samples in chronological order
func (h *QuotaHistory) Samples() []QuotaSample {
	out := make([]QuotaSample, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.samples[(h.start+i)%h.capacity]
	}
	return out
}
