package levels

import (
	"math"
	"sync"
	"time"
)

// DefaultGranularity is the window length of the coarse level summary
const DefaultGranularity = 20 * time.Second

// Summary keeps one root-mean-square dB value per granularity window of
// recording time. Windows whose value is not finite (pure silence) are skipped.
type Summary struct {
	granularity time.Duration
	limit       int

	window     int64
	sumSquares float64
	count      int
	started    bool

	history []float64
	min     float64
	max     float64

	mu sync.Mutex
}

// SummarySnapshot is the serializable state of a summary
type SummarySnapshot struct {
	GranularitySeconds float64   `json:"granularity_seconds"`
	History            []float64 `json:"history"`
	Min                float64   `json:"min_db"`
	Max                float64   `json:"max_db"`
	Range              float64   `json:"range_db"`
}

// NewSummary creates a summarizer. limit caps the history length (0 means DefaultHistoryLimit).
func NewSummary(granularity time.Duration, limit int) *Summary {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Summary{
		granularity: granularity,
		limit:       limit,
		min:         math.Inf(1),
		max:         math.Inf(-1),
	}
}

// Add accumulates samples that start at the given recording offset
func (s *Summary) Add(samples []int16, offset time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := int64(offset / s.granularity)
	if s.started && window != s.window {
		s.flushLocked()
	}
	s.window = window
	s.started = true

	for _, sample := range samples {
		x := float64(sample) / FullScaleSample
		s.sumSquares += x * x
	}
	s.count += len(samples)
}

// Flush closes the current window
func (s *Summary) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

func (s *Summary) flushLocked() {
	if s.count == 0 {
		return
	}
	rms := math.Sqrt(s.sumSquares / float64(s.count))
	s.sumSquares = 0
	s.count = 0

	db := 20 * math.Log10(rms)
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return
	}

	s.history = append(s.history, db)
	if len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}
	s.min = math.Min(s.min, db)
	s.max = math.Max(s.max, db)
}

// Len returns the number of completed windows kept
func (s *Summary) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Snapshot returns a copy of the summary state
func (s *Summary) Snapshot() SummarySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SummarySnapshot{
		GranularitySeconds: s.granularity.Seconds(),
		History:            append([]float64(nil), s.history...),
	}
	if len(s.history) > 0 {
		snap.Min = s.min
		snap.Max = s.max
		snap.Range = s.max - s.min
	}
	return snap
}
