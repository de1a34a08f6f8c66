package levels

import (
	"fmt"
	"sync"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

// MeterConfig configures a live level meter
type MeterConfig struct {
	ActivityThreshold float64       // Level in dBFS at or above which a buffer counts as active
	Smoothing         float64       // Weight of the newest level (0..1], 1 disables smoothing
	Granularity       time.Duration // Coarse summary window
	HistoryLimit      int           // Maximum points kept in the history and summary
}

// DefaultMeterConfig returns the meter settings used when none are configured
func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		ActivityThreshold: -50,
		Smoothing:         1,
		Granularity:       DefaultGranularity,
		HistoryLimit:      DefaultHistoryLimit,
	}
}

// Meter summarizes each incoming buffer into a level, records it into a
// History and feeds the coarse Summary
type Meter struct {
	threshold float64
	smoothing float64

	history *History
	summary *Summary

	// Smoothing state
	lastLevel float64

	// Statistics
	totalBuffers  uint64
	activeBuffers uint64
	peak          float64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Reading is the level of one buffer
type Reading struct {
	Level          float64       `json:"level_dbfs"`  // Smoothed average level, −80..0
	Peak           float64       `json:"peak_dbfs"`   // Loudest sample of the buffer
	Volume         Volume        `json:"volume"`      // Level on the display scale
	Active         bool          `json:"active"`      // Level reached the activity threshold
	Offset         time.Duration `json:"offset"`      // Recording offset of the buffer
	ProcessingTime time.Duration `json:"processing_time"`
}

// MeterStats represents meter statistics
type MeterStats struct {
	TotalBuffers     uint64    `json:"total_buffers"`
	ActiveBuffers    uint64    `json:"active_buffers"`
	ActivePercentage float64   `json:"active_percentage"`
	PeakLevel        float64   `json:"peak_dbfs"`
	HistoryPoints    int       `json:"history_points"`
	SummaryWindows   int       `json:"summary_windows"`
	LastProcessed    time.Time `json:"last_processed"`
	Threshold        float64   `json:"threshold_dbfs"`
}

// NewMeter creates a level meter
func NewMeter(cfg MeterConfig) (*Meter, error) {
	if cfg.ActivityThreshold < NoiseFloor || cfg.ActivityThreshold > 0 {
		return nil, fmt.Errorf("activity threshold must be between %.0f and 0 dBFS, got %f", NoiseFloor, cfg.ActivityThreshold)
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", cfg.Smoothing)
	}

	return &Meter{
		threshold: cfg.ActivityThreshold,
		smoothing: cfg.Smoothing,
		history:   NewHistory(cfg.HistoryLimit),
		summary:   NewSummary(cfg.Granularity, cfg.HistoryLimit),
		lastLevel: NoiseFloor,
		peak:      NoiseFloor,
	}, nil
}

// Process measures one buffer
func (m *Meter) Process(buf audio.SampleBuffer) (*Reading, error) {
	startTime := time.Now()

	if err := buf.Validate(); err != nil {
		return nil, err
	}
	samples := buf.Samples()
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty buffer at %v", buf.Timestamp)
	}

	// Whole buffer averaged into one value
	level := Extract(samples, buf.Channels, 1)[0]
	peak := NoiseFloor
	for _, s := range samples {
		if db := SampleDB(s); db > peak {
			peak = db
		}
	}

	m.mu.Lock()
	if m.totalBuffers > 0 {
		level = m.smoothing*level + (1-m.smoothing)*m.lastLevel
	}
	m.lastLevel = level

	active := level >= m.threshold
	m.totalBuffers++
	if active {
		m.activeBuffers++
	}
	if peak > m.peak {
		m.peak = peak
	}
	m.lastProcessed = time.Now()
	m.mu.Unlock()

	volume := FromLevel(level)
	m.history.Record(buf.Timestamp, volume)
	m.summary.Add(samples, buf.Timestamp)

	return &Reading{
		Level:          level,
		Peak:           peak,
		Volume:         volume,
		Active:         active,
		Offset:         buf.Timestamp,
		ProcessingTime: time.Since(startTime),
	}, nil
}

// History returns the per-buffer level history
func (m *Meter) History() *History {
	return m.history
}

// Summary returns the coarse level summary
func (m *Meter) Summary() *Summary {
	return m.summary
}

// GetStats returns current meter statistics
func (m *Meter) GetStats() MeterStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	activePercentage := float64(0)
	if m.totalBuffers > 0 {
		activePercentage = float64(m.activeBuffers) / float64(m.totalBuffers) * 100
	}

	return MeterStats{
		TotalBuffers:     m.totalBuffers,
		ActiveBuffers:    m.activeBuffers,
		ActivePercentage: activePercentage,
		PeakLevel:        m.peak,
		HistoryPoints:    m.history.Len(),
		SummaryWindows:   m.summary.Len(),
		LastProcessed:    m.lastProcessed,
		Threshold:        m.threshold,
	}
}

// UpdateThreshold updates the activity threshold
func (m *Meter) UpdateThreshold(threshold float64) error {
	if threshold < NoiseFloor || threshold > 0 {
		return fmt.Errorf("activity threshold must be between %.0f and 0 dBFS, got %f", NoiseFloor, threshold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
	return nil
}

// Reset clears statistics and the level history
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalBuffers = 0
	m.activeBuffers = 0
	m.lastLevel = NoiseFloor
	m.peak = NoiseFloor
	m.lastProcessed = time.Time{}
	m.history.Reset()
}
