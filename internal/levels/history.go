package levels

import (
	"sync"
	"time"
)

// DefaultHistoryLimit caps the number of points a History keeps
const DefaultHistoryLimit = 5000

// DataPoint is one volume observation at a recording offset
type DataPoint struct {
	Offset time.Duration `json:"offset"`
	Volume Volume        `json:"volume"`
}

// History is a bounded FIFO of volume observations with running extremes
type History struct {
	limit  int
	points []DataPoint
	max    Volume
	min    Volume
	hasMin bool
	mu     sync.RWMutex
}

// NewHistory creates a history holding at most limit points
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, max: Silence}
}

// Record appends an observation, dropping the oldest beyond the limit
func (h *History) Record(offset time.Duration, v Volume) {
	if !v.IsValid() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.points = append(h.points, DataPoint{Offset: offset, Volume: v})
	if len(h.points) > h.limit {
		h.points = h.points[len(h.points)-h.limit:]
	}
	h.max = h.max.Max(v)
	if !h.hasMin || v.Less(h.min) {
		h.min = v
		h.hasMin = true
	}
}

// Len returns the number of points held
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}

// Points returns a copy of every point
func (h *History) Points() []DataPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]DataPoint(nil), h.points...)
}

// MaxVolume returns the loudest volume seen
func (h *History) MaxVolume() Volume {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.max
}

// MinVolume returns the quietest volume seen, or Silence
func (h *History) MinVolume() Volume {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.hasMin {
		return Silence
	}
	return h.min
}

// Current returns the latest volume, or Silence when empty
func (h *History) Current() Volume {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.points) == 0 {
		return Silence
	}
	return h.points[len(h.points)-1].Volume
}

// NormalizedLevel places the latest volume between the observed extremes (0..1)
func (h *History) NormalizedLevel() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.points) == 0 || !h.hasMin {
		return 0
	}
	span := h.max.DB() - h.min.DB()
	if span <= 0 {
		return 0
	}
	level := (h.points[len(h.points)-1].Volume.DB() - h.min.DB()) / span
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

// Average returns the mean of the last n points
func (h *History) Average(n int) Volume {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || len(h.points) == 0 {
		return Silence
	}
	if n > len(h.points) {
		n = len(h.points)
	}
	var sum float64
	for _, p := range h.points[len(h.points)-n:] {
		sum += p.Volume.DB()
	}
	return DB(sum / float64(n))
}

// Recent returns the last n volumes, padded at the front with Silence
func (h *History) Recent(n int) []Volume {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	out := make([]Volume, n)
	pad := n - len(h.points)
	for i := 0; i < pad; i++ {
		out[i] = Silence
	}
	start := 0
	if pad < 0 {
		start = -pad
		pad = 0
	}
	for i, p := range h.points[start:] {
		out[pad+i] = p.Volume
	}
	return out
}

// InLast returns the points within d of the latest point
func (h *History) InLast(d time.Duration) []DataPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.points) == 0 {
		return nil
	}
	cutoff := h.points[len(h.points)-1].Offset - d
	for i, p := range h.points {
		if p.Offset >= cutoff {
			return append([]DataPoint(nil), h.points[i:]...)
		}
	}
	return nil
}

// Between returns the points with from <= offset <= through
func (h *History) Between(from, through time.Duration) []DataPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []DataPoint
	for _, p := range h.points {
		if p.Offset >= from && p.Offset <= through {
			out = append(out, p)
		}
	}
	return out
}

// Clear drops the points with from <= offset <= through
func (h *History) Clear(from, through time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.points[:0]
	for _, p := range h.points {
		if p.Offset < from || p.Offset > through {
			kept = append(kept, p)
		}
	}
	h.points = kept
}

// Reset removes every point and the running extremes
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points = nil
	h.max = Silence
	h.min = Volume{}
	h.hasMin = false
}
