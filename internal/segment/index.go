package segment

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Range is a half-open span of recording time
type Range struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Duration returns the length of the range
func (r Range) Duration() time.Duration {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%v, %v)", r.Start, r.End)
}

// Span is the part of the index covering a requested range
type Span struct {
	Chunks []Descriptor
	// StartOffset is the position of the lower bound inside Chunks[0]
	StartOffset time.Duration
	// EndDuration is the position of the upper bound inside the last chunk;
	// zero means through the end of that chunk.
	EndDuration time.Duration
}

// Index is the ordered set of finalized chunks in one recording directory
type Index struct {
	dir       string
	retention time.Duration // zero keeps everything
	preferExt string
	logger    *slog.Logger

	chunks       []Descriptor
	nextSequence uint32

	mu sync.RWMutex
}

// NewIndex creates an empty index for dir. Call Rebuild to load existing chunks.
func NewIndex(dir string, retention time.Duration, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Index{
		dir:          dir,
		retention:    retention,
		logger:       logger,
		nextSequence: 1,
	}
}

// Dir returns the directory the index describes
func (x *Index) Dir() string {
	return x.dir
}

// PreferExtension picks which file Rebuild keeps when a sequence number is
// on disk twice, e.g. a chunk and its converted copy
func (x *Index) PreferExtension(ext string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.preferExt = strings.TrimPrefix(ext, ".")
}

// Rebuild replaces the index with the chunks found on disk. Files whose
// names do not decode are skipped. A missing directory yields an empty index.
func (x *Index) Rebuild() error {
	entries, err := os.ReadDir(x.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &DirectoryError{Op: "list", Path: x.dir, Err: err}
	}

	chunks := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		d, ok := DecodeName(filepath.Join(x.dir, entry.Name()))
		if !ok {
			x.logger.Debug("Ignoring file outside the chunk naming scheme",
				slog.String("dir", x.dir),
				slog.String("name", entry.Name()))
			continue
		}
		chunks = append(chunks, d)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Sequence < chunks[j].Sequence })

	x.mu.Lock()
	defer x.mu.Unlock()

	x.chunks = x.dedupeLocked(chunks)
	x.nextSequence = 1
	if n := len(chunks); n > 0 {
		x.nextSequence = chunks[n-1].Sequence + 1
	}
	return nil
}

func (x *Index) dedupeLocked(chunks []Descriptor) []Descriptor {
	out := chunks[:0]
	for _, c := range chunks {
		n := len(out)
		if n > 0 && out[n-1].Sequence == c.Sequence {
			if x.preferExt != "" && strings.TrimPrefix(filepath.Ext(c.Path), ".") == x.preferExt {
				out[n-1] = c
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// Reset forgets every chunk and restarts numbering at 1
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.chunks = nil
	x.nextSequence = 1
}

// NextSequence reserves the next sequence number. Numbers are never reused.
func (x *Index) NextSequence() uint32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	seq := x.nextSequence
	x.nextSequence++
	return seq
}

// Record adds a finalized chunk and applies retention. It returns the
// chunks evicted to make room; their files have been deleted.
func (x *Index) Record(d Descriptor) []Descriptor {
	x.mu.Lock()
	pos := sort.Search(len(x.chunks), func(i int) bool { return x.chunks[i].Sequence >= d.Sequence })
	if pos < len(x.chunks) && x.chunks[pos].Sequence == d.Sequence {
		x.chunks[pos] = d
	} else {
		x.chunks = append(x.chunks, Descriptor{})
		copy(x.chunks[pos+1:], x.chunks[pos:])
		x.chunks[pos] = d
	}
	if d.Sequence >= x.nextSequence {
		x.nextSequence = d.Sequence + 1
	}
	evicted := x.evictLocked()
	x.mu.Unlock()

	for _, e := range evicted {
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			x.logger.Warn("Failed to delete evicted chunk",
				slog.String("path", e.Path),
				slog.String("error", err.Error()))
		}
	}
	return evicted
}

// evictLocked drops the oldest chunks while the stored duration exceeds
// retention. The chunk currently being written is the one chunk of slack on
// top of retention. The newest stored chunk is always kept.
func (x *Index) evictLocked() []Descriptor {
	if x.retention <= 0 {
		return nil
	}

	var stored time.Duration
	for _, c := range x.chunks {
		stored += c.Duration
	}

	var evicted []Descriptor
	for len(x.chunks) > 1 && stored > x.retention {
		oldest := x.chunks[0]
		x.chunks = x.chunks[1:]
		stored -= oldest.Duration
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Chunks returns a copy of the indexed chunks in sequence order
func (x *Index) Chunks() []Descriptor {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Descriptor(nil), x.chunks...)
}

// Len returns the number of indexed chunks
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

// Last returns the chunk with the highest sequence number
func (x *Index) Last() (Descriptor, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.chunks) == 0 {
		return Descriptor{}, false
	}
	return x.chunks[len(x.chunks)-1], true
}

// AvailableRange returns the span from the first chunk's start through the
// end of the run of consecutively numbered chunks that follows it
func (x *Index) AvailableRange() (Range, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.chunks) == 0 {
		return Range{}, false
	}
	r := Range{Start: x.chunks[0].Start, End: x.chunks[0].End()}
	for i := 1; i < len(x.chunks); i++ {
		if x.chunks[i].Sequence != x.chunks[i-1].Sequence+1 {
			break
		}
		r.End = x.chunks[i].End()
	}
	return r, true
}

// Locate finds the chunks covering [lower, upper). The lower bound must lie
// inside a chunk (start <= lower < end). The upper bound resolves to the
// chunk with start < upper <= end; when no chunk holds it the span runs
// through the last chunk.
func (x *Index) Locate(lower, upper time.Duration) (Span, error) {
	if upper <= lower {
		return Span{}, fmt.Errorf("empty range: upper bound %v is not after lower bound %v", upper, lower)
	}

	available, ok := x.AvailableRange()
	if !ok {
		return Span{}, ErrNoRecording
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	first := -1
	for i, c := range x.chunks {
		if c.Contains(lower) {
			first = i
			break
		}
	}
	if first < 0 {
		return Span{}, &RangeError{Bound: "lower", Offset: lower, Available: available}
	}

	last := len(x.chunks) - 1
	var endDuration time.Duration
	for i := first; i < len(x.chunks); i++ {
		c := x.chunks[i]
		if upper > c.Start && upper <= c.End() {
			last = i
			endDuration = upper - c.Start
			break
		}
	}

	return Span{
		Chunks:      append([]Descriptor(nil), x.chunks[first:last+1]...),
		StartOffset: lower - x.chunks[first].Start,
		EndDuration: endDuration,
	}, nil
}
