package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/convert"
	"github.com/ios-tooling/tapedeck/internal/metrics"
)

// ErrEmptyChunk is reported for a chunk closed before any frames reached it.
// Such chunks are deleted instead of indexed.
var ErrEmptyChunk = errors.New("chunk holds no frames")

// State represents the current state of the rotation controller
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// Config contains the settings of one segmented recording
type Config struct {
	Directory         string
	ChunkDuration     time.Duration
	RetentionDuration time.Duration // zero keeps every chunk
	SampleRate        int
	Channels          int
	TargetType        audio.FileType // format each finalized chunk ends up in
	QueueSize         int            // buffers queued per chunk writer
	DeleteConverted   bool           // remove the written file after converting it
	Resume            bool           // continue numbering from chunks already on disk
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.RetentionDuration < 0 {
		return fmt.Errorf("retention duration must not be negative, got %v", c.RetentionDuration)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.TargetType.Name == "" {
		return fmt.Errorf("target type must be set")
	}
	return nil
}

// InternalType is the format chunk writers produce before any conversion
func (c Config) InternalType() audio.FileType {
	if c.TargetType.Encoding == audio.EncodingRaw {
		return audio.Raw.WithLayout(c.SampleRate, c.Channels)
	}
	return audio.WAV16k.WithLayout(c.SampleRate, c.Channels)
}

func (c Config) framesPerChunk() int64 {
	return int64(c.ChunkDuration) * int64(c.SampleRate) / int64(time.Second)
}

// Finalization is the pending result of closing one chunk
type Finalization struct {
	Sequence uint32

	done chan struct{}
	desc Descriptor
	err  error
}

func newFinalization(seq uint32) *Finalization {
	return &Finalization{Sequence: seq, done: make(chan struct{})}
}

func (f *Finalization) resolve(desc Descriptor, err error) {
	f.desc = desc
	f.err = err
	close(f.done)
}

// Done is closed once the chunk is finalized
func (f *Finalization) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the chunk is finalized or ctx ends
func (f *Finalization) Wait(ctx context.Context) (Descriptor, error) {
	select {
	case <-f.done:
		return f.desc, f.err
	case <-ctx.Done():
		return Descriptor{}, ctx.Err()
	}
}

// FinalizeHook is called from the finalizing goroutine for every closed chunk
type FinalizeHook func(desc Descriptor, err error)

// Rotator writes incoming buffers into fixed-duration chunk files. When a
// chunk is full the next buffer boundary opens a new writer; the old one is
// closed, converted and indexed in the background while ingestion continues.
// A chunk becomes visible in the index only after all of that completes.
type Rotator struct {
	cfg       Config
	internal  audio.FileType
	index     *Index
	converter convert.Converter
	newWriter WriterFactory
	hook      FinalizeHook
	logger    *slog.Logger
	metrics   *metrics.Metrics

	state         State
	current       *chunkWriter
	chunkFrames   int64
	framesWritten int64
	baseOffset    time.Duration
	idle          chan struct{} // closed when the last EndRecording completes

	pending sync.WaitGroup

	// Statistics
	chunksOpened     atomic.Uint64
	chunksFinalized  atomic.Uint64
	finalizeFailures atomic.Uint64

	mu sync.Mutex
}

// Stats represents rotation statistics
type Stats struct {
	State             string        `json:"state"`
	CurrentSequence   uint32        `json:"current_sequence,omitempty"`
	ChunksOpened      uint64        `json:"chunks_opened"`
	ChunksFinalized   uint64        `json:"chunks_finalized"`
	FinalizeFailures  uint64        `json:"finalize_failures"`
	IndexedChunks     int           `json:"indexed_chunks"`
	RecordingDuration time.Duration `json:"recording_duration"`
	Available         *Range        `json:"available,omitempty"`
}

// Option customizes a Rotator
type Option func(*Rotator)

// WithConverter sets the converter used when the target type differs from the written type
func WithConverter(c convert.Converter) Option {
	return func(r *Rotator) { r.converter = c }
}

// WithWriterFactory replaces the file writer used for new chunks
func WithWriterFactory(f WriterFactory) Option {
	return func(r *Rotator) { r.newWriter = f }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Rotator) { r.metrics = m }
}

// WithFinalizeHook registers a callback for finalized chunks
func WithFinalizeHook(h FinalizeHook) Option {
	return func(r *Rotator) { r.hook = h }
}

// NewRotator creates an idle rotation controller
func NewRotator(cfg Config, logger *slog.Logger, opts ...Option) (*Rotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rotation config: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	internal := cfg.InternalType()
	r := &Rotator{
		cfg:       cfg,
		internal:  internal,
		index:     NewIndex(cfg.Directory, cfg.RetentionDuration, logger),
		newWriter: WriterFor(internal),
		logger:    logger,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.index.PreferExtension(cfg.TargetType.Extension)

	if r.needsConversion() && r.converter == nil {
		return nil, fmt.Errorf("target type %s differs from written type %s but no converter is set", cfg.TargetType, internal)
	}
	return r, nil
}

func (r *Rotator) needsConversion() bool {
	return !r.cfg.TargetType.Equal(r.internal)
}

// Prepare readies the directory and opens chunk #1 (or the next chunk when resuming)
func (r *Rotator) Prepare() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return fmt.Errorf("cannot prepare while %s", r.state)
	}

	dir := r.cfg.Directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &DirectoryError{Op: "create", Path: dir, Err: err}
	}
	if err := r.index.Rebuild(); err != nil {
		return err
	}

	start := time.Duration(0)
	if r.cfg.Resume {
		if last, ok := r.index.Last(); ok {
			start = last.End()
		}
	} else {
		if err := clearChunks(dir); err != nil {
			return err
		}
		r.index.Reset()
	}

	r.framesWritten = 0
	r.baseOffset = start
	if err := r.openLocked(start); err != nil {
		return err
	}

	r.state = StateRecording
	r.idle = make(chan struct{})
	r.logger.Info("Recording prepared",
		slog.String("dir", dir),
		slog.Duration("chunk_duration", r.cfg.ChunkDuration),
		slog.Duration("start", start),
		slog.String("target", r.cfg.TargetType.Name))
	return nil
}

// clearChunks deletes every file in dir that follows the chunk naming
// scheme. Other files are left alone.
func clearChunks(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &DirectoryError{Op: "clear", Path: dir, Err: err}
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := DecodeName(entry.Name()); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &DirectoryError{Op: "clear", Path: dir, Err: err}
		}
	}
	return nil
}

// Handle appends one buffer to the current chunk, rotating afterwards when
// the chunk has reached its duration. Buffers are never split, so a chunk
// may overshoot by up to one buffer.
func (r *Rotator) Handle(buf audio.SampleBuffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.Channels != r.cfg.Channels {
		return fmt.Errorf("buffer has %d channels, recording expects %d", buf.Channels, r.cfg.Channels)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return ErrNotRecording
	}
	if r.current == nil {
		// A previous rotation failed to open its writer; retry at the current offset
		if err := r.openLocked(r.recordingDurationLocked()); err != nil {
			return err
		}
	}

	w := r.current
	if err := w.append(buf.Data, buf.Frames); err != nil {
		r.metrics.RecordWriterError("append")
		return &WriterError{Op: "append", Sequence: w.desc.Sequence, Path: w.desc.Path, Err: err}
	}
	r.chunkFrames += int64(buf.Frames)
	r.framesWritten += int64(buf.Frames)
	r.metrics.RecordBufferHandled(buf.Frames)

	if r.chunkFrames >= r.cfg.framesPerChunk() {
		if _, err := r.rotateLocked(r.recordingDurationLocked()); err != nil {
			var we *WriterError
			if errors.As(err, &we) {
				we.Stored = true
			}
			return err
		}
	}
	return nil
}

// Rotate closes the current chunk and opens the next one starting at offset
func (r *Rotator) Rotate(offset time.Duration) (*Finalization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return nil, ErrNotRecording
	}
	return r.rotateLocked(offset)
}

func (r *Rotator) rotateLocked(offset time.Duration) (*Finalization, error) {
	var fin *Finalization
	if r.current != nil {
		fin = r.finishLocked(r.current)
		r.current = nil
	}
	// The old chunk finalizes regardless of whether the new writer opens
	if err := r.openLocked(offset); err != nil {
		return fin, err
	}
	return fin, nil
}

func (r *Rotator) openLocked(offset time.Duration) error {
	seq := r.index.NextSequence()
	desc := Descriptor{
		Sequence: seq,
		Start:    offset,
		Duration: r.cfg.ChunkDuration,
	}
	desc.Path = filepath.Join(r.cfg.Directory, EncodeName(seq, offset, r.cfg.ChunkDuration, r.internal.Extension))

	file, err := r.newWriter(desc.Path, r.internal.Format())
	if err != nil {
		r.metrics.RecordWriterError("open")
		r.logger.Error("Failed to open chunk writer",
			slog.Uint64("sequence", uint64(seq)),
			slog.String("path", desc.Path),
			slog.String("error", err.Error()))
		return &WriterError{Op: "open", Sequence: seq, Path: desc.Path, Err: err}
	}

	r.current = startChunkWriter(desc, file, r.cfg.QueueSize)
	r.chunkFrames = 0
	r.chunksOpened.Add(1)
	r.metrics.RecordChunkOpened()

	r.logger.Debug("Opened chunk",
		slog.Uint64("sequence", uint64(seq)),
		slog.Duration("start", offset),
		slog.String("path", desc.Path))
	return nil
}

// finishLocked marks w closing and finalizes it in the background
func (r *Rotator) finishLocked(w *chunkWriter) *Finalization {
	fin := newFinalization(w.desc.Sequence)
	w.markClosing()

	r.pending.Add(1)
	startTime := time.Now()
	go func() {
		defer r.pending.Done()

		desc, err := r.finalize(w)
		switch {
		case err == nil:
			r.chunksFinalized.Add(1)
			r.metrics.RecordChunkFinalized(time.Since(startTime).Seconds())
		case errors.Is(err, ErrEmptyChunk):
		default:
			r.finalizeFailures.Add(1)
			r.logger.Warn("Chunk finalization failed",
				slog.Uint64("sequence", uint64(desc.Sequence)),
				slog.String("path", desc.Path),
				slog.String("error", err.Error()))
		}
		if r.hook != nil {
			r.hook(desc, err)
		}
		fin.resolve(desc, err)
	}()
	return fin
}

// finalize waits for the writer, converts the file if needed, then indexes it
func (r *Rotator) finalize(w *chunkWriter) (Descriptor, error) {
	desc := w.desc
	if err := w.wait(); err != nil {
		r.metrics.RecordWriterError("finalize")
		return desc, &WriterError{Op: "finalize", Sequence: desc.Sequence, Path: desc.Path, Err: err}
	}
	if w.Frames() == 0 {
		if err := os.Remove(desc.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Failed to delete empty chunk", slog.String("path", desc.Path), slog.String("error", err.Error()))
		}
		return desc, ErrEmptyChunk
	}

	var convErr error
	if r.needsConversion() {
		path, err := r.converter.Convert(context.Background(), convert.Request{
			Sources:       []string{desc.Path},
			SourceType:    r.internal,
			Target:        r.cfg.TargetType,
			Destination:   r.cfg.TargetType.ReplaceExtension(desc.Path),
			DeleteSources: r.cfg.DeleteConverted,
		})
		if err != nil {
			// The written chunk stays playable and is indexed as-is
			convErr = &WriterError{Op: "convert", Sequence: desc.Sequence, Path: desc.Path, Err: err}
		} else {
			desc.Path = path
		}
	}

	evicted := r.index.Record(desc)
	r.metrics.RecordChunksEvicted(len(evicted))
	for _, e := range evicted {
		r.logger.Debug("Evicted chunk", slog.Uint64("sequence", uint64(e.Sequence)), slog.String("path", e.Path))
	}
	return desc, convErr
}

// EndRecording closes the current chunk and waits until every pending
// finalization has completed. It returns the recording directory.
func (r *Rotator) EndRecording(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.state = StateFinalizing

	var fin *Finalization
	if r.current != nil {
		fin = r.finishLocked(r.current)
		r.current = nil
	}
	idle := r.idle
	r.mu.Unlock()

	go func() {
		r.pending.Wait()
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	r.logger.Info("Recording finished",
		slog.String("dir", r.cfg.Directory),
		slog.Int("chunks", r.index.Len()),
		slog.Duration("duration", r.RecordingDuration()))

	if fin != nil {
		if _, err := fin.Wait(ctx); err != nil && !errors.Is(err, ErrEmptyChunk) {
			return r.cfg.Directory, err
		}
	}
	return r.cfg.Directory, nil
}

// RecordingDuration returns the offset reached by the frames handled so far
func (r *Rotator) RecordingDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordingDurationLocked()
}

func (r *Rotator) recordingDurationLocked() time.Duration {
	return r.baseOffset + time.Duration(r.framesWritten*int64(time.Second)/int64(r.cfg.SampleRate))
}

// State returns the controller state
func (r *Rotator) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Index returns the chunk index
func (r *Rotator) Index() *Index {
	return r.index
}

// SourceType describes the indexed chunk files for extraction
func (r *Rotator) SourceType() audio.FileType {
	if r.needsConversion() {
		return r.cfg.TargetType.SourceType()
	}
	return r.internal.SourceType()
}

// Config returns the rotation configuration
func (r *Rotator) Config() Config {
	return r.cfg
}

// GetStats returns current rotation statistics
func (r *Rotator) GetStats() Stats {
	r.mu.Lock()
	stats := Stats{
		State:             r.state.String(),
		RecordingDuration: r.recordingDurationLocked(),
	}
	if r.current != nil {
		stats.CurrentSequence = r.current.desc.Sequence
	}
	r.mu.Unlock()

	stats.ChunksOpened = r.chunksOpened.Load()
	stats.ChunksFinalized = r.chunksFinalized.Load()
	stats.FinalizeFailures = r.finalizeFailures.Load()
	stats.IndexedChunks = r.index.Len()
	if available, ok := r.index.AvailableRange(); ok {
		stats.Available = &available
	}
	return stats
}
