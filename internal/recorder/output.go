package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/convert"
	"github.com/ios-tooling/tapedeck/internal/metrics"
	"github.com/ios-tooling/tapedeck/internal/segment"
)

// Kind selects how a session stores what it records
type Kind string

const (
	KindSingleFile Kind = "single_file"
	KindSegmented  Kind = "segmented"
	KindRawMirror  Kind = "raw_mirror"
)

// ParseKind looks up an output kind by name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSingleFile, KindSegmented, KindRawMirror:
		return k, nil
	default:
		return "", fmt.Errorf("unknown output %q (known: %s, %s, %s)", s, KindSingleFile, KindSegmented, KindRawMirror)
	}
}

// Output is a sink for one recording
type Output interface {
	Kind() Kind
	// Prepare creates the destination and opens the first file
	Prepare() error
	// Handle stores one buffer
	Handle(buf audio.SampleBuffer) error
	// Finalize closes every file and returns the recording's location
	Finalize(ctx context.Context) (string, error)
}

// OutputConfig contains the settings shared by all outputs
type OutputConfig struct {
	Directory         string
	SampleRate        int
	Channels          int
	TargetType        audio.FileType
	ChunkDuration     time.Duration
	RetentionDuration time.Duration
	QueueSize         int
	DeleteConverted   bool
	Resume            bool
	SamplesPerFile    int // frames per raw file in a raw mirror
}

func (c OutputConfig) segmentConfig(dir string, target audio.FileType) segment.Config {
	return segment.Config{
		Directory:         dir,
		ChunkDuration:     c.ChunkDuration,
		RetentionDuration: c.RetentionDuration,
		SampleRate:        c.SampleRate,
		Channels:          c.Channels,
		TargetType:        target,
		QueueSize:         c.QueueSize,
		DeleteConverted:   c.DeleteConverted,
		Resume:            c.Resume,
	}
}

// NewOutput builds the output of the given kind
func NewOutput(kind Kind, cfg OutputConfig, conv convert.Converter, logger *slog.Logger, m *metrics.Metrics) (Output, error) {
	switch kind {
	case KindSingleFile:
		return NewSingleFile(cfg, conv, logger)
	case KindSegmented:
		return NewSegmented(cfg, conv, logger, m)
	case KindRawMirror:
		return NewRawMirror(cfg, conv, logger, m)
	default:
		return nil, fmt.Errorf("unknown output kind %q", kind)
	}
}

// SingleFile records into one container file, converted on Finalize
type SingleFile struct {
	path      string
	internal  audio.FileType
	target    audio.FileType
	converter convert.Converter
	deleteSrc bool
	logger    *slog.Logger

	file   segment.FileWriter
	frames int64

	mu sync.Mutex
}

// NewSingleFile creates an output writing <Directory>/recording.<ext>
func NewSingleFile(cfg OutputConfig, conv convert.Converter, logger *slog.Logger) (*SingleFile, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid layout: %d Hz, %d channels", cfg.SampleRate, cfg.Channels)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	internal := audio.WAV16k.WithLayout(cfg.SampleRate, cfg.Channels)
	if !cfg.TargetType.Equal(internal) && conv == nil {
		return nil, fmt.Errorf("target type %s needs a converter", cfg.TargetType)
	}
	return &SingleFile{
		path:      filepath.Join(cfg.Directory, "recording."+internal.Extension),
		internal:  internal,
		target:    cfg.TargetType,
		converter: conv,
		deleteSrc: cfg.DeleteConverted,
		logger:    logger,
	}, nil
}

// Kind implements Output
func (s *SingleFile) Kind() Kind { return KindSingleFile }

// Prepare implements Output
func (s *SingleFile) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return fmt.Errorf("single file output already prepared")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &segment.DirectoryError{Op: "create", Path: dir, Err: err}
	}
	f, err := segment.NewWAVFileWriter(s.path, s.internal.Format())
	if err != nil {
		return &segment.WriterError{Op: "open", Path: s.path, Err: err}
	}
	s.file = f
	s.frames = 0
	return nil
}

// Handle implements Output
func (s *SingleFile) Handle(buf audio.SampleBuffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.Channels != s.internal.Channels {
		return fmt.Errorf("buffer has %d channels, recording expects %d", buf.Channels, s.internal.Channels)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return segment.ErrNotRecording
	}
	if _, err := s.file.Write(buf.Data); err != nil {
		return &segment.WriterError{Op: "append", Path: s.path, Err: err}
	}
	s.frames += int64(buf.Frames)
	return nil
}

// Finalize implements Output. It returns the path of the finished file.
func (s *SingleFile) Finalize(ctx context.Context) (string, error) {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if f == nil {
		return "", segment.ErrNotRecording
	}
	if err := f.Close(); err != nil {
		return "", &segment.WriterError{Op: "finalize", Path: s.path, Err: err}
	}
	if s.target.Equal(s.internal) {
		return s.path, nil
	}

	path, err := s.converter.Convert(ctx, convert.Request{
		Sources:       []string{s.path},
		SourceType:    s.internal,
		Target:        s.target,
		Destination:   s.target.ReplaceExtension(s.path),
		DeleteSources: s.deleteSrc,
	})
	if err != nil {
		s.logger.Warn("Keeping unconverted recording",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return s.path, fmt.Errorf("failed to convert recording: %w", err)
	}
	return path, nil
}

// Segmented records into rotating chunk files
type Segmented struct {
	rotator   *segment.Rotator
	converter convert.Converter
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewSegmented creates a chunked output in cfg.Directory
func NewSegmented(cfg OutputConfig, conv convert.Converter, logger *slog.Logger, m *metrics.Metrics, opts ...segment.Option) (*Segmented, error) {
	return newSegmented(cfg.segmentConfig(cfg.Directory, cfg.TargetType), conv, logger, m, opts...)
}

func newSegmented(cfg segment.Config, conv convert.Converter, logger *slog.Logger, m *metrics.Metrics, opts ...segment.Option) (*Segmented, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	all := []segment.Option{segment.WithMetrics(m)}
	if conv != nil {
		all = append(all, segment.WithConverter(conv))
	}
	r, err := segment.NewRotator(cfg, logger, append(all, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Segmented{rotator: r, converter: conv, logger: logger, metrics: m}, nil
}

// Kind implements Output
func (s *Segmented) Kind() Kind { return KindSegmented }

// Prepare implements Output
func (s *Segmented) Prepare() error { return s.rotator.Prepare() }

// Handle implements Output
func (s *Segmented) Handle(buf audio.SampleBuffer) error { return s.rotator.Handle(buf) }

// Finalize implements Output. It returns the chunk directory.
func (s *Segmented) Finalize(ctx context.Context) (string, error) {
	return s.rotator.EndRecording(ctx)
}

// Rotator exposes the rotation controller
func (s *Segmented) Rotator() *segment.Rotator { return s.rotator }

// Extractor returns a range extractor over the recorded chunks
func (s *Segmented) Extractor() (*segment.Extractor, error) {
	if s.converter == nil {
		return nil, fmt.Errorf("extraction needs a converter")
	}
	return segment.NewExtractor(s.rotator.Index(), s.rotator.SourceType(), s.converter, s.logger, s.metrics), nil
}

// RawMirror writes headerless files of a fixed frame count into raw/ while
// mirroring every buffer into a segmented recording under wav/
type RawMirror struct {
	root           string
	rawDir         string
	sampleRate     int
	samplesPerFile int
	pending        *audio.Buffer
	mirror         *Segmented
	logger         *slog.Logger

	sequence uint32
	written  int64 // frames already flushed to raw files
	files    []string

	mu sync.Mutex
}

// NewRawMirror creates a raw mirror output rooted at cfg.Directory
func NewRawMirror(cfg OutputConfig, conv convert.Converter, logger *slog.Logger, m *metrics.Metrics) (*RawMirror, error) {
	if cfg.SamplesPerFile <= 0 {
		return nil, fmt.Errorf("samples per file must be positive, got %d", cfg.SamplesPerFile)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	target := cfg.TargetType
	if target.Encoding == audio.EncodingRaw {
		target = audio.WAV16k.WithLayout(cfg.SampleRate, cfg.Channels)
	}
	mirror, err := newSegmented(cfg.segmentConfig(filepath.Join(cfg.Directory, "wav"), target), conv, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror: %w", err)
	}

	return &RawMirror{
		root:           cfg.Directory,
		rawDir:         filepath.Join(cfg.Directory, "raw"),
		sampleRate:     cfg.SampleRate,
		samplesPerFile: cfg.SamplesPerFile,
		pending:        audio.NewBuffer(cfg.Channels, cfg.SamplesPerFile),
		mirror:         mirror,
		logger:         logger,
	}, nil
}

// Kind implements Output
func (r *RawMirror) Kind() Kind { return KindRawMirror }

// Prepare implements Output
func (r *RawMirror) Prepare() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.RemoveAll(r.rawDir); err != nil {
		return &segment.DirectoryError{Op: "clear", Path: r.rawDir, Err: err}
	}
	if err := os.MkdirAll(r.rawDir, 0o755); err != nil {
		return &segment.DirectoryError{Op: "create", Path: r.rawDir, Err: err}
	}
	r.sequence = 0
	r.written = 0
	r.files = nil
	return r.mirror.Prepare()
}

// Handle implements Output
func (r *RawMirror) Handle(buf audio.SampleBuffer) error {
	// The raw side keeps pace with every buffer the mirror stored
	mirrorErr := r.mirror.Handle(buf)
	if mirrorErr != nil && !segment.BufferStored(mirrorErr) {
		return mirrorErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pending.Add(buf); err != nil {
		return err
	}
	for r.pending.Frames() >= r.samplesPerFile {
		if err := r.writeLocked(r.pending.Drain(r.samplesPerFile), r.samplesPerFile); err != nil {
			return err
		}
	}
	return mirrorErr
}

func (r *RawMirror) writeLocked(data []byte, frames int) error {
	r.sequence++
	start := time.Duration(r.written * int64(time.Second) / int64(r.sampleRate))
	duration := time.Duration(int64(frames) * int64(time.Second) / int64(r.sampleRate))
	path := filepath.Join(r.rawDir, segment.EncodeName(r.sequence, start, duration, audio.Raw.Extension))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &segment.WriterError{Op: "append", Sequence: r.sequence, Path: path, Err: err}
	}
	r.written += int64(frames)
	r.files = append(r.files, path)
	return nil
}

// Finalize implements Output. Pending frames become a final shorter raw
// file; the returned path is the output root holding raw/ and wav/.
func (r *RawMirror) Finalize(ctx context.Context) (string, error) {
	r.mu.Lock()
	var flushErr error
	if n := r.pending.Frames(); n > 0 {
		flushErr = r.writeLocked(r.pending.Flush(), n)
	}
	r.mu.Unlock()

	_, mirrorErr := r.mirror.Finalize(ctx)
	if err := errors.Join(flushErr, mirrorErr); err != nil {
		return r.root, err
	}
	return r.root, nil
}

// RawFiles returns the raw files written so far
func (r *RawMirror) RawFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Mirror returns the segmented mirror
func (r *RawMirror) Mirror() *Segmented { return r.mirror }
