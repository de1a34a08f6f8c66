package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/convert"
	"github.com/ios-tooling/tapedeck/internal/levels"
	"github.com/ios-tooling/tapedeck/internal/metrics"
	"github.com/ios-tooling/tapedeck/internal/segment"
)

// ErrSessionFinished is returned when buffers reach a finished session
var ErrSessionFinished = errors.New("session already finished")

// SessionConfig describes one recording session
type SessionConfig struct {
	ID        string // generated when empty
	Name      string
	Directory string // session root; audio goes to <Directory>/sounds
	Kind      Kind
	Output    OutputConfig // Directory is filled in from the session root
	Meter     levels.MeterConfig
}

// Session is one recording: an output sink, a level meter and a sidecar
// describing both
type Session struct {
	ID        string
	Name      string
	Dir       string
	StartedAt time.Time

	kind    Kind
	cfg     OutputConfig
	output  Output
	meter   *levels.Meter
	logger  *slog.Logger
	metrics *metrics.Metrics

	lastActivity time.Time
	endedAt      time.Time
	finished     bool
	location     string
	transcript   string
	frames       int64
	buffers      uint64
	handleErrors uint64
	lastErr      error

	mu sync.RWMutex
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name,omitempty"`
	Directory    string                 `json:"directory"`
	Output       Kind                   `json:"output"`
	StartedAt    time.Time              `json:"started_at"`
	LastActivity time.Time              `json:"last_activity"`
	Finished     bool                   `json:"finished"`
	Duration     time.Duration          `json:"duration"`
	Buffers      uint64                 `json:"buffers"`
	HandleErrors uint64                 `json:"handle_errors"`
	Level        levels.Volume          `json:"level"`
	Meter        levels.MeterStats      `json:"meter"`
	Summary      levels.SummarySnapshot `json:"summary"`
	Location     string                 `json:"location,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
}

// NewSession creates a session. Call Start before handing it buffers.
func NewSession(cfg SessionConfig, conv convert.Converter, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}
	if cfg.Kind == "" {
		cfg.Kind = KindSegmented
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger = logger.With(slog.String("session_id", id))

	outCfg := cfg.Output
	outCfg.Directory = filepath.Join(cfg.Directory, SoundsDir)
	output, err := NewOutput(cfg.Kind, outCfg, conv, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}

	meter, err := levels.NewMeter(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create level meter: %w", err)
	}

	return &Session{
		ID:      id,
		Name:    cfg.Name,
		Dir:     cfg.Directory,
		kind:    cfg.Kind,
		cfg:     outCfg,
		output:  output,
		meter:   meter,
		logger:  logger,
		metrics: m,

		lastActivity: time.Now(),
	}, nil
}

// Start prepares the output and writes the initial sidecar
func (s *Session) Start() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := s.output.Prepare(); err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	s.StartedAt = now
	s.lastActivity = now
	s.mu.Unlock()

	if err := WriteSidecar(s.Dir, s.Sidecar()); err != nil {
		s.logger.Warn("Failed to write sidecar", slog.String("error", err.Error()))
	}

	s.metrics.RecordSessionCreated()
	s.logger.Info("Session started",
		slog.String("name", s.Name),
		slog.String("dir", s.Dir),
		slog.String("output", string(s.kind)),
		slog.String("target", s.cfg.TargetType.Name))
	return nil
}

// Handle stores one buffer and measures its level
func (s *Session) Handle(buf audio.SampleBuffer) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	handleErr := s.output.Handle(buf)
	if handleErr != nil {
		s.mu.Lock()
		s.handleErrors++
		s.lastErr = handleErr
		s.mu.Unlock()
		if !segment.BufferStored(handleErr) {
			return handleErr
		}
	}

	reading, err := s.meter.Process(buf)
	if err != nil {
		s.logger.Debug("Skipping level of buffer", slog.String("error", err.Error()))
	} else {
		s.metrics.RecordLevel(reading.Active)
	}

	s.mu.Lock()
	s.buffers++
	s.frames += int64(buf.Frames)
	s.mu.Unlock()
	return handleErr
}

// SetTranscript stores free text alongside the recording
func (s *Session) SetTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = text
}

// Finish finalizes the output and writes the final sidecar
func (s *Session) Finish(ctx context.Context) (Sidecar, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return Sidecar{}, ErrSessionFinished
	}
	s.finished = true
	s.mu.Unlock()

	location, err := s.output.Finalize(ctx)
	s.meter.Summary().Flush()

	s.mu.Lock()
	s.endedAt = time.Now()
	s.location = location
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()

	sidecar := s.Sidecar()
	if werr := WriteSidecar(s.Dir, sidecar); werr != nil {
		s.logger.Warn("Failed to write sidecar", slog.String("error", werr.Error()))
	}

	s.metrics.RecordSessionFinished(sidecar.DurationSeconds)
	s.logger.Info("Session finished",
		slog.String("location", location),
		slog.Float64("duration", sidecar.DurationSeconds),
		slog.Uint64("buffers", s.Info().Buffers))

	return sidecar, err
}

// Duration returns the recorded audio time
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durationLocked()
}

func (s *Session) durationLocked() time.Duration {
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.frames * int64(time.Second) / int64(s.cfg.SampleRate))
}

// LastActivity returns when the session last received a buffer
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Output returns the session's sink
func (s *Session) Output() Output {
	return s.output
}

// Meter returns the session's level meter
func (s *Session) Meter() *levels.Meter {
	return s.meter
}

// Sidecar returns the current sidecar contents
func (s *Session) Sidecar() Sidecar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc := Sidecar{
		ID:                   s.ID,
		Name:                 s.Name,
		Output:               s.kind,
		StartedAt:            s.StartedAt,
		SampleRate:           s.cfg.SampleRate,
		Channels:             s.cfg.Channels,
		TargetType:           s.cfg.TargetType.Name,
		ChunkDurationSeconds: s.cfg.ChunkDuration.Seconds(),
		RetentionSeconds:     s.cfg.RetentionDuration.Seconds(),
		DurationSeconds:      s.durationLocked().Seconds(),
		Location:             s.location,
		Levels:               s.meter.Summary().Snapshot(),
		Transcript:           s.transcript,
	}
	if s.kind == KindSingleFile {
		sc.ChunkDurationSeconds = 0
		sc.RetentionSeconds = 0
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		sc.EndedAt = &ended
	}
	if s.lastErr != nil {
		sc.Error = s.lastErr.Error()
	}
	return sc
}

// Info returns session information for monitoring
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		ID:           s.ID,
		Name:         s.Name,
		Directory:    s.Dir,
		Output:       s.kind,
		StartedAt:    s.StartedAt,
		LastActivity: s.lastActivity,
		Finished:     s.finished,
		Duration:     s.durationLocked(),
		Buffers:      s.buffers,
		HandleErrors: s.handleErrors,
		Level:        s.meter.History().Current(),
		Meter:        s.meter.GetStats(),
		Summary:      s.meter.Summary().Snapshot(),
		Location:     s.location,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}
