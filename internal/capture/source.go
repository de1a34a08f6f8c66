package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/metrics"
)

// Handler consumes captured buffers in order
type Handler interface {
	Handle(buf audio.SampleBuffer) error
}

// Config contains capture configuration
type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	QueueSize       int
}

// Validate checks the capture configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames per buffer must be positive, got %d", c.FramesPerBuffer)
	}
	return nil
}

// Source reads interleaved little-endian PCM-16 from a reader and hands it
// to a Handler as timestamped buffers. Reading and handling run in separate
// goroutines joined by a bounded queue.
type Source struct {
	reader  io.Reader
	config  Config
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	bufChan chan audio.SampleBuffer

	// Statistics
	buffersRead    uint64
	buffersHandled uint64
	handleErrors   uint64
	framesRead     int64
	readErr        error
	mu             sync.RWMutex
}

// Stats represents capture statistics
type Stats struct {
	BuffersRead    uint64        `json:"buffers_read"`
	BuffersHandled uint64        `json:"buffers_handled"`
	HandleErrors   uint64        `json:"handle_errors"`
	FramesRead     int64         `json:"frames_read"`
	Duration       time.Duration `json:"duration"`
	QueueLength    int           `json:"queue_length"`
}

// NewSource creates a capture source. Call Start to begin reading.
func NewSource(r io.Reader, cfg Config, h Handler, logger *slog.Logger, m *metrics.Metrics) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		reader:  r,
		config:  cfg,
		handler: h,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		bufChan: make(chan audio.SampleBuffer, cfg.QueueSize),
	}, nil
}

// Start begins reading and handling buffers
func (s *Source) Start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.processor()

	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	s.logger.Info("Capture started",
		slog.Int("sample_rate", s.config.SampleRate),
		slog.Int("channels", s.config.Channels),
		slog.Int("frames_per_buffer", s.config.FramesPerBuffer))
}

// Done is closed once the input is exhausted and every buffer was handled
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the input is exhausted or ctx ends. It returns the
// read error, if any; a clean end of input is not an error.
func (s *Source) Wait(ctx context.Context) error {
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readErr
}

// Stop stops reading and waits until queued buffers are handled
func (s *Source) Stop() error {
	s.logger.Info("Stopping capture...")
	s.cancel()

	// A blocked Read only returns once its reader is closed
	if c, ok := s.reader.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Debug("Error closing capture input", slog.String("error", err.Error()))
		}
	}
	<-s.done

	stats := s.GetStats()
	s.logger.Info("Capture stopped",
		slog.Uint64("buffers_read", stats.BuffersRead),
		slog.Uint64("buffers_handled", stats.BuffersHandled),
		slog.Uint64("handle_errors", stats.HandleErrors),
		slog.Duration("duration", stats.Duration))
	return nil
}

// readLoop is the main input loop
func (s *Source) readLoop() {
	defer s.wg.Done()
	defer close(s.bufChan)

	frameSize := s.config.Channels * 2
	data := make([]byte, s.config.FramesPerBuffer*frameSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, err := io.ReadFull(s.reader, data)
		frames := n / frameSize
		if frames > 0 {
			// Copy, the read buffer is reused
			payload := make([]byte, frames*frameSize)
			copy(payload, data[:frames*frameSize])

			s.mu.Lock()
			buf := audio.SampleBuffer{
				Data:      payload,
				Frames:    frames,
				Channels:  s.config.Channels,
				Timestamp: s.offsetLocked(),
			}
			s.buffersRead++
			s.framesRead += int64(frames)
			s.mu.Unlock()

			// Captured audio is never dropped; a full queue blocks the reader
			select {
			case s.bufChan <- buf:
				s.metrics.SetSourceQueue(len(s.bufChan))
			case <-s.ctx.Done():
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && s.ctx.Err() == nil {
				s.mu.Lock()
				s.readErr = fmt.Errorf("failed to read input: %w", err)
				s.mu.Unlock()
				s.logger.Error("Capture read failed", slog.String("error", err.Error()))
			}
			if n%frameSize != 0 {
				s.logger.Warn("Dropping partial frame at end of input", slog.Int("bytes", n%frameSize))
			}
			return
		}
	}
}

// processor hands buffers to the handler in arrival order
func (s *Source) processor() {
	defer s.wg.Done()

	for buf := range s.bufChan {
		if err := s.handler.Handle(buf); err != nil {
			s.mu.Lock()
			s.handleErrors++
			s.mu.Unlock()
			s.logger.Warn("Failed to handle buffer",
				slog.Duration("offset", buf.Timestamp),
				slog.Int("frames", buf.Frames),
				slog.String("error", err.Error()))
			continue
		}
		s.mu.Lock()
		s.buffersHandled++
		s.mu.Unlock()
	}
}

func (s *Source) offsetLocked() time.Duration {
	return time.Duration(s.framesRead * int64(time.Second) / int64(s.config.SampleRate))
}

// GetStats returns current capture statistics
func (s *Source) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BuffersRead:    s.buffersRead,
		BuffersHandled: s.buffersHandled,
		HandleErrors:   s.handleErrors,
		FramesRead:     s.framesRead,
		Duration:       s.offsetLocked(),
		QueueLength:    len(s.bufChan),
	}
}
