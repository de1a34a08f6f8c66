package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/metrics"
)

// Runner executes an external command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecCommand runs the command with os/exec
func ExecCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExecConfig contains external codec configuration
type ExecConfig struct {
	Binary        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Bitrate       string
}

// Exec produces encodings the native converter cannot (AAC in M4A) by
// staging a PCM file natively and handing it to ffmpeg
type Exec struct {
	config    ExecConfig
	native    *Native
	run       Runner
	semaphore chan struct{} // Limits concurrent codec processes
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// ExecStats represents external codec statistics
type ExecStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	ActiveRequests  int     `json:"active_requests"`
}

// NewExec creates an external codec converter. A nil runner uses ExecCommand.
func NewExec(config ExecConfig, native *Native, run Runner, logger *slog.Logger, m *metrics.Metrics) (*Exec, error) {
	if config.Binary == "" {
		return nil, fmt.Errorf("codec binary cannot be empty")
	}
	if native == nil {
		return nil, fmt.Errorf("native converter is required for staging")
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.Bitrate == "" {
		config.Bitrate = "128k"
	}
	if run == nil {
		run = ExecCommand
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Exec{
		config:    config,
		native:    native,
		run:       run,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		logger:    logger,
		metrics:   m,
	}, nil
}

// Convert implements Converter. Sources the native converter cannot read
// are decoded to staged PCM files first; targets it cannot write are
// encoded from a staged PCM file.
func (e *Exec) Convert(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	// Acquire semaphore for rate limiting
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	e.increment(&e.totalRequests)

	stage := req
	stage.DeleteSources = false
	if !nativeSource(req.SourceType) {
		staged, err := e.decodeSources(ctx, req)
		defer removeAll(staged)
		if err != nil {
			e.increment(&e.failedRequests)
			return "", err
		}
		stage.Sources = staged
		stage.SourceType = audio.WAV16k.WithLayout(req.SourceType.SampleRate, req.SourceType.Channels)
	}

	if req.Target.Native() {
		path, err := e.native.Convert(ctx, stage)
		if err != nil {
			e.increment(&e.failedRequests)
			return "", err
		}
		e.finish(req)
		return path, nil
	}

	stage.Target = audio.WAV16k.WithLayout(req.Target.SampleRate, req.Target.Channels)
	stage.Destination = req.Destination + ".stage.wav"
	staged, err := e.native.Convert(ctx, stage)
	if err != nil {
		e.increment(&e.failedRequests)
		return "", fmt.Errorf("failed to stage PCM: %w", err)
	}
	defer os.Remove(staged)

	if err := e.runWithRetry(ctx, req.Destination, e.args(staged, req)); err != nil {
		e.increment(&e.failedRequests)
		return "", err
	}
	e.finish(req)
	return req.Destination, nil
}

func (e *Exec) finish(req Request) {
	e.increment(&e.successRequests)
	if req.DeleteSources {
		e.native.deleteSources(req.Sources, req.Destination)
	}
}

// decodeSources has the codec render every source as a PCM container.
// The returned paths must be removed by the caller, also on error.
func (e *Exec) decodeSources(ctx context.Context, req Request) ([]string, error) {
	staged := make([]string, 0, len(req.Sources))
	for i, src := range req.Sources {
		dst := fmt.Sprintf("%s.src%03d.wav", req.Destination, i)
		args := []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", src,
			"-ac", strconv.Itoa(max(req.SourceType.Channels, 1)),
			"-ar", strconv.Itoa(req.SourceType.SampleRate),
			"-c:a", "pcm_s16le",
			dst,
		}
		staged = append(staged, dst)
		if err := e.runWithRetry(ctx, dst, args); err != nil {
			return staged, fmt.Errorf("failed to decode %s: %w", src, err)
		}
	}
	return staged, nil
}

// runWithRetry runs the codec with exponential backoff between attempts
func (e *Exec) runWithRetry(ctx context.Context, destination string, args []string) error {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.increment(&e.totalRetries)
			e.metrics.RecordConversionRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
			if backoffTime > 5*time.Second {
				backoffTime = 5 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		output, err := e.run(runCtx, e.config.Binary, args...)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = fmt.Errorf("%s: %w: %s", e.config.Binary, err, truncate(output, 512))
		e.logger.Warn("External codec failed",
			slog.Int("attempt", attempt+1),
			slog.String("destination", destination),
			slog.String("error", lastErr.Error()))

		if !isRetryable(ctx, err) {
			break
		}
	}

	return fmt.Errorf("conversion failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

func (e *Exec) args(input string, req Request) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-ac", strconv.Itoa(req.Target.Channels),
		"-ar", strconv.Itoa(req.Target.SampleRate),
		"-c:a", "aac",
		"-b:a", e.config.Bitrate,
		req.Destination,
	}
}

// isRetryable reports whether another attempt could succeed
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) {
		return false
	}
	return true
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (e *Exec) increment(counter *uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	*counter++
}

// GetStats returns current codec statistics
func (e *Exec) GetStats() ExecStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	successRate := float64(0)
	if e.totalRequests > 0 {
		successRate = float64(e.successRequests) / float64(e.totalRequests) * 100
	}

	return ExecStats{
		TotalRequests:   e.totalRequests,
		SuccessRequests: e.successRequests,
		FailedRequests:  e.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    e.totalRetries,
		ActiveRequests:  len(e.semaphore),
	}
}
