package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/convert"
	"github.com/ios-tooling/tapedeck/internal/metrics"
)

// ExtractRequest asks for part of the recording. A nil Range selects every
// indexed chunk without trimming.
type ExtractRequest struct {
	Range       *Range
	Target      audio.FileType
	Destination string
	Progress    func(done, total int)
}

// Extractor cuts time ranges out of an indexed recording
type Extractor struct {
	index      *Index
	sourceType audio.FileType
	converter  convert.Converter
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewExtractor creates an extractor over index. sourceType describes the
// chunk files; use the zero FileType for container chunks.
func NewExtractor(index *Index, sourceType audio.FileType, converter convert.Converter, logger *slog.Logger, m *metrics.Metrics) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{
		index:      index,
		sourceType: sourceType,
		converter:  converter,
		logger:     logger,
		metrics:    m,
	}
}

// Extract writes the requested range to Destination in the target type and
// returns the written path. The chunks stay untouched.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) (string, error) {
	startTime := time.Now()

	if req.Destination == "" {
		return "", fmt.Errorf("destination cannot be empty")
	}

	span, err := e.span(req.Range)
	if err != nil {
		e.metrics.RecordExtractionFailure(failureReason(err))
		return "", err
	}

	sources := make([]string, len(span.Chunks))
	var covered time.Duration
	for i, c := range span.Chunks {
		sources[i] = c.Path
		covered += c.Duration
	}
	if span.EndDuration > 0 {
		covered -= span.Chunks[len(span.Chunks)-1].Duration - span.EndDuration
	}
	covered -= span.StartOffset

	e.logger.Debug("Extracting range",
		slog.String("range", describe(req.Range)),
		slog.Int("chunks", len(sources)),
		slog.Duration("start_offset", span.StartOffset),
		slog.Duration("end_duration", span.EndDuration))

	path, err := e.converter.Convert(ctx, convert.Request{
		Sources:     sources,
		SourceType:  e.sourceType,
		StartOffset: span.StartOffset,
		EndDuration: span.EndDuration,
		Target:      req.Target,
		Destination: req.Destination,
		Progress:    req.Progress,
	})
	if err != nil {
		e.metrics.RecordExtractionFailure("conversion")
		return "", fmt.Errorf("failed to extract %s: %w", describe(req.Range), err)
	}

	e.metrics.RecordExtraction(time.Since(startTime).Seconds())
	e.logger.Info("Extracted range",
		slog.String("path", path),
		slog.String("target", req.Target.Name),
		slog.Duration("duration", covered))
	return path, nil
}

// span resolves r against the index. A nil range takes every chunk whole.
func (e *Extractor) span(r *Range) (Span, error) {
	if r != nil {
		return e.index.Locate(r.Start, r.End)
	}
	chunks := e.index.Chunks()
	if len(chunks) == 0 {
		return Span{}, ErrNoRecording
	}
	return Span{Chunks: chunks}, nil
}

func describe(r *Range) string {
	if r == nil {
		return "whole recording"
	}
	return r.String()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoRecording):
		return "no_recording"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	default:
		return "invalid_range"
	}
}
