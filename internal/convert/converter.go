package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/metrics"
)

// ErrUnsupported is returned when no converter can produce the target type
var ErrUnsupported = errors.New("unsupported conversion")

// Request describes one conversion: concatenate Sources in order, trim the
// first by StartOffset and the last to EndDuration, and write Target to
// Destination.
type Request struct {
	Sources []string
	// SourceType describes headerless sources; container sources describe themselves
	SourceType  audio.FileType
	StartOffset time.Duration
	// EndDuration is measured from the start of the last source. Zero keeps
	// the whole last source.
	EndDuration   time.Duration
	Target        audio.FileType
	Destination   string
	DeleteSources bool
	// Progress is called after each source is processed
	Progress func(done, total int)
}

// Validate checks the request fields every converter relies on
func (r Request) Validate() error {
	if len(r.Sources) == 0 {
		return fmt.Errorf("no source files")
	}
	if r.Destination == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if r.StartOffset < 0 || r.EndDuration < 0 {
		return fmt.Errorf("trim offsets must not be negative")
	}
	if len(r.Sources) == 1 && r.EndDuration > 0 && r.EndDuration <= r.StartOffset {
		return fmt.Errorf("end %v is not after start %v", r.EndDuration, r.StartOffset)
	}
	return nil
}

func (r Request) progress(done, total int) {
	if r.Progress != nil {
		r.Progress(done, total)
	}
}

// Converter turns source chunk files into one file of the target type
type Converter interface {
	Convert(ctx context.Context, req Request) (string, error)
}

// nativeSource reports whether the built-in converter can read files of t.
// The zero FileType stands for self-describing containers.
func nativeSource(t audio.FileType) bool {
	return t.Name == "" || t.Native()
}

// Router sends native targets to the built-in converter and everything
// else to the external codec
type Router struct {
	native   Converter
	external Converter
	metrics  *metrics.Metrics
}

// NewRouter creates a router. external may be nil.
func NewRouter(native, external Converter, m *metrics.Metrics) *Router {
	return &Router{native: native, external: external, metrics: m}
}

// Convert dispatches req by target type
func (r *Router) Convert(ctx context.Context, req Request) (string, error) {
	startTime := time.Now()

	var (
		path string
		err  error
	)
	switch {
	case req.Target.Native() && nativeSource(req.SourceType):
		path, err = r.native.Convert(ctx, req)
	case r.external != nil:
		path, err = r.external.Convert(ctx, req)
	default:
		err = fmt.Errorf("%w: %s to %s needs an external codec", ErrUnsupported, req.SourceType, req.Target)
	}

	r.metrics.RecordConversion(time.Since(startTime).Seconds(), err)
	return path, err
}
