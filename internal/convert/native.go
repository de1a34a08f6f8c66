package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zaf/g711"
	"golang.org/x/sync/errgroup"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

// Native converts between PCM, G.711 and headerless files without any
// external process
type Native struct {
	logger      *slog.Logger
	parallelism int
}

// NewNative creates the built-in converter. Up to parallelism sources are decoded at once.
func NewNative(logger *slog.Logger, parallelism int) *Native {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Native{logger: logger, parallelism: parallelism}
}

// pcm is one decoded source
type pcm struct {
	samples    []int16
	sampleRate int
	channels   int
}

// Convert implements Converter
func (n *Native) Convert(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !req.Target.Native() {
		return "", fmt.Errorf("%w: %s is not a native type", ErrUnsupported, req.Target)
	}

	decoded := make([]pcm, len(req.Sources))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(n.parallelism)
	for i, src := range req.Sources {
		i, src := i, src
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			p, err := n.decode(src, req.SourceType)
			if err != nil {
				return err
			}
			decoded[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	target := req.Target
	total := len(decoded)
	var out []int16
	for i, p := range decoded {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		from, to := 0, 0
		if i == 0 {
			from = framesFor(req.StartOffset, p.sampleRate)
		}
		if i == total-1 && req.EndDuration > 0 {
			to = framesFor(req.EndDuration, p.sampleRate)
		}
		samples := trim(p.samples, p.channels, from, to)
		samples = remix(samples, p.channels, target.Channels)
		samples = resample(samples, target.Channels, p.sampleRate, target.SampleRate)
		out = append(out, samples...)

		req.progress(i+1, total)
	}

	data, err := encode(out, target)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(req.Destination, data); err != nil {
		return "", err
	}

	if req.DeleteSources {
		n.deleteSources(req.Sources, req.Destination)
	}

	n.logger.Debug("Converted chunk files",
		slog.Int("sources", len(req.Sources)),
		slog.String("target", target.Name),
		slog.String("destination", req.Destination),
		slog.Int("samples", len(out)))

	return req.Destination, nil
}

func (n *Native) decode(path string, sourceType audio.FileType) (pcm, error) {
	if sourceType.Encoding == audio.EncodingRaw {
		data, err := os.ReadFile(path)
		if err != nil {
			return pcm{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return pcm{
			samples:    audio.BytesToInt16(data),
			sampleRate: sourceType.SampleRate,
			channels:   max(sourceType.Channels, 1),
		}, nil
	}

	c, err := audio.ReadContainerFile(path, n.logger)
	if err != nil {
		return pcm{}, err
	}
	f := c.Format()
	if f == nil {
		return pcm{}, fmt.Errorf("%s: %w", path, audio.ErrMissingFormatHeader)
	}

	payload := c.Samples()
	switch {
	case f.IsPCM() && f.BitsPerSample == 16:
	case f.FormatTag == audio.FormatMuLaw:
		payload = g711.DecodeUlaw(payload)
	case f.FormatTag == audio.FormatALaw:
		payload = g711.DecodeAlaw(payload)
	default:
		return pcm{}, fmt.Errorf("%w: %s has format tag %d with %d bits", ErrUnsupported, path, f.FormatTag, f.BitsPerSample)
	}

	return pcm{
		samples:    audio.BytesToInt16(payload),
		sampleRate: int(f.SampleRate),
		channels:   int(f.Channels),
	}, nil
}

// encode renders samples in the target type
func encode(samples []int16, target audio.FileType) ([]byte, error) {
	payload := audio.Int16ToBytes(samples)
	switch target.Encoding {
	case audio.EncodingRaw:
		return payload, nil
	case audio.EncodingMuLaw:
		payload = g711.EncodeUlaw(payload)
	case audio.EncodingALaw:
		payload = g711.EncodeAlaw(payload)
	case audio.EncodingPCM:
	default:
		return nil, fmt.Errorf("%w: cannot encode %s natively", ErrUnsupported, target)
	}

	c := audio.NewContainer()
	if err := c.AddFormat(target.Format()); err != nil {
		return nil, err
	}
	if err := c.AddSamples(payload, uint32(len(payload))); err != nil {
		return nil, err
	}
	return c.Bytes()
}

// writeAtomic writes data next to path and renames it into place
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

func (n *Native) deleteSources(sources []string, keep string) {
	for _, src := range sources {
		if src == keep {
			continue
		}
		if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			n.logger.Warn("Failed to delete converted source",
				slog.String("path", src),
				slog.String("error", err.Error()))
		}
	}
}
