package levels

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

const (
	// NoiseFloor is the lowest level reported, in dB relative to full scale
	NoiseFloor = -80.0
	// FullScaleSample is the reference amplitude of a 16-bit sample
	FullScaleSample = 32768.0
)

// SampleDB converts one sample to dB relative to full scale, clipped to [NoiseFloor, 0]
func SampleDB(sample int16) float64 {
	magnitude := math.Abs(float64(sample))
	db := 20 * math.Log10(magnitude/FullScaleSample)
	return clip(db)
}

func clip(db float64) float64 {
	if math.IsNaN(db) || db < NoiseFloor {
		return NoiseFloor
	}
	if db > 0 {
		return 0
	}
	return db
}

// SamplesPerPixel returns how many interleaved samples are averaged into one output value
func SamplesPerPixel(totalFrames, targetSamples, channels int) int {
	if targetSamples <= 0 {
		return 1
	}
	n := channels * totalFrames / targetSamples
	if n < 1 {
		return 1
	}
	return n
}

// Extractor runs the level pipeline: rectify, convert to dB, clip to the
// noise floor, then average consecutive blocks of samplesPerPixel values.
// Samples left over at the end are averaged into one final value by Flush.
type Extractor struct {
	samplesPerPixel int
	sum             float64
	count           int
	out             []float64
}

// NewExtractor creates a pipeline averaging samplesPerPixel samples per output value
func NewExtractor(samplesPerPixel int) *Extractor {
	if samplesPerPixel < 1 {
		samplesPerPixel = 1
	}
	return &Extractor{samplesPerPixel: samplesPerPixel}
}

// Write feeds interleaved samples through the pipeline
func (e *Extractor) Write(samples []int16) {
	for _, s := range samples {
		e.sum += SampleDB(s)
		e.count++
		if e.count == e.samplesPerPixel {
			e.out = append(e.out, e.sum/float64(e.count))
			e.sum = 0
			e.count = 0
		}
	}
}

// Flush emits the average of any partial block and returns every value produced
func (e *Extractor) Flush() []float64 {
	if e.count > 0 {
		e.out = append(e.out, e.sum/float64(e.count))
		e.sum = 0
		e.count = 0
	}
	return e.out
}

// Extract computes roughly targetSamples level values for interleaved samples
func Extract(samples []int16, channels, targetSamples int) []float64 {
	if len(samples) == 0 {
		return nil
	}
	if channels < 1 {
		channels = 1
	}
	e := NewExtractor(SamplesPerPixel(len(samples)/channels, targetSamples, channels))
	e.Write(samples)
	return e.Flush()
}

// ExtractFile reads a PCM-16 container and extracts its levels
func ExtractFile(path string, targetSamples int, logger *slog.Logger) ([]float64, error) {
	c, err := audio.ReadContainerFile(path, logger)
	if err != nil {
		return nil, err
	}
	f := c.Format()
	if f == nil {
		return nil, audio.ErrMissingFormatHeader
	}
	if !f.IsPCM() || f.BitsPerSample != 16 {
		return nil, fmt.Errorf("levels need 16-bit PCM, %s has tag %d with %d bits", path, f.FormatTag, f.BitsPerSample)
	}
	return Extract(audio.BytesToInt16(c.Samples()), int(f.Channels), targetSamples), nil
}

// Volumes maps full-scale-relative levels onto display volumes
func Volumes(levels []float64) []Volume {
	out := make([]Volume, len(levels))
	for i, l := range levels {
		out[i] = FromLevel(l)
	}
	return out
}
