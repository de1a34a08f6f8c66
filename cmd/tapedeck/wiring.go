package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/config"
	"github.com/ios-tooling/tapedeck/internal/convert"
	"github.com/ios-tooling/tapedeck/internal/levels"
	"github.com/ios-tooling/tapedeck/internal/metrics"
	"github.com/ios-tooling/tapedeck/internal/recorder"
)

// newConverter routes native targets to the built-in converter and the rest
// to ffmpeg
func newConverter(cfg *config.Config, m *metrics.Metrics) (*convert.Router, error) {
	native := convert.NewNative(logger, cfg.Converter.Parallelism)
	external, err := convert.NewExec(convert.ExecConfig{
		Binary:        cfg.Converter.FFmpegPath,
		Timeout:       cfg.Converter.GetTimeoutDuration(),
		MaxRetries:    cfg.Converter.MaxRetries,
		MaxConcurrent: cfg.Converter.MaxConcurrent,
		Bitrate:       cfg.Converter.Bitrate,
	}, native, nil, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create external codec: %w", err)
	}
	return convert.NewRouter(native, external, m), nil
}

// sessionDefaults turns the recording and levels sections into the template
// every new session starts from
func sessionDefaults(cfg *config.Config) (recorder.SessionConfig, error) {
	rec := cfg.Recording

	kind, err := recorder.ParseKind(rec.Output)
	if err != nil {
		return recorder.SessionConfig{}, err
	}
	target, err := rec.GetTargetType()
	if err != nil {
		return recorder.SessionConfig{}, err
	}
	if target.Encoding == audio.EncodingRaw {
		target = target.WithLayout(rec.SampleRate, rec.Channels)
	}

	meter := levels.DefaultMeterConfig()
	meter.ActivityThreshold = cfg.Levels.ActivityThreshold
	meter.Granularity = cfg.Levels.GetGranularityDuration()
	meter.HistoryLimit = cfg.Levels.HistoryLimit

	return recorder.SessionConfig{
		Kind: kind,
		Output: recorder.OutputConfig{
			SampleRate:        rec.SampleRate,
			Channels:          rec.Channels,
			TargetType:        target,
			ChunkDuration:     rec.GetChunkDuration(),
			RetentionDuration: rec.GetRetentionDuration(),
			QueueSize:         rec.QueueSize,
			DeleteConverted:   rec.DeleteConversionArtifacts,
			Resume:            rec.Resume,
			SamplesPerFile:    rec.SamplesPerFile,
		},
		Meter: meter,
	}, nil
}

// chunkDir resolves a recording directory to the directory holding its
// chunks. Session directories keep them under sounds/.
func chunkDir(dir string) string {
	sounds := filepath.Join(dir, recorder.SoundsDir)
	if info, err := os.Stat(sounds); err == nil && info.IsDir() {
		return sounds
	}
	return dir
}

// newProgressBar creates a bar that only renders on a terminal
func newProgressBar(title string, quiet bool) (*mpb.Progress, *mpb.Bar) {
	var progress *mpb.Progress
	if !quiet && isatty.IsTerminal(os.Stderr.Fd()) {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	} else {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(nil))
	}
	bar := progress.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncWidth),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
	return progress, bar
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
