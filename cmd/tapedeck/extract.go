package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/metrics"
	"github.com/ios-tooling/tapedeck/internal/recorder"
	"github.com/ios-tooling/tapedeck/internal/segment"
)

func extractFlags() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "cut a time range out of a segmented recording",
		ArgsUsage: "DIR",
		Action:    extract,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "destination file",
				Required: true,
			},
			&cli.Float64Flag{
				Name:  "from",
				Usage: "lower bound in seconds (default: start of the oldest kept chunk)",
			},
			&cli.Float64Flag{
				Name:  "to",
				Usage: "upper bound in seconds (default: end of the recording)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "target format: " + strings.Join(audio.FileTypeNames(), ", "),
				Value:   "wav16k",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "hide the progress bar",
			},
		},
	}
}

func extract(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("exactly one recording directory is needed", 2)
	}
	dir := c.Args().First()

	target, err := audio.ParseFileType(c.String("format"))
	if err != nil {
		return err
	}

	index := segment.NewIndex(chunkDir(dir), 0, logger)
	index.PreferExtension(target.Extension)
	if err := index.Rebuild(); err != nil {
		return err
	}
	last, ok := index.Last()
	if !ok {
		return fmt.Errorf("%s: %w", dir, segment.ErrNoRecording)
	}

	// Raw chunks carry no header, so the layout comes from the sidecar
	rate, channels := cfg.Recording.SampleRate, cfg.Recording.Channels
	if sc, err := recorder.ReadSidecar(dir); err == nil && sc.SampleRate > 0 {
		rate, channels = sc.SampleRate, sc.Channels
	}
	sourceType := audio.ForExtension(strings.TrimPrefix(filepath.Ext(last.Path), "."), rate, channels)
	if target.Encoding == audio.EncodingRaw {
		target = target.WithLayout(rate, channels)
	}

	// Without bounds every kept chunk is exported whole
	var span *segment.Range
	if c.IsSet("from") || c.IsSet("to") {
		first := index.Chunks()[0]
		span = &segment.Range{Start: first.Start, End: last.End()}
		if c.IsSet("from") {
			span.Start = seconds(c.Float64("from"))
		}
		if c.IsSet("to") {
			span.End = seconds(c.Float64("to"))
		}
	}

	m := metrics.NewMetrics(nil)
	conv, err := newConverter(cfg, m)
	if err != nil {
		return err
	}
	extractor := segment.NewExtractor(index, sourceType, conv, logger, m)

	progress, bar := newProgressBar("Extracting: ", c.Bool("quiet"))
	path, err := extractor.Extract(c.Context, segment.ExtractRequest{
		Range:       span,
		Target:      target,
		Destination: c.String("out"),
		Progress: func(done, total int) {
			bar.SetTotal(int64(total), false)
			bar.SetCurrent(int64(done))
		},
	})
	if err != nil {
		bar.Abort(true)
		progress.Wait()

		var rangeErr *segment.RangeError
		if errors.As(err, &rangeErr) {
			return cli.Exit(rangeErr.Error(), 3)
		}
		return err
	}
	bar.SetTotal(-1, true)
	progress.Wait()

	requested := "all"
	if span != nil {
		requested = span.String()
	}
	logger.Info("Extraction complete",
		slog.String("path", path),
		slog.String("range", requested))
	fmt.Fprintln(c.App.Writer, path)
	return nil
}
