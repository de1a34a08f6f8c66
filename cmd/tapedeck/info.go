package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/recorder"
	"github.com/ios-tooling/tapedeck/internal/segment"
)

func infoFlags() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show chunks of a recording directory or details of an audio file",
		ArgsUsage: "PATH...",
		Action:    info,
	}
}

func info(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("DIR or FILE is needed", 2)
	}
	for _, path := range c.Args().Slice() {
		st, err := os.Stat(path)
		if err != nil {
			return err
		}
		if st.IsDir() {
			err = dirInfo(c, path)
		} else {
			err = fileInfo(c, path)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func dirInfo(c *cli.Context, dir string) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if sc, err := recorder.ReadSidecar(dir); err == nil {
		fmt.Fprintf(w, "session:\t%s\n", sc.ID)
		if sc.Name != "" {
			fmt.Fprintf(w, "name:\t%s\n", sc.Name)
		}
		fmt.Fprintf(w, "started:\t%s\n", sc.StartedAt.Format("2006-01-02 15:04:05"))
		if sc.EndedAt != nil {
			fmt.Fprintf(w, "ended:\t%s\n", sc.EndedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "format:\t%s, %d Hz, %d ch\n", sc.TargetType, sc.SampleRate, sc.Channels)
		fmt.Fprintf(w, "duration:\t%.3fs\n", sc.DurationSeconds)
		if sc.Transcript != "" {
			fmt.Fprintf(w, "transcript:\t%s\n", sc.Transcript)
		}
	}

	index := segment.NewIndex(chunkDir(dir), 0, logger)
	if err := index.Rebuild(); err != nil {
		return err
	}
	chunks := index.Chunks()
	fmt.Fprintf(w, "chunks:\t%d\n", len(chunks))
	if avail, ok := index.AvailableRange(); ok {
		fmt.Fprintf(w, "available:\t%s - %s (%v)\n",
			segment.FormatOffset(avail.Start, ":"), segment.FormatOffset(avail.End, ":"), avail.Duration())
	}
	for _, d := range chunks {
		fmt.Fprintf(w, "  %06d\t%s\t%v\t%s\n", d.Sequence, d.TimeDescription(), d.Duration, d.Path)
	}
	return nil
}

func fileInfo(c *cli.Context, path string) error {
	container, err := audio.ReadContainerFile(path, logger)
	if err != nil {
		return err
	}
	meta, err := audio.GetInfo(container)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "file:\t%s\n", path)
	if d, ok := segment.DecodeName(path); ok {
		fmt.Fprintf(w, "chunk:\t%06d, %s\n", d.Sequence, d.TimeDescription())
	}
	fmt.Fprintf(w, "format tag:\t%d\n", meta.FormatTag)
	fmt.Fprintf(w, "sample rate:\t%d Hz\n", meta.SampleRate)
	fmt.Fprintf(w, "channels:\t%d\n", meta.Channels)
	fmt.Fprintf(w, "bits per sample:\t%d\n", meta.BitsPerSample)
	fmt.Fprintf(w, "frames:\t%d\n", meta.NumFrames)
	fmt.Fprintf(w, "duration:\t%.3fs\n", meta.Duration)
	fmt.Fprintf(w, "sections:\t%v\n", meta.Sections)
	return nil
}
