package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/ios-tooling/tapedeck/internal/capture"
	"github.com/ios-tooling/tapedeck/internal/catalog"
	"github.com/ios-tooling/tapedeck/internal/metrics"
	"github.com/ios-tooling/tapedeck/internal/recorder"
	"github.com/ios-tooling/tapedeck/internal/server"
)

func recordFlags() *cli.Command {
	return &cli.Command{
		Name:      "record",
		Usage:     "record raw little-endian PCM-16 into a segmented recording",
		ArgsUsage: " ",
		Action:    record,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Value:   "-",
				Usage:   "PCM input file, - for stdin",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "session name, also the directory under recording.directory",
			},
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "stop after this much wall time (0 records until EOF or a signal)",
			},
			&cli.IntFlag{
				Name:  "buffer-frames",
				Usage: "frames per capture buffer (default: a tenth of a second)",
			},
			&cli.StringFlag{
				Name:  "transcript",
				Usage: "free text stored in the session sidecar",
			},
			&cli.BoolFlag{
				Name:  "gops",
				Usage: "start the gops diagnostics agent",
			},
		},
	}
}

func record(c *cli.Context) error {
	if c.Bool("gops") {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Warn("Failed to start gops agent", slog.String("error", err.Error()))
		} else {
			defer agent.Close()
		}
	}

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	conv, err := newConverter(cfg, appMetrics)
	if err != nil {
		return err
	}
	defaults, err := sessionDefaults(cfg)
	if err != nil {
		return err
	}

	var store *catalog.Store
	if cfg.Catalog.Enabled {
		store, err = catalog.Open(cfg.Catalog.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		defer store.Close()
	}

	registry, err := recorder.NewRegistry(recorder.RegistryConfig{
		Root:        cfg.Recording.Directory,
		IdleTimeout: cfg.Recording.GetIdleTimeoutDuration(),
		Defaults:    defaults,
	}, conv, store, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}

	input, err := openInput(c.String("input"))
	if err != nil {
		registry.Stop(context.Background())
		return err
	}

	session, err := registry.Create(c.String("name"))
	if err != nil {
		input.Close()
		registry.Stop(context.Background())
		return fmt.Errorf("failed to create session: %w", err)
	}
	if text := c.String("transcript"); text != "" {
		session.SetTranscript(text)
	}

	frames := c.Int("buffer-frames")
	if frames <= 0 {
		frames = cfg.Recording.SampleRate / 10
	}
	source, err := capture.NewSource(input, capture.Config{
		SampleRate:      cfg.Recording.SampleRate,
		Channels:        cfg.Recording.Channels,
		FramesPerBuffer: frames,
		QueueSize:       cfg.Recording.QueueSize,
	}, session, logger, appMetrics)
	if err != nil {
		input.Close()
		registry.Stop(context.Background())
		return err
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, registry, store, prometheus.DefaultGatherer, appMetrics)
		if err := httpServer.Start(); err != nil {
			input.Close()
			registry.Stop(context.Background())
			return err
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	source.Start()
	logger.Info("Recording started",
		slog.String("session_id", session.ID),
		slog.String("directory", session.Dir),
		slog.String("output", string(defaults.Kind)),
		slog.String("target", defaults.Output.TargetType.String()),
	)

	select {
	case <-source.Done():
		logger.Info("Input exhausted")
	case <-ctx.Done():
		logger.Info("Stopping recording", slog.String("reason", context.Cause(ctx).Error()))
	}

	logger.Info("Starting graceful shutdown...")
	source.Stop()
	readErr := source.Wait(context.Background())
	if readErr != nil {
		logger.Error("Capture ended with an error", slog.String("error", readErr.Error()))
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer finishCancel()

	var sidecar recorder.Sidecar
	if _, active := registry.Get(session.ID); active {
		sidecar, err = registry.Finish(finishCtx, session.ID)
	} else {
		// Idle cleanup already finished it
		sidecar, err = recorder.ReadSidecar(session.Dir)
	}
	if stopErr := registry.Stop(finishCtx); stopErr != nil {
		logger.Error("Error stopping session registry", slog.String("error", stopErr.Error()))
	}
	if err != nil {
		return fmt.Errorf("failed to finish recording: %w", err)
	}

	stats := source.GetStats()
	logger.Info("Recording finished",
		slog.String("session_id", session.ID),
		slog.Uint64("buffers_read", stats.BuffersRead),
		slog.Uint64("handle_errors", stats.HandleErrors),
		slog.Float64("duration_seconds", sidecar.DurationSeconds),
	)
	fmt.Fprintf(c.App.Writer, "%s\t%.3fs\t%s\n", sidecar.ID, sidecar.DurationSeconds, sidecar.Location)

	return readErr
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}
