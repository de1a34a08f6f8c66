package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ios-tooling/tapedeck/internal/audio"
	"github.com/ios-tooling/tapedeck/internal/catalog"
	"github.com/ios-tooling/tapedeck/internal/levels"
	"github.com/ios-tooling/tapedeck/internal/metrics"
	"github.com/ios-tooling/tapedeck/internal/segment"
)

func testSessionConfig(dir string) SessionConfig {
	return SessionConfig{
		Directory: dir,
		Kind:      KindSegmented,
		Output:    testOutputConfig(""),
		Meter:     levels.DefaultMeterConfig(),
	}
}

func TestSessionLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "standup")
	m := metrics.NewMetrics(prometheus.NewRegistry())

	s, err := NewSession(testSessionConfig(dir), nil, nil, m)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if s.ID == "" {
		t.Fatal("Expected a generated session ID")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	initial, err := ReadSidecar(dir)
	if err != nil {
		t.Fatalf("Expected initial sidecar: %v", err)
	}
	if initial.ID != s.ID || initial.EndedAt != nil {
		t.Errorf("Unexpected initial sidecar %+v", initial)
	}

	handleAll(t, s, 6, 250)
	s.SetTranscript("hello world")

	info := s.Info()
	if info.Buffers != 6 || info.Duration != 1500*time.Millisecond {
		t.Errorf("Unexpected info %+v", info)
	}
	if info.Meter.TotalBuffers != 6 {
		t.Errorf("Expected 6 metered buffers, got %d", info.Meter.TotalBuffers)
	}

	sidecar, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sidecar.Location != filepath.Join(dir, SoundsDir) {
		t.Errorf("Expected location in sounds/, got %s", sidecar.Location)
	}

	stored, err := ReadSidecar(dir)
	if err != nil {
		t.Fatal(err)
	}
	if stored.EndedAt == nil || stored.DurationSeconds != 1.5 || stored.Transcript != "hello world" {
		t.Errorf("Unexpected final sidecar %+v", stored)
	}
	if stored.ChunkDurationSeconds != 1 || stored.SampleRate != testRate {
		t.Errorf("Expected chunk config in sidecar, got %+v", stored)
	}

	if err := s.Handle(tone(0, 10, 1)); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("Expected ErrSessionFinished, got %v", err)
	}
	if _, err := s.Finish(context.Background()); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("Expected ErrSessionFinished on second Finish, got %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, SoundsDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 chunk files, got %d", len(entries))
	}
}

func TestSessionCountsBufferBeforeFailedRotation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flaky")
	s, err := NewSession(testSessionConfig(dir), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var opens atomic.Int32
	factory := func(path string, format audio.FormatDescriptor) (segment.FileWriter, error) {
		if opens.Add(1) == 2 {
			return nil, errors.New("disk full")
		}
		return segment.NewWAVFileWriter(path, format)
	}
	out, err := NewSegmented(s.cfg, nil, nil, nil, segment.WithWriterFactory(factory))
	if err != nil {
		t.Fatal(err)
	}
	s.output = out
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	handleAll(t, s, 3, 250)
	err = s.Handle(tone(750, 250, 1000))
	var writerErr *segment.WriterError
	if !errors.As(err, &writerErr) || writerErr.Op != "open" {
		t.Fatalf("Expected open WriterError, got %v", err)
	}

	info := s.Info()
	if info.Duration != time.Second || info.Buffers != 4 {
		t.Errorf("Expected the stored buffer to be counted, got duration %v buffers %d", info.Duration, info.Buffers)
	}
	if info.HandleErrors != 1 || info.LastError == "" {
		t.Errorf("Expected the failure to be recorded, got %+v", info)
	}

	for i := 4; i < 6; i++ {
		if err := s.Handle(tone(i*250, 250, 1000)); err != nil {
			t.Fatalf("Handle %d failed: %v", i, err)
		}
	}
	sidecar, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if sidecar.DurationSeconds != 1.5 {
		t.Errorf("Expected 1.5s in the sidecar, got %v", sidecar.DurationSeconds)
	}
}

func TestNewSessionErrors(t *testing.T) {
	if _, err := NewSession(SessionConfig{}, nil, nil, nil); err == nil {
		t.Error("Expected error without directory")
	}

	cfg := testSessionConfig(t.TempDir())
	cfg.Meter.Smoothing = 0
	if _, err := NewSession(cfg, nil, nil, nil); err == nil {
		t.Error("Expected error for invalid meter config")
	}

	cfg = testSessionConfig(t.TempDir())
	cfg.Kind = "tape"
	if _, err := NewSession(cfg, nil, nil, nil); err == nil {
		t.Error("Expected error for unknown output kind")
	}
}

func newTestRegistry(t *testing.T, idle time.Duration, store *catalog.Store) *Registry {
	t.Helper()
	defaults := testSessionConfig("")
	r, err := NewRegistry(RegistryConfig{
		Root:          t.TempDir(),
		IdleTimeout:   idle,
		CheckInterval: 10 * time.Millisecond,
		Defaults:      defaults,
	}, nil, store, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestRegistry(t *testing.T) {
	store, err := catalog.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	r := newTestRegistry(t, 0, store)

	s, err := r.Create("alpha")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if filepath.Base(s.Dir) != "alpha" {
		t.Errorf("Expected session directory named alpha, got %s", s.Dir)
	}
	if _, err := r.Create("alpha"); err == nil {
		t.Error("Expected error for second session in the same directory")
	}

	unnamed, err := r.Create("")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(unnamed.Dir) != unnamed.ID {
		t.Errorf("Expected unnamed session directory to be its ID, got %s", unnamed.Dir)
	}

	if got, ok := r.Get(s.ID); !ok || got != s {
		t.Error("Expected to find session by ID")
	}
	if r.Count() != 2 || len(r.List()) != 2 {
		t.Errorf("Expected 2 sessions, got %d", r.Count())
	}

	handleAll(t, s, 4, 250)
	if _, err := r.Finish(context.Background(), s.ID); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if _, err := r.Finish(context.Background(), s.ID); err == nil {
		t.Error("Expected error finishing an unknown session")
	}

	entry, err := store.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Expected catalog entry: %v", err)
	}
	if entry.EndedAt == nil || entry.DurationSeconds != 1 || entry.Name != "alpha" {
		t.Errorf("Unexpected catalog entry %+v", entry)
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("Expected Stop to finish every session, %d left", r.Count())
	}
	if entry, err := store.Get(context.Background(), unnamed.ID); err != nil || entry.EndedAt == nil {
		t.Errorf("Expected unnamed session to be cataloged as ended, got %+v, %v", entry, err)
	}
}

func TestRegistryIdleCleanup(t *testing.T) {
	r := newTestRegistry(t, 50*time.Millisecond, nil)
	defer r.Stop(context.Background())

	s, err := r.Create("idle")
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Count() != 0 {
		t.Fatal("Expected idle session to be finished")
	}

	// Finish is complete once the session leaves the registry's Finish call;
	// poll for the final sidecar
	for time.Now().Before(deadline) {
		if sc, err := ReadSidecar(s.Dir); err == nil && sc.EndedAt != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected final sidecar for idle session")
}
