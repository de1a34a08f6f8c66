package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

type collector struct {
	mu      sync.Mutex
	buffers []audio.SampleBuffer
	failAt  int // 1-based buffer index that fails; 0 never fails
}

func (c *collector) Handle(buf audio.SampleBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers = append(c.buffers, buf)
	if c.failAt == len(c.buffers) {
		return errors.New("handler failed")
	}
	return nil
}

func pcm(frames, channels int) []byte {
	samples := make([]int16, frames*channels)
	for i := range samples {
		samples[i] = int16(i)
	}
	return audio.Int16ToBytes(samples)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{SampleRate: 16000, Channels: 1, FramesPerBuffer: 160}, false},
		{"zero rate", Config{SampleRate: 0, Channels: 1, FramesPerBuffer: 160}, true},
		{"zero channels", Config{SampleRate: 16000, Channels: 0, FramesPerBuffer: 160}, true},
		{"zero frames", Config{SampleRate: 16000, Channels: 1, FramesPerBuffer: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSourceReadsAllFrames(t *testing.T) {
	// 2.5 buffers of stereo audio plus one stray byte
	input := append(pcm(250, 2), 0x7f)
	c := &collector{}
	s, err := NewSource(bytes.NewReader(input), Config{SampleRate: 1000, Channels: 2, FramesPerBuffer: 100}, c, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buffers) != 3 {
		t.Fatalf("Expected 3 buffers, got %d", len(c.buffers))
	}
	wantFrames := []int{100, 100, 50}
	wantOffsets := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}
	for i, buf := range c.buffers {
		if buf.Frames != wantFrames[i] || buf.Timestamp != wantOffsets[i] {
			t.Errorf("Buffer %d: got %d frames at %v", i, buf.Frames, buf.Timestamp)
		}
		if err := buf.Validate(); err != nil {
			t.Errorf("Buffer %d invalid: %v", i, err)
		}
	}
	if first := c.buffers[1].Samples()[0]; first != 200 {
		t.Errorf("Expected second buffer to continue the stream, got first sample %d", first)
	}

	stats := s.GetStats()
	if stats.FramesRead != 250 || stats.BuffersHandled != 3 || stats.Duration != 250*time.Millisecond {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestSourceCountsHandlerErrors(t *testing.T) {
	c := &collector{failAt: 2}
	s, err := NewSource(bytes.NewReader(pcm(300, 1)), Config{SampleRate: 1000, Channels: 1, FramesPerBuffer: 100}, c, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	<-s.Done()

	stats := s.GetStats()
	if stats.HandleErrors != 1 || stats.BuffersHandled != 2 {
		t.Errorf("Expected 1 error and 2 handled buffers, got %+v", stats)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestSourceReadError(t *testing.T) {
	s, err := NewSource(failingReader{}, Config{SampleRate: 1000, Channels: 1, FramesPerBuffer: 10}, &collector{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	if err := s.Wait(context.Background()); err == nil {
		t.Error("Expected read error")
	}
}

func TestSourceStop(t *testing.T) {
	pr, pw := io.Pipe()
	c := &collector{}
	s, err := NewSource(pr, Config{SampleRate: 1000, Channels: 1, FramesPerBuffer: 10}, c, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	if _, err := pw.Write(pcm(10, 1)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while the reader was blocked")
	}
}
