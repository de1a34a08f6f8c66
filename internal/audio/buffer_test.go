package audio

import (
	"testing"
	"time"
)

func TestSampleBuffer(t *testing.T) {
	buf := NewSampleBuffer([]int16{1, -1, 2, -2}, 2, 250*time.Millisecond)

	if buf.Frames != 2 {
		t.Errorf("Expected 2 frames, got %d", buf.Frames)
	}
	if err := buf.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	samples := buf.Samples()
	if len(samples) != 4 || samples[1] != -1 || samples[3] != -2 {
		t.Errorf("Unexpected samples %v", samples)
	}

	buf.Frames = 3
	if err := buf.Validate(); err == nil {
		t.Error("Expected frame count mismatch to be rejected")
	}
}

func TestInt16Conversion(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	out := BytesToInt16(Int16ToBytes(in))
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}

	if got := BytesToInt16([]byte{1, 0, 9}); len(got) != 1 {
		t.Errorf("Expected trailing odd byte to be ignored, got %v", got)
	}
}

func TestBufferDrain(t *testing.T) {
	b := NewBuffer(1, 8)

	for i := 0; i < 3; i++ {
		if err := b.Add(NewSampleBuffer([]int16{int16(i), int16(i)}, 1, 0)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if b.Frames() != 6 {
		t.Fatalf("Expected 6 frames, got %d", b.Frames())
	}

	if got := b.Drain(8); got != nil {
		t.Error("Drain should return nil when not enough frames are pending")
	}

	chunk := b.Drain(4)
	if samples := BytesToInt16(chunk); len(samples) != 4 || samples[2] != 1 {
		t.Errorf("Unexpected drained samples %v", samples)
	}
	if b.Frames() != 2 {
		t.Errorf("Expected 2 pending frames, got %d", b.Frames())
	}

	rest := BytesToInt16(b.Flush())
	if len(rest) != 2 || rest[0] != 2 {
		t.Errorf("Unexpected flushed samples %v", rest)
	}
	if b.Flush() != nil {
		t.Error("Flush of empty buffer should return nil")
	}

	stats := b.GetStats()
	if stats.TotalBuffers != 3 || stats.TotalFrames != 6 || stats.Drained != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestBufferRejectsChannelMismatch(t *testing.T) {
	b := NewBuffer(2, 4)
	if err := b.Add(NewSampleBuffer([]int16{1, 2}, 1, 0)); err == nil {
		t.Error("Expected channel mismatch error")
	}
}
