package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// SampleBuffer is one timestamp-ordered block of interleaved little-endian
// PCM-16 frames delivered by a capture source
type SampleBuffer struct {
	Data      []byte        // Interleaved PCM-16 bytes
	Frames    int           // Number of sample frames in Data
	Channels  int           // Channels per frame
	Timestamp time.Duration // Presentation offset of the first frame
}

// NewSampleBuffer wraps interleaved samples into a buffer
func NewSampleBuffer(samples []int16, channels int, timestamp time.Duration) SampleBuffer {
	if channels <= 0 {
		channels = 1
	}
	return SampleBuffer{
		Data:      Int16ToBytes(samples),
		Frames:    len(samples) / channels,
		Channels:  channels,
		Timestamp: timestamp,
	}
}

// Validate checks that Data holds exactly Frames whole frames
func (b SampleBuffer) Validate() error {
	if b.Channels <= 0 {
		return fmt.Errorf("buffer has %d channels", b.Channels)
	}
	if want := b.Frames * b.Channels * 2; len(b.Data) != want {
		return fmt.Errorf("buffer holds %d bytes, %d frames of %d channels need %d", len(b.Data), b.Frames, b.Channels, want)
	}
	return nil
}

// Samples decodes the buffer into interleaved int16 samples
func (b SampleBuffer) Samples() []int16 {
	return BytesToInt16(b.Data)
}

// Int16ToBytes encodes samples as little-endian PCM-16
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian PCM-16. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Buffer accumulates raw PCM bytes until a whole file's worth of frames is
// available, as used by the raw mirror output
type Buffer struct {
	channels int
	data     []byte
	frames   int

	// Timing and metadata
	lastUpdate   time.Time
	totalBuffers uint64
	totalFrames  uint64
	drained      uint64

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	TotalBuffers  uint64 `json:"total_buffers"`
	TotalFrames   uint64 `json:"total_frames"`
	PendingFrames int    `json:"pending_frames"`
	Drained       uint64 `json:"drained_files"`
}

// NewBuffer creates an accumulator for frames of the given channel count
func NewBuffer(channels int, capacityFrames int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{
		channels:   channels,
		data:       make([]byte, 0, capacityFrames*channels*2),
		lastUpdate: time.Now(),
	}
}

// Add appends a sample buffer
func (b *Buffer) Add(buf SampleBuffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.Channels != b.channels {
		return fmt.Errorf("buffer has %d channels, accumulator expects %d", buf.Channels, b.channels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, buf.Data...)
	b.frames += buf.Frames
	b.lastUpdate = time.Now()
	b.totalBuffers++
	b.totalFrames += uint64(buf.Frames)
	return nil
}

// Drain removes and returns exactly n frames, or nil if fewer are pending
func (b *Buffer) Drain(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.frames < n {
		return nil
	}
	size := n * b.channels * 2
	out := make([]byte, size)
	copy(out, b.data[:size])

	// Shift remaining audio data
	remaining := copy(b.data, b.data[size:])
	b.data = b.data[:remaining]
	b.frames -= n
	b.drained++
	return out
}

// Flush removes and returns every pending frame
func (b *Buffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frames == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	b.frames = 0
	b.drained++
	return out
}

// Frames returns the number of pending frames
func (b *Buffer) Frames() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frames
}

// GetLastUpdate returns the time of the last buffer update
func (b *Buffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		TotalBuffers:  b.totalBuffers,
		TotalFrames:   b.totalFrames,
		PendingFrames: b.frames,
		Drained:       b.drained,
	}
}
