package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sine(n, sampleRate int, frequency float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 8000
	samples := sine(800, sampleRate, 440)

	wavData, err := EncodeWAV(samples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Canonical header is 44 bytes
	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	// Must match the canonical header layout byte for byte
	header := HeaderBytes(NewPCMFormat(sampleRate, 1, 16), uint32(len(samples)*2))
	if !bytes.Equal(wavData[:44], header) {
		t.Errorf("Header mismatch:\n got %v\nwant %v", wavData[:44], header)
	}

	c, err := ReadContainer(wavData)
	if err != nil {
		t.Fatalf("ReadContainer failed: %v", err)
	}
	info, err := GetInfo(c)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.NumFrames != len(samples) {
		t.Errorf("Expected %d frames, got %d", len(samples), info.NumFrames)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		sampleRate int
		channels   int
	}{
		{"empty", nil, 8000, 1},
		{"zero rate", []int16{1, 2}, 0, 1},
		{"odd stereo", []int16{1, 2, 3}, 8000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestDecodeWAV(t *testing.T) {
	original := []int16{100, -200, 300, -400, 500, -600}

	wavData, err := EncodeWAV(original, 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, format, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if format.SampleRate != 16000 || format.Channels != 2 {
		t.Errorf("Unexpected format %+v", format)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestContainerRoundTrip(t *testing.T) {
	c := NewContainer()
	if err := c.AddFormat(NewPCMFormat(16000, 1, 16)); err != nil {
		t.Fatalf("AddFormat failed: %v", err)
	}
	if err := c.AddFiller(TagFiller, 6); err != nil {
		t.Fatalf("AddFiller failed: %v", err)
	}
	first := Int16ToBytes([]int16{1, 2, 3, 4})
	second := Int16ToBytes([]int16{5, 6})
	if err := c.AddSamples(first, uint32(len(first))); err != nil {
		t.Fatalf("AddSamples failed: %v", err)
	}
	if err := c.AddSamples(second, uint32(len(second))); err != nil {
		t.Fatalf("AddSamples failed: %v", err)
	}

	data, err := c.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	// RIFF size covers everything after the first 8 bytes
	if got := binary.LittleEndian.Uint32(data[4:8]); int(got) != len(data)-8 {
		t.Errorf("RIFF size %d, file length %d", got, len(data))
	}

	parsed, err := ReadContainer(data)
	if err != nil {
		t.Fatalf("ReadContainer failed: %v", err)
	}

	wantTags := []string{TagFormat, TagFiller, TagData, TagData}
	if len(parsed.Sections) != len(wantTags) {
		t.Fatalf("Expected %d sections, got %d", len(wantTags), len(parsed.Sections))
	}
	for i, tag := range wantTags {
		if parsed.Sections[i].Tag != tag {
			t.Errorf("Section %d: expected %q, got %q", i, tag, parsed.Sections[i].Tag)
		}
	}
	if parsed.Sections[1].Length != 6 {
		t.Errorf("Filler length not preserved: %d", parsed.Sections[1].Length)
	}

	got := BytesToInt16(parsed.Samples())
	want := []int16{1, 2, 3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	again, err := parsed.Bytes()
	if err != nil {
		t.Fatalf("Re-serialize failed: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("Round trip changed the serialized bytes")
	}
}

func TestContainerExtensibleFormatPreserved(t *testing.T) {
	f := NewFormat(FormatExtensible, 48000, 2, 16)
	f.Extension = []byte{22, 0, 16, 0, 3, 0, 0, 0, 1, 0, 0, 0, 0, 0, 16, 0, 128, 0, 0, 170, 0, 56, 155, 113}

	c := NewContainer()
	if err := c.AddFormat(f); err != nil {
		t.Fatalf("AddFormat failed: %v", err)
	}
	payload := Int16ToBytes([]int16{1, -1})
	if err := c.AddSamples(payload, uint32(len(payload))); err != nil {
		t.Fatalf("AddSamples failed: %v", err)
	}

	data, err := c.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	// Format section size is recomputed from the descriptor
	if got := binary.LittleEndian.Uint32(data[16:20]); got != 16+uint32(len(f.Extension)) {
		t.Errorf("Expected format size %d, got %d", 16+len(f.Extension), got)
	}

	parsed, err := ReadContainer(data)
	if err != nil {
		t.Fatalf("ReadContainer failed: %v", err)
	}
	if !parsed.Format().IsPCM() {
		t.Error("Extensible format should count as PCM")
	}
	if !bytes.Equal(parsed.Format().Extension, f.Extension) {
		t.Error("Extension bytes were not preserved")
	}
}

func TestContainerEagerValidation(t *testing.T) {
	c := NewContainer()
	if err := c.AddSamples([]byte{0, 0}, 2); !errors.Is(err, ErrMissingFormatHeader) {
		t.Errorf("Expected ErrMissingFormatHeader, got %v", err)
	}

	if err := c.AddFormat(NewPCMFormat(8000, 1, 16)); err != nil {
		t.Fatalf("AddFormat failed: %v", err)
	}
	if err := c.AddSamples([]byte{0, 0, 0, 0}, 2); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Expected ErrLengthMismatch, got %v", err)
	}
	if err := c.AddSamples([]byte{0, 0}, 2); err != nil {
		t.Fatalf("AddSamples failed: %v", err)
	}
	if err := c.AddFormat(NewPCMFormat(16000, 1, 16)); !errors.Is(err, ErrFormatLocked) {
		t.Errorf("Expected ErrFormatLocked, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := EncodeWAV([]int16{1, 2, 3, 4}, 8000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	badMagic := append([]byte(nil), valid...)
	copy(badMagic[8:12], "AVI ")

	truncated := valid[:len(valid)-3]

	// data section first, format afterwards
	var dataFirst bytes.Buffer
	dataFirst.WriteString("RIFF")
	binary.Write(&dataFirst, binary.LittleEndian, uint32(4+8+2))
	dataFirst.WriteString("WAVE")
	dataFirst.WriteString("data")
	binary.Write(&dataFirst, binary.LittleEndian, uint32(2))
	dataFirst.Write([]byte{1, 0})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte("RIFF"), ErrMalformedContainer},
		{"bad magic", badMagic, ErrMalformedContainer},
		{"truncated data", truncated, ErrMalformedContainer},
		{"data before format", dataFirst.Bytes(), ErrMissingFormatHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadContainer(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeSkipsUnknownSections(t *testing.T) {
	var buf bytes.Buffer
	f := NewPCMFormat(8000, 1, 16)
	payload := Int16ToBytes([]int16{7, 8})

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+(8+16)+(8+3+1)+(8+4)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, []uint16{f.FormatTag, f.Channels})
	binary.Write(&buf, binary.LittleEndian, []uint32{f.SampleRate, f.ByteRate})
	binary.Write(&buf, binary.LittleEndian, []uint16{f.BlockAlign, f.BitsPerSample})
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0}) // odd length plus pad byte
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)

	c, err := ReadContainer(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadContainer failed: %v", err)
	}
	if len(c.Sections) != 2 {
		t.Fatalf("Expected unknown section to be skipped, got %d sections", len(c.Sections))
	}
	samples := BytesToInt16(c.Samples())
	if len(samples) != 2 || samples[0] != 7 || samples[1] != 8 {
		t.Errorf("Unexpected samples %v", samples)
	}
}

func TestContainerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")

	c := NewContainer()
	if err := c.AddFormat(NewPCMFormat(16000, 1, 16)); err != nil {
		t.Fatal(err)
	}
	payload := Int16ToBytes(sine(16000, 16000, 220))
	if err := c.AddSamples(payload, uint32(len(payload))); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	parsed, err := ReadContainerFile(path, nil)
	if err != nil {
		t.Fatalf("ReadContainerFile failed: %v", err)
	}
	if parsed.Duration() != time.Second {
		t.Errorf("Expected 1s, got %v", parsed.Duration())
	}

	if _, err := ReadContainerFile(filepath.Join(t.TempDir(), "missing.wav"), nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}
