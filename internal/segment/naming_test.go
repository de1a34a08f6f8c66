package segment

import (
	"testing"
	"time"
)

func TestEncodeName(t *testing.T) {
	tests := []struct {
		name     string
		sequence uint32
		start    time.Duration
		duration time.Duration
		ext      string
		want     string
	}{
		{"first chunk", 1, 0, 5 * time.Second, "wav", "000001. 00;00;00-5.wav"},
		{"fractional start", 42, 3*time.Minute + 25500*time.Millisecond, 5 * time.Second, "wav", "000042. 00;03;25.5-5.wav"},
		{"hours", 7, 2*time.Hour + 5*time.Second, 30 * time.Second, "m4a", "000007. 02;00;05-30.m4a"},
		{"fractional duration", 3, 10 * time.Second, 2500 * time.Millisecond, "data", "000003. 00;00;10-2.5.data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeName(tt.sequence, tt.start, tt.duration, tt.ext)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNameRoundTrip(t *testing.T) {
	tests := []Descriptor{
		{Sequence: 1, Start: 0, Duration: 5 * time.Second},
		{Sequence: 999999, Start: 99*time.Hour + 59*time.Minute + 59*time.Second, Duration: time.Minute},
		{Sequence: 12, Start: time.Hour + 2*time.Minute + 3*time.Second + 1, Duration: 1500 * time.Millisecond},
		{Sequence: 5, Start: 1200 * time.Millisecond, Duration: 333333333},
	}

	for _, want := range tests {
		name := EncodeName(want.Sequence, want.Start, want.Duration, "wav")
		got, ok := DecodeName("/rec/" + name)
		if !ok {
			t.Errorf("Failed to decode %q", name)
			continue
		}
		if got.Sequence != want.Sequence || got.Start != want.Start || got.Duration != want.Duration {
			t.Errorf("Round trip of %q gave %+v, want %+v", name, got, want)
		}
		if got.Path != "/rec/"+name {
			t.Errorf("Expected path to be kept, got %q", got.Path)
		}
	}
}

func TestDecodeNameRejects(t *testing.T) {
	names := []string{
		"notes.txt",
		"session.json",
		"000001.00;00;00-5.wav",
		"abc. 00;00;00-5.wav",
		"000001. 00;00;00.wav",
		"000001. 00;00;00-0.wav",
		"000001. 00;00;00-5",
		"000001. 00;00;00-5.wav.partial",
		"000001. 00;00;00-5.m4a.stage.wav",
		"000001. 00;xx;00-5.wav",
	}

	for _, name := range names {
		if d, ok := DecodeName(name); ok {
			t.Errorf("Expected %q to be rejected, got %+v", name, d)
		}
	}
}

func TestDescriptor(t *testing.T) {
	d := Descriptor{Sequence: 2, Start: 5 * time.Second, Duration: 5 * time.Second}

	if d.End() != 10*time.Second {
		t.Errorf("Expected end 10s, got %v", d.End())
	}
	if !d.Contains(5*time.Second) || !d.Contains(9999*time.Millisecond) {
		t.Error("Expected start and interior to be contained")
	}
	if d.Contains(10*time.Second) || d.Contains(4*time.Second) {
		t.Error("Expected end and earlier offsets to be excluded")
	}
	if got := d.TimeDescription(); got != "00:00:05 - 00:00:10" {
		t.Errorf("Unexpected time description %q", got)
	}
}

func TestFormatOffset(t *testing.T) {
	if got := FormatOffset(-time.Second, ":"); got != "00:00:00" {
		t.Errorf("Expected negative offsets to clamp, got %q", got)
	}
	if got := FormatOffset(61*time.Minute+1250*time.Millisecond, ":"); got != "01:01:01.25" {
		t.Errorf("Unexpected offset %q", got)
	}
}
