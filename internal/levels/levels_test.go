package levels

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

func constant(n int, v int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

func TestSampleDB(t *testing.T) {
	tests := []struct {
		sample int16
		want   float64
	}{
		{0, NoiseFloor},
		{1, NoiseFloor}, // −90 dB clips to the floor
		{-32768, 0},
		{16384, 20 * math.Log10(0.5)},
		{-16384, 20 * math.Log10(0.5)},
	}
	for _, tt := range tests {
		got := SampleDB(tt.sample)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("SampleDB(%d) = %f, want %f", tt.sample, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	t.Run("silence stays at the noise floor", func(t *testing.T) {
		out := Extract(make([]int16, 100), 1, 10)
		if len(out) != 10 {
			t.Fatalf("Expected 10 values, got %d", len(out))
		}
		for i, v := range out {
			if v != NoiseFloor {
				t.Errorf("Value %d: expected %f, got %f", i, NoiseFloor, v)
			}
		}
	})

	t.Run("full scale reads zero", func(t *testing.T) {
		for _, v := range Extract(constant(50, -32768), 1, 5) {
			if v != 0 {
				t.Errorf("Expected 0, got %f", v)
			}
		}
	})

	t.Run("leftover samples are flushed", func(t *testing.T) {
		// 10 samples, 3 per value: three full blocks plus one leftover
		samples := append(make([]int16, 9), -32768)
		out := Extract(samples, 1, 3)
		if len(out) != 4 {
			t.Fatalf("Expected 4 values, got %d", len(out))
		}
		if out[3] != 0 {
			t.Errorf("Expected leftover value 0, got %f", out[3])
		}
	})

	t.Run("target above sample count", func(t *testing.T) {
		out := Extract(constant(4, 100), 1, 1000)
		if len(out) != 4 {
			t.Errorf("Expected one value per sample, got %d", len(out))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if out := Extract(nil, 1, 10); len(out) != 0 {
			t.Errorf("Expected no values, got %d", len(out))
		}
	})

	t.Run("never NaN and within bounds", func(t *testing.T) {
		samples := []int16{0, 1, -1, 32767, -32768, 100, -100, 0}
		for _, v := range Extract(samples, 2, 3) {
			if math.IsNaN(v) || v < NoiseFloor || v > 0 {
				t.Errorf("Value out of bounds: %f", v)
			}
		}
	})
}

func TestExtractorStreaming(t *testing.T) {
	e := NewExtractor(4)
	e.Write(constant(3, 0))
	e.Write(constant(3, -32768))
	out := e.Flush()
	if len(out) != 2 {
		t.Fatalf("Expected 2 values, got %d", len(out))
	}
	// First block: three floor samples and one full-scale sample
	if want := (3*NoiseFloor + 0) / 4; math.Abs(out[0]-want) > 1e-9 {
		t.Errorf("Expected %f, got %f", want, out[0])
	}
	if out[1] != 0 {
		t.Errorf("Expected 0, got %f", out[1])
	}
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	data, err := audio.EncodeWAV(constant(1600, 16384), 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := audio.ReadContainer(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	out, err := ExtractFile(path, 16, nil)
	if err != nil {
		t.Fatalf("ExtractFile failed: %v", err)
	}
	if len(out) != 16 {
		t.Fatalf("Expected 16 values, got %d", len(out))
	}
	vols := Volumes(out)
	if want := FullScaleDB + 20*math.Log10(0.5); math.Abs(vols[0].DB()-want) > 1e-9 {
		t.Errorf("Expected volume %f, got %f", want, vols[0].DB())
	}
}

func TestVolume(t *testing.T) {
	if got := DB(45).Normalized(); got != 0.5 {
		t.Errorf("Expected 0.5, got %f", got)
	}
	if got := Normalized(0.5).DB(); got != 45 {
		t.Errorf("Expected 45, got %f", got)
	}
	if !DB(45).Equal(Normalized(0.5)) {
		t.Error("Expected equal projections to compare equal")
	}
	if !Silence.Less(DefaultMaxVolume) {
		t.Error("Silence should be quieter than the default max")
	}
	if DB(10).Max(DB(20)).DB() != 20 || DB(10).Min(DB(20)).DB() != 10 {
		t.Error("Max/Min picked the wrong volume")
	}
}

func TestVolumeJSON(t *testing.T) {
	for _, v := range []Volume{DB(42.5), Normalized(0.25)} {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var back Volume
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if back.Unit() != v.Unit() || !back.Equal(v) {
			t.Errorf("Round trip changed %v into %v (%s)", v, back, data)
		}
	}

	data, _ := json.Marshal(DB(30))
	if string(data) != `{"db":30}` {
		t.Errorf("Unexpected encoding %s", data)
	}

	var v Volume
	if err := json.Unmarshal([]byte(`{}`), &v); err == nil {
		t.Error("Expected error for untagged volume")
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	for i, db := range []float64{10, 50, 20, 30, 40} {
		h.Record(time.Duration(i)*time.Second, DB(db))
	}

	if h.Len() != 3 {
		t.Fatalf("Expected 3 points, got %d", h.Len())
	}
	if first := h.Points()[0]; first.Volume.DB() != 20 {
		t.Errorf("Expected oldest points dropped, first is %v", first.Volume)
	}
	if h.MaxVolume().DB() != 50 || h.MinVolume().DB() != 10 {
		t.Errorf("Unexpected extremes %v / %v", h.MinVolume(), h.MaxVolume())
	}
	if h.Current().DB() != 40 {
		t.Errorf("Expected current 40, got %v", h.Current())
	}
	if got := h.NormalizedLevel(); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("Expected normalized level 0.75, got %f", got)
	}
	if got := h.Average(2).DB(); got != 35 {
		t.Errorf("Expected average 35, got %f", got)
	}

	recent := h.Recent(5)
	if len(recent) != 5 || !recent[0].Equal(Silence) || !recent[1].Equal(Silence) || recent[2].DB() != 20 {
		t.Errorf("Unexpected padded recent values %v", recent)
	}
	if got := h.Recent(2); got[0].DB() != 30 || got[1].DB() != 40 {
		t.Errorf("Unexpected recent values %v", got)
	}

	if got := h.InLast(time.Second); len(got) != 2 {
		t.Errorf("Expected 2 points in the last second, got %d", len(got))
	}
	if got := h.Between(2*time.Second, 3*time.Second); len(got) != 2 {
		t.Errorf("Expected 2 points between 2s and 3s, got %d", len(got))
	}

	h.Clear(3*time.Second, 4*time.Second)
	if h.Len() != 1 {
		t.Errorf("Expected 1 point after clear, got %d", h.Len())
	}

	h.Reset()
	if h.Len() != 0 || !h.Current().Equal(Silence) {
		t.Error("Reset left data behind")
	}
}

func TestSummary(t *testing.T) {
	s := NewSummary(time.Second, 10)

	half := constant(100, 16384)
	s.Add(half, 0)
	s.Add(half, 500*time.Millisecond)
	if s.Len() != 0 {
		t.Fatal("Window should not close before the next one starts")
	}

	s.Add(make([]int16, 100), time.Second) // silent window
	if s.Len() != 1 {
		t.Fatalf("Expected 1 window, got %d", s.Len())
	}

	s.Add(constant(100, -32768), 2*time.Second)
	s.Flush()

	snap := s.Snapshot()
	if len(snap.History) != 2 {
		t.Fatalf("Expected silent window to be skipped, got %v", snap.History)
	}
	if want := 20 * math.Log10(0.5); math.Abs(snap.History[0]-want) > 1e-9 {
		t.Errorf("Expected %f, got %f", want, snap.History[0])
	}
	if snap.Max != 0 || math.Abs(snap.Range-(0-snap.History[0])) > 1e-9 {
		t.Errorf("Unexpected extremes %+v", snap)
	}
}

func TestMeter(t *testing.T) {
	m, err := NewMeter(DefaultMeterConfig())
	if err != nil {
		t.Fatalf("NewMeter failed: %v", err)
	}

	loud, err := m.Process(audio.NewSampleBuffer(constant(160, -32768), 1, 0))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if loud.Level != 0 || !loud.Active || loud.Volume.DB() != FullScaleDB {
		t.Errorf("Unexpected loud reading %+v", loud)
	}

	quiet, err := m.Process(audio.NewSampleBuffer(make([]int16, 160), 1, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if quiet.Level != NoiseFloor || quiet.Active {
		t.Errorf("Unexpected quiet reading %+v", quiet)
	}

	stats := m.GetStats()
	if stats.TotalBuffers != 2 || stats.ActiveBuffers != 1 || stats.ActivePercentage != 50 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.HistoryPoints != 2 {
		t.Errorf("Expected 2 history points, got %d", stats.HistoryPoints)
	}

	if _, err := m.Process(audio.SampleBuffer{Channels: 1}); err == nil {
		t.Error("Expected empty buffer to be rejected")
	}
}

func TestNewMeterValidation(t *testing.T) {
	tests := []struct {
		name      string
		cfg       MeterConfig
		expectErr bool
	}{
		{"defaults", DefaultMeterConfig(), false},
		{"threshold above zero", MeterConfig{ActivityThreshold: 3, Smoothing: 1}, true},
		{"threshold below floor", MeterConfig{ActivityThreshold: -90, Smoothing: 1}, true},
		{"zero smoothing", MeterConfig{ActivityThreshold: -40}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMeter(tt.cfg)
			if (err != nil) != tt.expectErr {
				t.Errorf("NewMeter() error = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}
