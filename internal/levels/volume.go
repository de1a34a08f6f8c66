package levels

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	// MaxDB is the top of the decibel scale used for display
	MaxDB = 90.0
	// FullScaleDB shifts a full-scale-relative level (≤ 0) onto the display scale
	FullScaleDB = 90.0
)

// Unit tags which scale a Volume was expressed in
type Unit int

const (
	UnitDB Unit = iota
	UnitNormalized
)

// Volume is a loudness value in decibels (0..MaxDB) or normalized units (0..1).
// Comparisons always use the decibel projection.
type Volume struct {
	unit  Unit
	value float64
}

var (
	// Silence is the zero volume
	Silence = Normalized(0)
	// DefaultMaxVolume is the assumed loudest level before any samples are seen
	DefaultMaxVolume = DB(70)
)

// DB creates a volume on the decibel scale
func DB(v float64) Volume {
	return Volume{unit: UnitDB, value: v}
}

// Normalized creates a volume on the 0..1 scale
func Normalized(v float64) Volume {
	return Volume{unit: UnitNormalized, value: v}
}

// FromLevel maps a full-scale-relative level (−80..0 dB) onto the display scale
func FromLevel(level float64) Volume {
	return DB(level + FullScaleDB)
}

// Unit returns the scale the volume was created with
func (v Volume) Unit() Unit {
	return v.unit
}

// DB returns the decibel projection
func (v Volume) DB() float64 {
	if v.unit == UnitNormalized {
		return v.value * MaxDB
	}
	return v.value
}

// Normalized returns the 0..1 projection
func (v Volume) Normalized() float64 {
	if v.unit == UnitDB {
		return v.value / MaxDB
	}
	return v.value
}

// Equal compares volumes by their decibel projection
func (v Volume) Equal(other Volume) bool {
	return v.DB() == other.DB()
}

// Less orders volumes by their decibel projection
func (v Volume) Less(other Volume) bool {
	return v.DB() < other.DB()
}

// Max returns the louder of two volumes
func (v Volume) Max(other Volume) Volume {
	if v.Less(other) {
		return other
	}
	return v
}

// Min returns the quieter of two volumes
func (v Volume) Min(other Volume) Volume {
	if other.Less(v) {
		return other
	}
	return v
}

// IsValid reports whether the value is a finite number
func (v Volume) IsValid() bool {
	return !math.IsNaN(v.value) && !math.IsInf(v.value, 0)
}

func (v Volume) String() string {
	if v.unit == UnitNormalized {
		return fmt.Sprintf("%.3f", v.value)
	}
	return fmt.Sprintf("%.1f dB", v.value)
}

type volumeJSON struct {
	DB   *float64 `json:"db,omitempty"`
	Unit *float64 `json:"unit,omitempty"`
}

// MarshalJSON encodes the volume as {"db": x} or {"unit": x}
func (v Volume) MarshalJSON() ([]byte, error) {
	value := v.value
	if v.unit == UnitNormalized {
		return json.Marshal(volumeJSON{Unit: &value})
	}
	return json.Marshal(volumeJSON{DB: &value})
}

// UnmarshalJSON decodes either tagged form
func (v *Volume) UnmarshalJSON(data []byte) error {
	var raw volumeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.DB != nil:
		*v = DB(*raw.DB)
	case raw.Unit != nil:
		*v = Normalized(*raw.Unit)
	default:
		return fmt.Errorf("volume needs a \"db\" or \"unit\" key")
	}
	return nil
}
