package segment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Chunk file names look like
//
//	000042. 00;03;25.5-5.wav
//
// a zero-padded sequence number, a dot and a space, the start offset as
// HH;MM;SS with an optional fraction (";" stands in for ":" so the name is
// legal everywhere), a dash, the nominal duration in seconds, and the
// extension. Fractions carry up to nanosecond precision so names round-trip.
const (
	sequenceWidth  = 6
	sequenceSep    = ". "
	offsetSep      = ";"
	durationSep    = "-"
	nanosPerSecond = int64(time.Second)
	fractionDigits = 9
)

// Descriptor identifies one chunk file
type Descriptor struct {
	Sequence uint32        `json:"sequence"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
	Path     string        `json:"path"`
}

// End returns the offset one past the chunk's nominal coverage
func (d Descriptor) End() time.Duration {
	return d.Start + d.Duration
}

// Contains reports whether start <= t < end
func (d Descriptor) Contains(t time.Duration) bool {
	return t >= d.Start && t < d.End()
}

// TimeDescription renders the chunk's span for listings
func (d Descriptor) TimeDescription() string {
	return fmt.Sprintf("%s - %s", FormatOffset(d.Start, ":"), FormatOffset(d.End(), ":"))
}

// EncodeName builds the file name for a chunk
func EncodeName(sequence uint32, start, duration time.Duration, ext string) string {
	return fmt.Sprintf("%0*d%s%s%s%s.%s",
		sequenceWidth, sequence, sequenceSep,
		FormatOffset(start, offsetSep), durationSep,
		formatSeconds(duration), ext)
}

// DecodeName parses a chunk file name. It returns false for names that do
// not follow the scheme; such files are ignored by the index.
func DecodeName(name string) (Descriptor, bool) {
	base := filepath.Base(name)

	i := strings.Index(base, sequenceSep)
	if i <= 0 {
		return Descriptor{}, false
	}
	seq, err := strconv.ParseUint(base[:i], 10, 32)
	if err != nil {
		return Descriptor{}, false
	}

	rest := base[i+len(sequenceSep):]
	dot := strings.LastIndex(rest, ".")
	if dot <= 0 || dot == len(rest)-1 {
		return Descriptor{}, false
	}
	body := strings.TrimSpace(rest[:dot])

	dash := strings.LastIndex(body, durationSep)
	if dash <= 0 {
		return Descriptor{}, false
	}
	start, ok := parseOffset(strings.ReplaceAll(body[:dash], offsetSep, ":"))
	if !ok {
		return Descriptor{}, false
	}
	duration, ok := parseSeconds(body[dash+1:])
	if !ok || duration <= 0 {
		return Descriptor{}, false
	}

	return Descriptor{
		Sequence: uint32(seq),
		Start:    start,
		Duration: duration,
		Path:     name,
	}, true
}

// FormatOffset renders d as HH<sep>MM<sep>SS[.fraction]
func FormatOffset(d time.Duration, sep string) string {
	if d < 0 {
		d = 0
	}
	total := int64(d)
	hours := total / int64(time.Hour)
	total -= hours * int64(time.Hour)
	minutes := total / int64(time.Minute)
	total -= minutes * int64(time.Minute)
	return fmt.Sprintf("%02d%s%02d%s%s", hours, sep, minutes, sep, padSeconds(time.Duration(total)))
}

func padSeconds(d time.Duration) string {
	s := formatSeconds(d)
	if int64(d) < 10*nanosPerSecond {
		return "0" + s
	}
	return s
}

// formatSeconds renders whole seconds plus a trimmed fraction, e.g. "5" or "5.25"
func formatSeconds(d time.Duration) string {
	n := int64(d)
	whole := n / nanosPerSecond
	frac := n % nanosPerSecond
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	digits := strings.TrimRight(fmt.Sprintf("%0*d", fractionDigits, frac), "0")
	return strconv.FormatInt(whole, 10) + "." + digits
}

func parseSeconds(s string) (time.Duration, bool) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		return 0, false
	}
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	var nanos int64
	if hasFrac {
		if frac == "" || len(frac) > fractionDigits {
			return 0, false
		}
		frac += strings.Repeat("0", fractionDigits-len(frac))
		nanos, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || nanos < 0 {
			return 0, false
		}
	}
	return time.Duration(secs*nanosPerSecond + nanos), true
}

// parseOffset accepts H:MM:SS[.f], MM:SS[.f] or SS[.f]
func parseOffset(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	secs, ok := parseSeconds(parts[len(parts)-1])
	if !ok {
		return 0, false
	}
	total := secs
	units := []time.Duration{time.Minute, time.Hour}
	for i, j := len(parts)-2, 0; i >= 0; i, j = i-1, j+1 {
		v, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total += time.Duration(v) * units[j]
	}
	return total, true
}
