package audio

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Encoding identifies how a file type stores samples
type Encoding int

const (
	EncodingPCM   Encoding = iota // Linear PCM in a container
	EncodingMuLaw                 // G.711 μ-law in a container
	EncodingALaw                  // G.711 A-law in a container
	EncodingRaw                   // Headerless PCM-16
	EncodingAAC                   // AAC, produced by an external codec
)

// FileType is a target file format for chunks and extractions
type FileType struct {
	Name          string   `json:"name"`
	Extension     string   `json:"extension"`
	SampleRate    int      `json:"sample_rate"`
	Channels      int      `json:"channels"`
	BitsPerSample int      `json:"bits_per_sample"`
	Encoding      Encoding `json:"encoding"`
}

var (
	WAV16k = FileType{Name: "wav16k", Extension: "wav", SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM}
	WAV44k = FileType{Name: "wav44k", Extension: "wav", SampleRate: 44100, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM}
	WAV48k = FileType{Name: "wav48k", Extension: "wav", SampleRate: 48000, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM}
	MuLaw  = FileType{Name: "ulaw", Extension: "wav", SampleRate: 8000, Channels: 1, BitsPerSample: 8, Encoding: EncodingMuLaw}
	ALaw   = FileType{Name: "alaw", Extension: "wav", SampleRate: 8000, Channels: 1, BitsPerSample: 8, Encoding: EncodingALaw}
	Raw    = FileType{Name: "raw", Extension: "data", SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: EncodingRaw}
	M4A    = FileType{Name: "m4a", Extension: "m4a", SampleRate: 44100, Channels: 1, BitsPerSample: 16, Encoding: EncodingAAC}
)

var fileTypes = map[string]FileType{
	WAV16k.Name: WAV16k,
	WAV44k.Name: WAV44k,
	WAV48k.Name: WAV48k,
	MuLaw.Name:  MuLaw,
	ALaw.Name:   ALaw,
	Raw.Name:    Raw,
	M4A.Name:    M4A,
	"wav":       WAV16k,
}

// ParseFileType looks up a file type by name
func ParseFileType(name string) (FileType, error) {
	t, ok := fileTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return FileType{}, fmt.Errorf("unknown file type %q (known: %s)", name, strings.Join(FileTypeNames(), ", "))
	}
	return t, nil
}

// FileTypeNames returns the sorted list of known type names
func FileTypeNames() []string {
	names := make([]string, 0, len(fileTypes))
	for name := range fileTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceType returns the type needed to read files written as t. Container
// files describe their own layout, so for them the zero FileType is returned.
func (t FileType) SourceType() FileType {
	if t.Encoding == EncodingRaw || t.Encoding == EncodingAAC {
		return t
	}
	return FileType{}
}

// ForExtension guesses the type of existing files from their extension.
// Headerless files take the given layout.
func ForExtension(ext string, sampleRate, channels int) FileType {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case Raw.Extension:
		return Raw.WithLayout(sampleRate, channels)
	case M4A.Extension:
		return M4A
	default:
		return FileType{}
	}
}

// Native reports whether the type can be produced without an external codec
func (t FileType) Native() bool {
	return t.Encoding != EncodingAAC
}

// Format returns the container descriptor for the type
func (t FileType) Format() FormatDescriptor {
	switch t.Encoding {
	case EncodingMuLaw:
		return NewFormat(FormatMuLaw, t.SampleRate, t.Channels, 8)
	case EncodingALaw:
		return NewFormat(FormatALaw, t.SampleRate, t.Channels, 8)
	default:
		return NewPCMFormat(t.SampleRate, t.Channels, t.BitsPerSample)
	}
}

// WithLayout returns a copy of the type with the given rate and channel count
func (t FileType) WithLayout(sampleRate, channels int) FileType {
	t.SampleRate = sampleRate
	t.Channels = channels
	return t
}

// Equal reports whether two types produce identical files
func (t FileType) Equal(other FileType) bool {
	return t.Encoding == other.Encoding &&
		t.Extension == other.Extension &&
		t.SampleRate == other.SampleRate &&
		t.Channels == other.Channels &&
		t.BitsPerSample == other.BitsPerSample
}

// ReplaceExtension swaps the extension of path for the type's extension
func (t FileType) ReplaceExtension(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + t.Extension
}

func (t FileType) String() string {
	return t.Name
}
