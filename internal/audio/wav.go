package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Chunk tags understood by the container codec
const (
	TagRIFF   = "RIFF"
	TagWAVE   = "WAVE"
	TagFormat = "fmt "
	TagData   = "data"
	TagFiller = "FLLR"
	TagJunk   = "JUNK"
)

// Format tags stored in the format descriptor
const (
	FormatPCM        uint16 = 1
	FormatALaw       uint16 = 6
	FormatMuLaw      uint16 = 7
	FormatExtensible uint16 = 0xFFFE
)

const (
	fileHeaderSize   = 12 // "RIFF" + size + "WAVE"
	chunkHeaderSize  = 8  // tag + u32 length
	formatBaseSize   = 16 // fixed part of the format chunk payload
	canonicalHeader  = 44 // RIFF header + fmt chunk + data chunk header
	maxContainerSize = 1<<32 - 1
)

var (
	// ErrMissingFormatHeader is returned when a data section appears before any format section
	ErrMissingFormatHeader = errors.New("data section without preceding format section")
	// ErrMalformedContainer is returned for truncated files or bad magic values
	ErrMalformedContainer = errors.New("malformed audio container")
	// ErrLengthMismatch is returned when a declared section length does not match its payload
	ErrLengthMismatch = errors.New("declared length does not match payload")
	// ErrFormatLocked is returned when a format section is added after samples
	ErrFormatLocked = errors.New("format is immutable once a data section begins")
)

// WAVHeader represents the canonical 44-byte header of a single-format PCM file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// FormatDescriptor describes how the samples of the following data sections are encoded
type FormatDescriptor struct {
	FormatTag     uint16 `json:"format_tag"`
	Channels      uint16 `json:"channels"`
	SampleRate    uint32 `json:"sample_rate"`
	ByteRate      uint32 `json:"byte_rate"`
	BlockAlign    uint16 `json:"block_align"`
	BitsPerSample uint16 `json:"bits_per_sample"`
	// Extension holds the bytes following the fixed 16-byte part (cbSize and
	// the extensible layout), preserved as-is on round trips.
	Extension []byte `json:"-"`
}

// NewFormat builds a descriptor with derived byte rate and block alignment
func NewFormat(tag uint16, sampleRate, channels, bitsPerSample int) FormatDescriptor {
	blockAlign := uint16(channels * bitsPerSample / 8)
	return FormatDescriptor{
		FormatTag:     tag,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: uint16(bitsPerSample),
	}
}

// NewPCMFormat builds a linear PCM descriptor
func NewPCMFormat(sampleRate, channels, bitsPerSample int) FormatDescriptor {
	return NewFormat(FormatPCM, sampleRate, channels, bitsPerSample)
}

// IsPCM reports whether samples are linear PCM (plain or extensible layout)
func (f FormatDescriptor) IsPCM() bool {
	return f.FormatTag == FormatPCM || f.FormatTag == FormatExtensible
}

// Validate checks that the descriptor can describe a playable stream
func (f FormatDescriptor) Validate() error {
	if f.Channels == 0 {
		return fmt.Errorf("channels must be positive")
	}
	if f.SampleRate == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if f.BitsPerSample == 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("unsupported bit depth: %d", f.BitsPerSample)
	}
	return nil
}

// size is the exact byte size of the serialized format payload
func (f FormatDescriptor) size() uint32 {
	return formatBaseSize + uint32(len(f.Extension))
}

// FrameSize returns the number of bytes per sample frame
func (f FormatDescriptor) FrameSize() int {
	if f.BlockAlign > 0 {
		return int(f.BlockAlign)
	}
	return int(f.Channels) * int(f.BitsPerSample) / 8
}

// DurationOf returns the play time of n payload bytes in this format
func (f FormatDescriptor) DurationOf(n int) time.Duration {
	frame := f.FrameSize()
	if frame == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := int64(n / frame)
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// Section is one tagged chunk of the container in file order
type Section struct {
	Tag    string
	Length uint32
	// Format is set for format sections, and for data sections it is the
	// descriptor in effect when the section was added.
	Format *FormatDescriptor
	// Payload holds sample bytes for data sections. Filler sections carry
	// no payload and are written back as zero bytes of Length.
	Payload []byte
}

// Container is an in-memory chunked audio file
type Container struct {
	Sections []Section
	format   *FormatDescriptor
	hasData  bool
}

// NewContainer creates an empty container
func NewContainer() *Container {
	return &Container{}
}

// Format returns the current format descriptor, or nil if none was added
func (c *Container) Format() *FormatDescriptor {
	return c.format
}

// AddFormat appends a format section. It fails once samples were added.
func (c *Container) AddFormat(f FormatDescriptor) error {
	if c.hasData {
		return ErrFormatLocked
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}
	desc := f
	c.format = &desc
	c.Sections = append(c.Sections, Section{Tag: TagFormat, Length: desc.size(), Format: &desc})
	return nil
}

// AddSamples appends a data section. The declared length is validated eagerly.
func (c *Container) AddSamples(payload []byte, declaredLength uint32) error {
	if c.format == nil {
		return ErrMissingFormatHeader
	}
	if int64(declaredLength) != int64(len(payload)) {
		return fmt.Errorf("%w: declared %d, payload %d", ErrLengthMismatch, declaredLength, len(payload))
	}
	c.hasData = true
	c.Sections = append(c.Sections, Section{Tag: TagData, Length: declaredLength, Format: c.format, Payload: payload})
	return nil
}

// AddFiller appends a zero-filled placeholder section
func (c *Container) AddFiller(tag string, length uint32) error {
	if len(tag) != 4 {
		return fmt.Errorf("section tag must be 4 bytes, got %q", tag)
	}
	c.Sections = append(c.Sections, Section{Tag: tag, Length: length})
	return nil
}

// Samples returns the concatenated payload of all data sections
func (c *Container) Samples() []byte {
	var total int
	for _, s := range c.Sections {
		if s.Tag == TagData {
			total += len(s.Payload)
		}
	}
	out := make([]byte, 0, total)
	for _, s := range c.Sections {
		if s.Tag == TagData {
			out = append(out, s.Payload...)
		}
	}
	return out
}

// Duration returns the play time of all data sections
func (c *Container) Duration() time.Duration {
	var d time.Duration
	for _, s := range c.Sections {
		if s.Tag == TagData && s.Format != nil {
			d += s.Format.DurationOf(len(s.Payload))
		}
	}
	return d
}

// bodySize returns the RIFF size field: "WAVE" plus every section with padding
func (c *Container) bodySize() int64 {
	size := int64(4)
	for _, s := range c.Sections {
		length := int64(s.Length)
		if s.Tag == TagFormat && s.Format != nil {
			length = int64(s.Format.size())
		}
		size += chunkHeaderSize + length + length%2
	}
	return size
}

// WriteTo serializes the container. Format sections get their size
// recomputed from the descriptor immediately before writing.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	size := c.bodySize()
	if size > maxContainerSize {
		return 0, fmt.Errorf("container too large: %d bytes", size)
	}

	cw := &countingWriter{w: w}
	cw.writeTag(TagRIFF)
	cw.writeU32(uint32(size))
	cw.writeTag(TagWAVE)

	for i := range c.Sections {
		s := &c.Sections[i]
		switch {
		case s.Tag == TagFormat && s.Format != nil:
			s.Length = s.Format.size()
			cw.writeTag(TagFormat)
			cw.writeU32(s.Length)
			cw.writeFormat(*s.Format)
		case s.Tag == TagData:
			if int64(s.Length) != int64(len(s.Payload)) {
				return cw.n, fmt.Errorf("%w: data section declares %d, holds %d", ErrLengthMismatch, s.Length, len(s.Payload))
			}
			cw.writeTag(TagData)
			cw.writeU32(s.Length)
			cw.write(s.Payload)
		default:
			cw.writeTag(s.Tag)
			cw.writeU32(s.Length)
			cw.write(make([]byte, s.Length))
		}
		if s.Length%2 == 1 {
			cw.write([]byte{0})
		}
		if cw.err != nil {
			return cw.n, fmt.Errorf("failed to write %q section: %w", s.Tag, cw.err)
		}
	}

	return cw.n, cw.err
}

// Bytes serializes the container into memory
func (c *Container) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile serializes the container to path
func (c *Container) WriteFile(path string) error {
	data, err := c.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Decoder parses containers, logging sections it does not understand
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a decoder. A nil logger discards unknown-tag notices.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{logger: logger}
}

// Decode parses a complete container from data
func (d *Decoder) Decode(data []byte) (*Container, error) {
	if len(data) < fileHeaderSize {
		return nil, fmt.Errorf("%w: need %d header bytes, got %d", ErrMalformedContainer, fileHeaderSize, len(data))
	}
	if string(data[0:4]) != TagRIFF || string(data[8:12]) != TagWAVE {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrMalformedContainer)
	}

	c := NewContainer()
	pos := fileHeaderSize
	for pos+chunkHeaderSize <= len(data) {
		tag := string(data[pos : pos+4])
		length := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + chunkHeaderSize
		end := int64(body) + int64(length)
		if end > int64(len(data)) {
			return nil, fmt.Errorf("%w: %q section at offset %d declares %d bytes, %d remain",
				ErrMalformedContainer, tag, pos, length, len(data)-body)
		}

		switch tag {
		case TagFormat:
			if length < formatBaseSize {
				return nil, fmt.Errorf("%w: format section of %d bytes", ErrMalformedContainer, length)
			}
			f := readFormat(data[body:end])
			c.format = &f
			c.Sections = append(c.Sections, Section{Tag: TagFormat, Length: length, Format: &f})
		case TagData:
			if c.format == nil {
				return nil, ErrMissingFormatHeader
			}
			payload := make([]byte, length)
			copy(payload, data[body:end])
			c.hasData = true
			c.Sections = append(c.Sections, Section{Tag: TagData, Length: length, Format: c.format, Payload: payload})
		case TagFiller, TagJunk:
			c.Sections = append(c.Sections, Section{Tag: tag, Length: length})
		default:
			d.logger.Debug("Skipping unknown container section",
				slog.String("tag", tag),
				slog.Int("offset", pos),
				slog.Uint64("length", uint64(length)))
		}

		pos = int(end) + int(length%2)
	}

	return c, nil
}

// ReadContainer parses data without logging unknown sections
func ReadContainer(data []byte) (*Container, error) {
	return NewDecoder(nil).Decode(data)
}

// ReadContainerFile reads and parses the file at path
func ReadContainerFile(path string, logger *slog.Logger) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	c, err := NewDecoder(logger).Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return c, nil
}

// HeaderBytes returns the canonical header for a single data section of dataSize bytes
func HeaderBytes(f FormatDescriptor, dataSize uint32) []byte {
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize + dataSize%2,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: formatBaseSize,
		AudioFormat:   f.FormatTag,
		NumChannels:   f.Channels,
		SampleRate:    f.SampleRate,
		ByteRate:      f.ByteRate,
		BlockAlign:    f.BlockAlign,
		BitsPerSample: f.BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, canonicalHeader))
	// Writes into a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, header)
	return buf.Bytes()
}

// EncodeWAV encodes PCM-16 samples into a single-format container
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 || len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}

	c := NewContainer()
	if err := c.AddFormat(NewPCMFormat(sampleRate, channels, 16)); err != nil {
		return nil, err
	}
	payload := Int16ToBytes(samples)
	if err := c.AddSamples(payload, uint32(len(payload))); err != nil {
		return nil, err
	}
	return c.Bytes()
}

// DecodeWAV decodes a PCM-16 container back to interleaved samples
func DecodeWAV(data []byte) ([]int16, FormatDescriptor, error) {
	c, err := ReadContainer(data)
	if err != nil {
		return nil, FormatDescriptor{}, err
	}
	f := c.Format()
	if f == nil {
		return nil, FormatDescriptor{}, ErrMissingFormatHeader
	}
	if !f.IsPCM() || f.BitsPerSample != 16 {
		return nil, *f, fmt.Errorf("unsupported encoding: tag %d, %d bits (only 16-bit PCM is supported)", f.FormatTag, f.BitsPerSample)
	}
	return BytesToInt16(c.Samples()), *f, nil
}

// Info summarizes a container for display
type Info struct {
	FormatTag     uint16   `json:"format_tag"`
	SampleRate    uint32   `json:"sample_rate"`
	Channels      uint16   `json:"channels"`
	BitsPerSample uint16   `json:"bits_per_sample"`
	Duration      float64  `json:"duration_seconds"`
	DataSize      int      `json:"data_size_bytes"`
	NumFrames     int      `json:"num_frames"`
	Sections      []string `json:"sections"`
}

// GetInfo extracts metadata from a parsed container
func GetInfo(c *Container) (*Info, error) {
	f := c.Format()
	if f == nil {
		return nil, ErrMissingFormatHeader
	}

	info := &Info{
		FormatTag:     f.FormatTag,
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		BitsPerSample: f.BitsPerSample,
		Duration:      c.Duration().Seconds(),
	}
	for _, s := range c.Sections {
		info.Sections = append(info.Sections, s.Tag)
		if s.Tag == TagData {
			info.DataSize += len(s.Payload)
		}
	}
	if frame := f.FrameSize(); frame > 0 {
		info.NumFrames = info.DataSize / frame
	}
	return info, nil
}

func readFormat(b []byte) FormatDescriptor {
	f := FormatDescriptor{
		FormatTag:     binary.LittleEndian.Uint16(b[0:2]),
		Channels:      binary.LittleEndian.Uint16(b[2:4]),
		SampleRate:    binary.LittleEndian.Uint32(b[4:8]),
		ByteRate:      binary.LittleEndian.Uint32(b[8:12]),
		BlockAlign:    binary.LittleEndian.Uint16(b[12:14]),
		BitsPerSample: binary.LittleEndian.Uint16(b[14:16]),
	}
	if len(b) > formatBaseSize {
		f.Extension = append([]byte(nil), b[formatBaseSize:]...)
	}
	return f
}

// countingWriter remembers the first error so section writes can be chained
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countingWriter) write(p []byte) {
	if cw.err != nil {
		return
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
}

func (cw *countingWriter) writeTag(tag string) {
	cw.write([]byte(tag))
}

func (cw *countingWriter) writeU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	cw.write(b[:])
}

func (cw *countingWriter) writeFormat(f FormatDescriptor) {
	var b [formatBaseSize]byte
	binary.LittleEndian.PutUint16(b[0:2], f.FormatTag)
	binary.LittleEndian.PutUint16(b[2:4], f.Channels)
	binary.LittleEndian.PutUint32(b[4:8], f.SampleRate)
	binary.LittleEndian.PutUint32(b[8:12], f.ByteRate)
	binary.LittleEndian.PutUint16(b[12:14], f.BlockAlign)
	binary.LittleEndian.PutUint16(b[14:16], f.BitsPerSample)
	cw.write(b[:])
	cw.write(f.Extension)
}
