package segment

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoRecording is returned when the index holds no chunks
	ErrNoRecording = errors.New("no recording available")
	// ErrOutOfRange is returned when a requested bound lies outside every chunk
	ErrOutOfRange = errors.New("requested range is not available")
	// ErrWriterClosed is returned when appending to a writer marked for closing
	ErrWriterClosed = errors.New("chunk writer is closing")
	// ErrNotRecording is returned when buffers arrive outside a recording
	ErrNotRecording = errors.New("rotation controller is not recording")
)

// DirectoryError reports a failure to create, clear or list the chunk directory
type DirectoryError struct {
	Op   string
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("chunk directory %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// WriterError reports a failure to open, append to or finalize a chunk writer
type WriterError struct {
	Op       string
	Sequence uint32
	Path     string
	Err      error
	// Stored is set when the buffer being handled reached its chunk and
	// only the writer for the next chunk failed
	Stored bool
}

func (e *WriterError) Error() string {
	return fmt.Sprintf("chunk %d %s (%s): %v", e.Sequence, e.Op, e.Path, e.Err)
}

func (e *WriterError) Unwrap() error { return e.Err }

// BufferStored reports whether a Handle error left the buffer written
func BufferStored(err error) bool {
	var we *WriterError
	return errors.As(err, &we) && we.Stored
}

// RangeError reports which bound of a request fell outside the available chunks
type RangeError struct {
	Bound     string // "lower" or "upper"
	Offset    time.Duration
	Available Range
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s bound %v outside available %v", e.Bound, e.Offset, e.Available)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }
