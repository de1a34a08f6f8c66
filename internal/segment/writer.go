package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

// FileWriter receives encoded sample bytes for one file
type FileWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// WriterFactory opens a FileWriter for a new chunk
type WriterFactory func(path string, format audio.FormatDescriptor) (FileWriter, error)

// WAVFileWriter streams PCM into a container file. The header is written
// with zero lengths up front and patched on Close, so a file closed
// mid-recording is still a valid container.
type WAVFileWriter struct {
	file      *os.File
	bw        *bufio.Writer
	format    audio.FormatDescriptor
	dataBytes int64
}

// NewWAVFileWriter creates path and writes a placeholder header
func NewWAVFileWriter(path string, format audio.FormatDescriptor) (FileWriter, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk format: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &WAVFileWriter{
		file:   f,
		bw:     bufio.NewWriterSize(f, 64*1024),
		format: format,
	}
	if _, err := w.bw.Write(audio.HeaderBytes(format, 0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return w, nil
}

// Write appends sample bytes
func (w *WAVFileWriter) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	w.dataBytes += int64(n)
	return n, err
}

// Close flushes buffered samples and patches the header lengths
func (w *WAVFileWriter) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if w.dataBytes%2 == 1 {
		_, err := w.bw.Write([]byte{0})
		keep(err)
	}
	keep(w.bw.Flush())
	if firstErr == nil {
		if w.dataBytes > 0xFFFFFFFF-64 {
			keep(fmt.Errorf("chunk data exceeds container limit: %d bytes", w.dataBytes))
		} else if _, err := w.file.WriteAt(audio.HeaderBytes(w.format, uint32(w.dataBytes)), 0); err != nil {
			keep(fmt.Errorf("failed to patch header: %w", err))
		}
	}
	keep(w.file.Sync())
	keep(w.file.Close())
	return firstErr
}

// RawFileWriter writes headerless samples
type RawFileWriter struct {
	file *os.File
	bw   *bufio.Writer
}

// NewRawFileWriter creates a headerless sample file at path
func NewRawFileWriter(path string, _ audio.FormatDescriptor) (FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &RawFileWriter{file: f, bw: bufio.NewWriterSize(f, 64*1024)}, nil
}

// Write appends sample bytes
func (w *RawFileWriter) Write(p []byte) (int, error) {
	return w.bw.Write(p)
}

// Close flushes and closes the file
func (w *RawFileWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// WriterFor returns the factory matching a file type's encoding
func WriterFor(t audio.FileType) WriterFactory {
	if t.Encoding == audio.EncodingRaw {
		return NewRawFileWriter
	}
	return NewWAVFileWriter
}

// chunkWriter owns one chunk file. Appends are queued and written by its
// own goroutine, so callers never wait on disk I/O unless the queue is full.
type chunkWriter struct {
	desc Descriptor
	file FileWriter

	queue chan []byte
	done  chan struct{}

	sendMu  sync.Mutex // guards closing and sends on queue
	closing bool

	errMu  sync.Mutex
	err    error
	frames int64
}

func startChunkWriter(desc Descriptor, file FileWriter, queueSize int) *chunkWriter {
	if queueSize <= 0 {
		queueSize = 1
	}
	w := &chunkWriter{
		desc:  desc,
		file:  file,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *chunkWriter) run() {
	defer close(w.done)

	for data := range w.queue {
		if w.Err() != nil {
			continue // drain so senders never block on a failed writer
		}
		if _, err := w.file.Write(data); err != nil {
			w.setErr(err)
		}
	}
	if err := w.file.Close(); err != nil {
		w.setErr(err)
	}
}

// append queues a copy of data. It fails once the writer is marked for
// closing or after an earlier write failed.
func (w *chunkWriter) append(data []byte, frames int) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if w.closing {
		return ErrWriterClosed
	}
	if err := w.Err(); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	w.queue <- buf

	w.errMu.Lock()
	w.frames += int64(frames)
	w.errMu.Unlock()
	return nil
}

// markClosing rejects further appends and lets the goroutine finish the file
func (w *chunkWriter) markClosing() {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if !w.closing {
		w.closing = true
		close(w.queue)
	}
}

// wait blocks until every queued write and the file close have completed
func (w *chunkWriter) wait() error {
	<-w.done
	return w.Err()
}

func (w *chunkWriter) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *chunkWriter) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *chunkWriter) Frames() int64 {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.frames
}

var _ io.WriteCloser = (*WAVFileWriter)(nil)
