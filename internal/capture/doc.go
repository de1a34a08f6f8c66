// Package capture turns a raw PCM byte stream (a file, a pipe or stdin)
// into timestamped sample buffers for a recording session.
package capture
