// Package levels turns PCM samples into loudness data: a decimating dB
// pipeline for waveform display, a live per-buffer meter with a bounded
// history, and a coarse per-window summary kept with each recording.
package levels
