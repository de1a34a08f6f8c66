// Package audio holds the sample-level building blocks shared by the recorder:
// the chunked WAV container codec, the producer's SampleBuffer, the raw PCM
// accumulator and the catalog of target file types.
package audio
