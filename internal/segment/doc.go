// Package segment records a continuous sample stream as a directory of
// fixed-duration chunk files and serves time ranges back out of it.
//
// A Rotator owns the directory while recording. Each chunk has its own
// writer goroutine; rotation hands the full chunk to a background
// finalizer, which closes the file, converts it to the target type and
// only then records it in the Index. The Index enforces retention and
// resolves time ranges to chunks for the Extractor.
//
// Chunk file names carry the sequence number, start offset and nominal
// duration, so an Index can be rebuilt from a directory listing alone.
package segment
