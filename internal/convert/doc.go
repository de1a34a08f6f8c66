// Package convert turns chunk files into a single file of a target type.
// The Native converter handles PCM, G.711 and headerless output in process;
// Exec hands AAC encoding to an external codec binary with bounded
// concurrency and retries; Router picks between them by target type.
package convert
