// Package recorder turns a stream of sample buffers into a stored recording.
//
// An Output decides the storage layout: one file (SingleFile), rotating
// chunks (Segmented) or headerless files mirrored into chunks (RawMirror).
// A Session pairs an output with a level meter and keeps a session.json
// sidecar next to the audio. The Registry owns the active sessions,
// finishes the ones that go idle and lists finished ones in the catalog.
package recorder
