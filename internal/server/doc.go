// Package server exposes active recording sessions, the recording catalog
// and Prometheus metrics over HTTP.
package server
