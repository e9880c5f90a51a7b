// Package sinks contains the progress.Sink implementations shipped with the
// audit engine: structured logs and Prometheus metrics.
package sinks
