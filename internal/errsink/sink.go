// Package errsink routes unrecoverable capture errors to a single place.
//
// Profiling session teardown has no caller left to return an error to, so
// failures that would otherwise vanish (a capture that cannot be stopped or
// decoded) are handed to a Sink instead.
package errsink

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Sink receives errors that have no caller to return to.
// Implementations must not block.
type Sink interface {
	Report(err error)
}

// LogSink logs reported errors and keeps a running count for the agent
// status surface.
type LogSink struct {
	logger zerolog.Logger
	count  atomic.Int64
}

// NewLogSink creates a Sink backed by the given logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Report logs the error and increments the failure counter.
func (s *LogSink) Report(err error) {
	if err == nil {
		return
	}
	s.count.Add(1)
	s.logger.Error().Err(err).Msg("profile capture failed")
}

// Count returns the number of errors reported so far.
func (s *LogSink) Count() int64 {
	return s.count.Load()
}
