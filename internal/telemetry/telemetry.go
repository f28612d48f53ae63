// Package telemetry emits fire-and-forget engine events. A failing or
// panicking sink never affects the request that produced the event.
package telemetry

import (
	"time"

	"github.com/charmbracelet/log"
)

// Event is one engine occurrence worth recording
type Event struct {
	Name      string
	RequestID string
	At        time.Time
	Fields    map[string]any
}

// Sink receives events. Implementations should return quickly; slow sinks
// should buffer internally.
type Sink interface {
	Record(event Event)
}

// Emit sends the event to the sink, swallowing panics. Safe to call with a
// nil sink.
func Emit(sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("telemetry sink panicked", "event", event.Name, "panic", r)
		}
	}()
	sink.Record(event)
}

// LogSink writes events as structured log lines
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink writing to the given logger, or the default
// logger when nil
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// Record implements Sink
func (s *LogSink) Record(event Event) {
	args := []any{"request_id", event.RequestID}
	for k, v := range event.Fields {
		args = append(args, k, v)
	}
	s.logger.Info("event "+event.Name, args...)
}

// Nop is a Sink that discards everything
type Nop struct{}

// Record implements Sink
func (Nop) Record(Event) {}
