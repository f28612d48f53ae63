package telemetry

import (
	"testing"
	"time"
)

// recordingSink captures events; panicSink always panics
type recordingSink struct {
	events []Event
}

func (r *recordingSink) Record(event Event) { r.events = append(r.events, event) }

type panicSink struct{}

func (panicSink) Record(Event) { panic("sink exploded") }

func TestEmitDelivers(t *testing.T) {
	sink := &recordingSink{}
	Emit(sink, Event{Name: "test_event", RequestID: "r1", At: time.Now()})

	if len(sink.events) != 1 || sink.events[0].Name != "test_event" {
		t.Fatalf("events = %+v, want one test_event", sink.events)
	}
}

func TestEmitNilSinkIsSafe(t *testing.T) {
	Emit(nil, Event{Name: "dropped"})
}

func TestEmitRecoversSinkPanic(t *testing.T) {
	Emit(panicSink{}, Event{Name: "boom"})
}

func TestNopSink(t *testing.T) {
	Emit(Nop{}, Event{Name: "ignored"})
}
