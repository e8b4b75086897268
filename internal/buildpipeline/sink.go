package buildpipeline

import (
	"sync"
	"time"

	"kururi/internal/stage"
)

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// RecordingSink keeps every event it receives. It is safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *RecordingSink) OnEvent(evt Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func emitQueued(sink ProgressSink, file string, names []stage.Name) {
	if sink == nil {
		return
	}
	for _, name := range names {
		sink.OnEvent(Event{File: file, Stage: name, Status: StatusQueued})
	}
}

func emitStage(sink ProgressSink, file string, name stage.Name, status Status, err error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.OnEvent(Event{File: file, Stage: name, Status: status, Err: err, Elapsed: elapsed})
}
