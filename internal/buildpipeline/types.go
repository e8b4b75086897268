package buildpipeline

import (
	"time"

	"kururi/internal/stage"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the stage is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the stage call is in flight.
	StatusWorking Status = "working"
	// StatusDone indicates the stage returned its artifact.
	StatusDone Status = "done"
	// StatusError indicates the stage failed and the run aborted.
	StatusError Status = "error"
)

// Event reports progress of one run. File labels the run and may be empty.
type Event struct {
	File    string
	Stage   stage.Name
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// Timings holds stage durations.
type Timings struct {
	stages map[stage.Name]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[stage.Name]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(name stage.Name, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[name] = dur
}

// Has reports whether a duration for name is recorded.
func (t Timings) Has(name stage.Name) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[name]
	return ok
}

// Duration returns the recorded duration for name.
func (t Timings) Duration(name stage.Name) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[name]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(names ...stage.Name) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, name := range names {
		total += t.stages[name]
	}
	return total
}

// Total returns the sum of every recorded duration.
func (t Timings) Total() time.Duration {
	var total time.Duration
	for _, d := range t.stages {
		total += d
	}
	return total
}
