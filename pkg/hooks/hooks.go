// Package hooks lets callers observe and cancel long-running studies.
package hooks

import (
	"context"
	"errors"
	"sync"
)

// ErrStudyCancelled is returned when a hook requests cancellation.
var ErrStudyCancelled = errors.New("study cancelled")

// Hooks is polled by the study between trials.
type Hooks interface {
	// Cancel reports whether the study should stop.
	Cancel() bool
	// Heartbeat receives progress events.
	Heartbeat(topic, subtopic, event string, fields map[string]interface{})
	// Finish is called once when the study ends.
	Finish()
}

// Default never cancels and ignores events.
type Default struct{}

func (Default) Cancel() bool                                            { return false }
func (Default) Heartbeat(string, string, string, map[string]interface{}) {}
func (Default) Finish()                                                 {}

type contextHooks struct {
	Hooks
	ctx context.Context
}

// FromContext cancels once ctx is done and forwards everything else to inner.
func FromContext(ctx context.Context, inner Hooks) Hooks {
	if inner == nil {
		inner = Default{}
	}
	return &contextHooks{Hooks: inner, ctx: ctx}
}

func (h *contextHooks) Cancel() bool {
	return h.ctx.Err() != nil || h.Hooks.Cancel()
}

// Event is a recorded heartbeat.
type Event struct {
	Topic    string
	Subtopic string
	Event    string
	Fields   map[string]interface{}
}

// Recorder keeps every heartbeat and can be told to cancel after a number of
// Cancel polls. It is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	events      []Event
	polls       int
	CancelAfter int
	finished    bool
}

// Cancel returns true from the CancelAfter-th poll on; never when CancelAfter is 0.
func (r *Recorder) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	return r.CancelAfter > 0 && r.polls >= r.CancelAfter
}

func (r *Recorder) Heartbeat(topic, subtopic, event string, fields map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Topic: topic, Subtopic: subtopic, Event: event, Fields: fields})
}

func (r *Recorder) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
}

// Events returns the recorded heartbeats.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Finished reports whether Finish was called.
func (r *Recorder) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}
