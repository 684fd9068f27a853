// Package participanttest provides an in-memory event publisher for participant tests.
package participanttest

import (
	"context"
	"sync"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// Recorder records published events. Err, when set, is returned by every publish.
type Recorder struct {
	mu     sync.Mutex
	events []contracts.Event
	Err    error
}

func (r *Recorder) PublishEvent(ctx context.Context, ev contracts.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []contracts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.Event(nil), r.events...)
}

// Last returns the most recent event, or nil
func (r *Recorder) Last() contracts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}
