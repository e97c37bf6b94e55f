package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CompletionEvent notifies a client that its commit reached the screen.
// It is finalized exactly once, as presented or cancelled.
type CompletionEvent struct {
	token    string
	pipeline string
	created  time.Time

	once   sync.Once
	done   chan struct{}
	status EventStatus
	at     time.Time
}

func newCompletionEvent(pipeline string) *CompletionEvent {
	return &CompletionEvent{
		token:    uuid.NewString(),
		pipeline: pipeline,
		created:  time.Now(),
		done:     make(chan struct{}),
		status:   EventPending,
	}
}

// Token returns the unique event identifier.
func (e *CompletionEvent) Token() string { return e.token }

// Pipeline returns the name of the pipeline that owns the event.
func (e *CompletionEvent) Pipeline() string { return e.pipeline }

// Done is closed once the event is finalized.
func (e *CompletionEvent) Done() <-chan struct{} { return e.done }

// Status returns the event outcome, EventPending until finalized.
func (e *CompletionEvent) Status() EventStatus {
	select {
	case <-e.done:
		return e.status
	default:
		return EventPending
	}
}

// FinalizedAt returns when the event was finalized, or the zero time.
func (e *CompletionEvent) FinalizedAt() time.Time {
	select {
	case <-e.done:
		return e.at
	default:
		return time.Time{}
	}
}

// Wait blocks until the event is finalized or ctx ends.
func (e *CompletionEvent) Wait(ctx context.Context) (EventStatus, error) {
	select {
	case <-e.done:
		return e.status, nil
	case <-ctx.Done():
		return EventPending, ctx.Err()
	}
}

// finalize reports whether this call finalized the event.
func (e *CompletionEvent) finalize(status EventStatus) bool {
	finalized := false
	e.once.Do(func() {
		e.status = status
		e.at = time.Now()
		close(e.done)
		finalized = true
	})
	return finalized
}
