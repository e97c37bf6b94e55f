package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers. A nil bus drops the event.
// Usage: bus.Publish(VblankEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case VblankEvent:
		event.Publish(b.dispatcher, e)
	case CommitCompletedEvent:
		event.Publish(b.dispatcher, e)
	case EventDroppedEvent:
		event.Publish(b.dispatcher, e)
	case SequencerTimeoutEvent:
		event.Publish(b.dispatcher, e)
	case ConfigAppliedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineStateChangedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e SequencerTimeoutEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(VblankEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CommitCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(EventDroppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SequencerTimeoutEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConfigAppliedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// SubscribeToChannel bridges a typed subscription to a channel. Events are
// dropped when the channel is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- T) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
