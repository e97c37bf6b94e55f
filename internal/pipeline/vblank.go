package pipeline

import (
	"time"

	"github.com/smazurov/scanout/internal/events"
	"github.com/smazurov/scanout/internal/metrics"
)

// HandleVblank is the refresh-tick entry point. It runs the write path's tick
// work (latched writes or stall detection), then finalizes the outstanding
// event when no flush is building and no packet is in flight.
func (p *Pipeline) HandleVblank() {
	p.flusher.onVblank()

	p.flagsMu.Lock()
	var ev *CompletionEvent
	if !p.awaiting && !p.latchPending {
		ev = p.takeEventLocked()
	}
	p.vblankCount++
	count := p.vblankCount
	p.broadcastLocked()
	p.flagsMu.Unlock()

	p.finalizeEvent(ev, EventPresented)

	p.vblanks.Add(1)
	metrics.ObserveVblank(p.name)
	p.bus.Publish(events.VblankEvent{
		Pipeline:  p.name,
		Sequence:  count,
		Timestamp: nowString(),
	})
}

func nowString() string {
	return time.Now().Format(time.RFC3339Nano)
}
