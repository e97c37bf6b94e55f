package pipeline

import (
	"fmt"
	"sync"

	"github.com/smazurov/scanout/internal/events"
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/metrics"
)

// offloadFlusher builds register writes into the pipeline's packet and
// submits it to the sequencer channel. Flags are cleared by OnComplete.
type offloadFlusher struct {
	p    *Pipeline
	cfg  OffloadWrite
	pkt  *hw.Packet
	done chan struct{}
	wg   sync.WaitGroup
}

func newOffloadFlusher(p *Pipeline, cfg OffloadWrite) (*offloadFlusher, error) {
	if cfg.Channel == nil {
		return nil, newError(CodeInvalidConfig, "offload write mode requires a sequencer channel", nil)
	}
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = hw.DefaultPacketSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &offloadFlusher{
		p:    p,
		cfg:  cfg,
		pkt:  hw.NewPacket(cfg.PacketSize),
		done: make(chan struct{}),
	}, nil
}

func (o *offloadFlusher) path() string { return PathOffload }

// start launches the completion consumer.
func (o *offloadFlusher) start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		completions := o.cfg.Channel.Completions()
		for {
			select {
			case <-o.done:
				return
			case c, ok := <-completions:
				if !ok {
					o.p.logger.Debug("Sequencer completion channel closed")
					return
				}
				o.p.OnComplete(c)
			}
		}
	}()
}

func (o *offloadFlusher) stop() {
	close(o.done)
	o.wg.Wait()
}

func (o *offloadFlusher) flush(w *work) error {
	p := o.p

	// The previous packet may still be read by the sequencer.
	if err := o.cfg.Channel.Flush(o.cfg.FlushTimeout); err != nil {
		p.logger.Warn("Sequencer channel flush failed", "error", err, "timeout", o.cfg.FlushTimeout)
	}

	if err := o.build(w); err != nil {
		p.flagsMu.Lock()
		p.flushing = false
		p.flagsMu.Unlock()
		p.logger.Error("Failed to build sequencer packet", "error", err, "capacity", o.pkt.Cap())
		return newError(CodePacket, "build packet", err)
	}
	o.pkt.Sync()

	seq := o.pkt.Seq()
	p.flagsMu.Lock()
	p.stall = stallBudget
	p.awaiting = true
	p.submittedSeq = seq
	p.submitted = w
	p.flushing = false
	p.flagsMu.Unlock()

	if err := o.cfg.Channel.Submit(o.pkt); err != nil {
		p.flagsMu.Lock()
		if p.submittedSeq == seq {
			p.stall = 0
			p.awaiting = false
		}
		p.broadcastLocked()
		p.flagsMu.Unlock()
		p.logger.Error("Packet submission failed", "seq", seq, "error", err)
		return newError(CodePacket, fmt.Sprintf("submit packet %d", seq), err)
	}

	p.submissions.Add(1)
	metrics.ObservePacketSubmitted(p.name)
	p.logger.Debug("Packet submitted", "seq", seq, "bytes", o.pkt.Len())
	return nil
}

// build rebuilds the packet: event barrier, register writes, end marker.
func (o *offloadFlusher) build(w *work) error {
	o.pkt.Reset()
	if err := o.pkt.ClearEvent(o.cfg.Event); err != nil {
		return err
	}
	if err := o.pkt.WaitForEvent(o.cfg.Event); err != nil {
		return err
	}
	if err := o.p.apply(w, o.pkt); err != nil {
		return err
	}
	return o.pkt.EndOfCommands()
}

// onVblank services stall detection.
func (o *offloadFlusher) onVblank() {
	p := o.p

	p.flagsMu.Lock()
	if !p.awaiting || p.stall == 0 {
		p.flagsMu.Unlock()
		return
	}
	p.stall--
	timedOut := p.stall == 0
	seq := p.submittedSeq
	if timedOut {
		p.broadcastLocked()
	}
	p.flagsMu.Unlock()

	if !timedOut {
		return
	}
	p.sequencerTimeouts.Add(1)
	metrics.ObserveSequencerTimeout(p.name)
	p.logger.Error("Sequencer timeout",
		"seq", seq,
		"error", ErrSequencerTimeout,
		"budget", stallBudget)
	p.bus.Publish(events.SequencerTimeoutEvent{
		Pipeline:  p.name,
		PacketSeq: seq,
		Timestamp: nowString(),
	})
}

// OnComplete handles a sequencer completion. On success it clears the
// pending flags of the writes the packet carried unless a newer flush is
// building, finalizes a due event,
// resets stall detection and wakes teardown waiters. Failures and completions
// of superseded packets change nothing.
func (p *Pipeline) OnComplete(c hw.Completion) {
	p.completions.Add(1)
	metrics.ObservePacketCompleted(p.name, c.OK())

	if !c.OK() {
		p.logger.Warn("Sequencer reported failure", "seq", c.Seq, "status", c.Status)
		return
	}

	p.flagsMu.Lock()
	if !p.awaiting || c.Seq != p.submittedSeq {
		current := p.submittedSeq
		p.flagsMu.Unlock()
		p.logger.Debug("Ignoring stale completion", "seq", c.Seq, "current", current)
		return
	}

	if !p.flushing && p.submitted != nil {
		p.clearAppliedLocked(p.submitted)
	}
	p.submitted = nil
	ev := p.takeEventLocked()
	p.stall = 0
	p.awaiting = false
	pending := p.pendingCountLocked()
	p.broadcastLocked()
	p.flagsMu.Unlock()

	metrics.SetPendingLayers(p.name, pending)
	p.logger.Debug("Packet completed", "seq", c.Seq)
	p.publishApplied(PathOffload, c.Seq)
	p.finalizeEvent(ev, EventPresented)
}
