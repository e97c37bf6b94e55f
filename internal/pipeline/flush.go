package pipeline

import (
	"fmt"

	"github.com/smazurov/scanout/internal/events"
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/metrics"
)

// flusher is the write path resolved once in New.
type flusher interface {
	path() string
	// flush makes the collected work take effect. Called with commitMu held
	// and flushing set; it must clear flushing before returning.
	flush(w *work) error
	// onVblank runs at the start of every refresh tick.
	onVblank()
	start()
	stop()
}

// layerWrite is one layer write resolved against the chain.
type layerWrite struct {
	index int
	comp  hw.Component
	local int
	state hw.LayerState
	gen   uint64
	async bool
}

// work is the register-write set of one flush cycle.
type work struct {
	comps  []hw.Component
	mode   *hw.Mode
	layers []layerWrite
}

func (w *work) empty() bool {
	return w.mode == nil && len(w.layers) == 0
}

// Flush makes staged changes take effect. With needsEvent the outstanding
// completion event is finalized once the changes land.
func (p *Pipeline) Flush(needsEvent bool) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	return p.flushLocked(needsEvent)
}

// flushLocked runs one flush cycle. Must hold commitMu.
func (p *Pipeline) flushLocked(needsEvent bool) error {
	p.flagsMu.Lock()
	if p.state != StateEnabled {
		var ev *CompletionEvent
		if needsEvent {
			ev = p.pendingEvent
			p.pendingEvent = nil
			p.pendingNeedsEvent = false
		}
		p.flagsMu.Unlock()
		p.finalizeEvent(ev, EventCancelled)
		return ErrNotEnabled
	}

	p.flushing = true
	if needsEvent {
		p.pendingNeedsEvent = true
	}
	w, err := p.collectLocked()
	if _, offload := p.flusher.(*offloadFlusher); offload && err == nil {
		// Each packet replaces the previous one, which may never have
		// executed, so it carries every write still config-pending.
		w, err = p.pendingWorkLocked()
	}
	if err != nil {
		p.flushing = false
		p.flagsMu.Unlock()
		return err
	}
	pending := p.pendingCountLocked()
	p.flagsMu.Unlock()

	p.flushes.Add(1)
	metrics.ObserveFlush(p.name, p.flusher.path())
	metrics.SetPendingLayers(p.name, pending)
	p.logger.Debug("Flushing configuration",
		"layers", len(w.layers),
		"mode", w.mode != nil,
		"needs_event", needsEvent)

	return p.flusher.flush(w)
}

// collectLocked moves dirty flags to config-pending and resolves the writes
// of this cycle. Must hold flagsMu.
func (p *Pipeline) collectLocked() (*work, error) {
	comps, err := p.componentsLocked()
	if err != nil {
		return nil, newError(CodeInvalidConfig, "resolve chain", err)
	}
	w := &work{comps: comps}

	if p.modeDirty {
		m := p.stagedMode
		w.mode = &m
		p.mode = m
		p.modeDirty = false
		p.modePending = true
	}

	for i := range p.layers {
		l := &p.layers[i]
		var async bool
		switch {
		case l.dirty:
			l.dirty = false
			l.configPending = true
		case l.asyncDirty:
			l.asyncDirty = false
			l.asyncConfigPending = true
			async = true
		default:
			continue
		}
		l.gen++

		comp, local, err := p.ownerLocked(i)
		if err != nil {
			return nil, err
		}
		w.layers = append(w.layers, layerWrite{
			index: i,
			comp:  comp,
			local: local,
			state: l.state,
			gen:   l.gen,
			async: async,
		})
	}
	return w, nil
}

// pendingWorkLocked rebuilds the writes of every layer that is still
// config-pending, plus the pending mode. Must hold flagsMu.
func (p *Pipeline) pendingWorkLocked() (*work, error) {
	comps, err := p.componentsLocked()
	if err != nil {
		return nil, err
	}
	w := &work{comps: comps}
	if p.modePending {
		m := p.mode
		w.mode = &m
	}
	for i := range p.layers {
		l := &p.layers[i]
		if !l.configPending && !l.asyncConfigPending {
			continue
		}
		comp, local, err := p.ownerLocked(i)
		if err != nil {
			return nil, err
		}
		w.layers = append(w.layers, layerWrite{
			index: i,
			comp:  comp,
			local: local,
			state: l.state,
			gen:   l.gen,
			async: l.asyncConfigPending && !l.configPending,
		})
	}
	return w, nil
}

// apply writes the work to hardware (pkt == nil) or appends it to pkt.
func (p *Pipeline) apply(w *work, pkt *hw.Packet) error {
	if w.mode != nil {
		mode := w.mode.ClampBPC()
		for _, comp := range w.comps {
			if err := comp.Configure(mode, pkt); err != nil {
				return fmt.Errorf("configure %s: %w", comp.Name(), err)
			}
		}
	}
	for _, lw := range w.layers {
		if err := lw.comp.ConfigureLayer(lw.local, lw.state, pkt); err != nil {
			return fmt.Errorf("configure %s layer %d: %w", lw.comp.Name(), lw.local, err)
		}
	}
	return nil
}

// clearAppliedLocked clears the flags of layers written by w that have not
// been staged again since. Must hold flagsMu.
func (p *Pipeline) clearAppliedLocked(w *work) {
	if w.mode != nil && !p.modeDirty {
		p.modePending = false
	}
	for _, lw := range w.layers {
		l := &p.layers[lw.index]
		if l.gen != lw.gen {
			continue
		}
		l.configPending = false
		l.asyncConfigPending = false
	}
}

// directFlusher programs registers from software.
type directFlusher struct {
	p     *Pipeline
	latch bool
}

func (d *directFlusher) path() string {
	if d.latch {
		return PathLatched
	}
	return PathDirect
}

func (d *directFlusher) start() {}
func (d *directFlusher) stop()  {}

func (d *directFlusher) flush(w *work) error {
	p := d.p

	if d.latch {
		p.flagsMu.Lock()
		if !w.empty() {
			p.latchPending = true
		}
		p.flushing = false
		p.flagsMu.Unlock()
		return nil
	}

	var err error
	if !w.empty() {
		p.interlock.Acquire()
		err = p.apply(w, nil)
		p.interlock.Release()
	}

	p.flagsMu.Lock()
	if err == nil {
		p.clearAppliedLocked(w)
	}
	p.flushing = false
	pending := p.pendingCountLocked()
	p.flagsMu.Unlock()

	metrics.SetPendingLayers(p.name, pending)
	if err != nil {
		p.logger.Error("Direct write failed", "error", err)
		return newError(CodeInvalidConfig, "direct write", err)
	}
	if !w.empty() {
		p.publishApplied(PathDirect, 0)
	}
	return nil
}

// onVblank performs the latched writes staged since the previous tick.
func (d *directFlusher) onVblank() {
	if !d.latch {
		return
	}
	p := d.p

	p.flagsMu.Lock()
	if !p.latchPending || p.flushing || p.state != StateEnabled {
		p.flagsMu.Unlock()
		return
	}
	w, err := p.pendingWorkLocked()
	p.latchPending = false
	p.flagsMu.Unlock()
	if err != nil {
		p.logger.Error("Cannot resolve latched writes", "error", err)
		return
	}

	if err := p.apply(w, nil); err != nil {
		p.logger.Error("Latched write failed", "error", err)
		return
	}

	p.flagsMu.Lock()
	p.clearAppliedLocked(w)
	pending := p.pendingCountLocked()
	p.flagsMu.Unlock()

	metrics.SetPendingLayers(p.name, pending)
	p.publishApplied(PathLatched, 0)
}

func (p *Pipeline) publishApplied(path string, seq uint64) {
	p.bus.Publish(events.ConfigAppliedEvent{
		Pipeline:  p.name,
		Path:      path,
		PacketSeq: seq,
		Timestamp: nowString(),
	})
}
