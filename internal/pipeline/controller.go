package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/smazurov/scanout/internal/events"
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/metrics"
)

// LayerChange is a staged update of one overlay layer.
type LayerChange struct {
	Index int           `json:"index"`
	State hw.LayerState `json:"state"`
	// Async updates bypass the commit event ordering. An async change to a
	// layer that is already dirty is folded into the regular update.
	Async bool `json:"async,omitempty"`
}

// Changes is a set of staged mode and layer deltas.
type Changes struct {
	Mode   *hw.Mode      `json:"mode,omitempty"`
	Layers []LayerChange `json:"layers,omitempty"`
}

// Enable powers the chain, connects it through the interlock, configures and
// starts every component, writes every cached layer disabled and arms the
// vblank source.
//
// Power sequencing failures return ErrPower with the pipeline left disabled.
// A component rejecting its configuration returns ErrHardwareInit and leaves
// the pipeline faulted; Enable then fails with ErrHardwareInit until Disable
// cleans it up.
func (p *Pipeline) Enable(mode hw.Mode) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	switch st := p.State(); st {
	case StateFaulted:
		return newError(CodeHardwareInit, "pipeline faulted, disable it before enabling", nil)
	case StateEnabled:
		p.logger.Warn("Enable ignored", "state", st)
		return nil
	}
	if err := mode.Valid(); err != nil {
		return newError(CodeInvalidConfig, "enable", err)
	}
	comps, err := p.components()
	if err != nil {
		return newError(CodeInvalidConfig, "resolve chain", err)
	}
	mode = mode.ClampBPC()

	p.logger.Info("Enabling pipeline", "mode", mode.String(), "bpc", mode.BPC, "components", len(comps))

	if err := p.powerUp(comps); err != nil {
		p.logger.Error("Power sequencing failed", "error", err)
		return err
	}

	p.interlock.Acquire()
	err = p.connect(comps)
	if err == nil {
		p.interlock.Enable()
	}
	p.interlock.Release()
	if err != nil {
		return p.fault(newError(CodeHardwareInit, "connect chain", err))
	}

	for i, comp := range comps {
		if i == 1 {
			if bg, ok := blendsBackground(comp); ok {
				bg.BackgroundInputOn()
			}
		}
		if err := comp.Configure(mode, nil); err != nil {
			return p.fault(newError(CodeHardwareInit, fmt.Sprintf("configure %s", comp.Name()), err))
		}
		comp.Start()
	}

	if err := p.revalidateLayers(); err != nil {
		return p.fault(newError(CodeHardwareInit, "layer init", err))
	}

	comps[0].EnableVblank()

	p.flagsMu.Lock()
	p.mode = mode
	p.stagedMode = mode
	p.modeDirty = false
	p.modePending = false
	p.flagsMu.Unlock()

	p.setState(StateEnabled, nil)
	p.logger.Info("Pipeline enabled", "mode", mode.String())
	return nil
}

// powerUp powers the first component, prepares the interlock and enables
// every clock, undoing completed steps on failure.
func (p *Pipeline) powerUp(comps []hw.Component) error {
	first := comps[0]
	if err := first.PowerOn(); err != nil {
		return newError(CodePower, fmt.Sprintf("power on %s", first.Name()), err)
	}
	if err := p.interlock.Prepare(); err != nil {
		first.PowerOff()
		return newError(CodePower, "prepare interlock", err)
	}
	for i, comp := range comps {
		if err := comp.EnableClock(); err != nil {
			for j := i - 1; j >= 0; j-- {
				comps[j].DisableClock()
			}
			p.interlock.Unprepare()
			first.PowerOff()
			return newError(CodePower, fmt.Sprintf("enable clock %s", comp.Name()), err)
		}
	}
	return nil
}

// connect wires the chain and adds every component to the interlock. Must
// hold the interlock.
func (p *Pipeline) connect(comps []hw.Component) error {
	for i := 0; i < len(comps)-1; i++ {
		if err := comps[i].Connect(comps[i+1].ID()); err != nil {
			return fmt.Errorf("%s -> %s: %w", comps[i].Name(), comps[i+1].Name(), err)
		}
		p.interlock.AddComponent(comps[i].ID())
	}
	p.interlock.AddComponent(comps[len(comps)-1].ID())
	return nil
}

// revalidateLayers writes every cached layer disabled; a layer must not scan
// out before the chain is running.
func (p *Pipeline) revalidateLayers() error {
	p.flagsMu.Lock()
	writes := make([]layerWrite, 0, len(p.layers))
	for i := range p.layers {
		l := &p.layers[i]
		l.state.Enabled = false
		l.dirty = false
		l.asyncDirty = false
		l.configPending = false
		l.asyncConfigPending = false
		comp, local, err := p.ownerLocked(i)
		if err != nil {
			p.flagsMu.Unlock()
			return err
		}
		writes = append(writes, layerWrite{index: i, comp: comp, local: local, state: l.state})
	}
	p.flagsMu.Unlock()

	for _, lw := range writes {
		if err := lw.comp.ConfigureLayer(lw.local, lw.state, nil); err != nil {
			return fmt.Errorf("%s layer %d: %w", lw.comp.Name(), lw.local, err)
		}
	}
	return nil
}

func (p *Pipeline) fault(err error) error {
	p.logger.Error("Pipeline enable failed", "error", err)
	p.setState(StateFaulted, err)
	return err
}

// Disable blanks every layer, waits (bounded) for in-flight sequencer work and
// one more refresh tick, then tears the chain down in reverse order and powers
// off. Wait expiry is logged and teardown proceeds. Disabling a disabled
// pipeline does nothing.
func (p *Pipeline) Disable(ctx context.Context) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	st := p.State()
	if st == StateDisabled {
		return nil
	}
	comps, err := p.components()
	if err != nil {
		return newError(CodeInvalidConfig, "resolve chain", err)
	}

	p.logger.Info("Disabling pipeline", "state", st)

	if st == StateEnabled {
		p.flagsMu.Lock()
		for i := range p.layers {
			l := &p.layers[i]
			l.state.Enabled = false
			l.dirty = true
			l.asyncDirty = false
		}
		p.flagsMu.Unlock()

		if err := p.flushLocked(false); err != nil {
			p.logger.Warn("Blanking flush failed", "error", err)
		}

		if p.flusher.path() == PathOffload {
			ok := p.waitFor(ctx, p.disableTimeout, func() bool {
				return !p.awaiting || p.stall == 0
			})
			if !ok {
				p.logger.Warn("Timed out waiting for sequencer", "timeout", p.disableTimeout)
			}
		}

		p.flagsMu.Lock()
		start := p.vblankCount
		p.flagsMu.Unlock()
		ok := p.waitFor(ctx, p.vblankWaitTimeout, func() bool {
			return p.vblankCount > start
		})
		if !ok {
			p.logger.Warn("No refresh tick before teardown", "timeout", p.vblankWaitTimeout)
		}
	}

	p.teardown(comps)

	comps[0].DisableVblank()
	comps[0].PowerOff()

	p.flagsMu.Lock()
	ev := p.pendingEvent
	p.pendingEvent = nil
	p.pendingNeedsEvent = false
	p.stall = 0
	p.awaiting = false
	p.submitted = nil
	p.latchPending = false
	p.modePending = false
	for i := range p.layers {
		p.layers[i].configPending = false
		p.layers[i].asyncConfigPending = false
	}
	p.broadcastLocked()
	p.flagsMu.Unlock()

	metrics.SetPendingLayers(p.name, 0)
	p.finalizeEvent(ev, EventCancelled)
	p.setState(StateDisabled, nil)
	p.logger.Info("Pipeline disabled")
	return nil
}

// teardown stops, disconnects and unclocks the chain in reverse order.
func (p *Pipeline) teardown(comps []hw.Component) {
	for i := len(comps) - 1; i >= 0; i-- {
		comps[i].Stop()
		if i == 1 {
			if bg, ok := blendsBackground(comps[i]); ok {
				bg.BackgroundInputOff()
			}
		}
	}

	p.interlock.Acquire()
	for i := len(comps) - 1; i >= 0; i-- {
		p.interlock.RemoveComponent(comps[i].ID())
	}
	p.interlock.Disable()
	for i := len(comps) - 2; i >= 0; i-- {
		if err := comps[i].Disconnect(comps[i+1].ID()); err != nil {
			p.logger.Warn("Disconnect failed", "from", comps[i].Name(), "to", comps[i+1].Name(), "error", err)
		}
	}
	p.interlock.Release()

	for i := len(comps) - 1; i >= 0; i-- {
		comps[i].DisableClock()
	}
	p.interlock.Unprepare()
}

// StageCommit merges changes into the pending configuration. With wantEvent
// a completion event is created, unless one is already outstanding: then the
// changes are still merged and ErrEventAlreadyPending is returned.
func (p *Pipeline) StageCommit(changes Changes, wantEvent bool) (*CompletionEvent, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	return p.stageLocked(changes, wantEvent)
}

func (p *Pipeline) stageLocked(changes Changes, wantEvent bool) (*CompletionEvent, error) {
	if changes.Mode != nil {
		if err := changes.Mode.Valid(); err != nil {
			return nil, newError(CodeInvalidConfig, "stage mode", err)
		}
	}

	p.flagsMu.Lock()
	for _, lc := range changes.Layers {
		if lc.Index < 0 || lc.Index >= len(p.layers) {
			n := len(p.layers)
			p.flagsMu.Unlock()
			return nil, newError(CodeInvalidLayer, fmt.Sprintf("layer %d out of range [0,%d)", lc.Index, n), nil)
		}
	}

	if changes.Mode != nil {
		p.stagedMode = *changes.Mode
		p.modeDirty = true
	}
	for _, lc := range changes.Layers {
		l := &p.layers[lc.Index]
		l.state = lc.State
		if lc.Async && !l.dirty {
			l.asyncDirty = true
		} else {
			l.dirty = true
			l.asyncDirty = false
		}
	}

	var ev, outstanding *CompletionEvent
	if wantEvent {
		if p.pendingEvent != nil {
			outstanding = p.pendingEvent
		} else {
			ev = newCompletionEvent(p.name)
			p.pendingEvent = ev
		}
	}
	p.flagsMu.Unlock()

	if outstanding != nil {
		p.eventsDropped.Add(1)
		metrics.ObserveEventDropped(p.name)
		p.logger.Warn("Completion event already pending, request dropped", "pending_token", outstanding.Token())
		p.bus.Publish(events.EventDroppedEvent{
			Pipeline:     p.name,
			PendingToken: outstanding.Token(),
			Timestamp:    nowString(),
		})
		return nil, newError(CodeEventAlreadyPending, fmt.Sprintf("event %s outstanding", outstanding.Token()), nil)
	}
	return ev, nil
}

// Commit stages changes and flushes them. The returned event is nil unless
// wantEvent was set and no other event was outstanding.
func (p *Pipeline) Commit(changes Changes, wantEvent bool) (*CompletionEvent, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	ev, stageErr := p.stageLocked(changes, wantEvent)
	if stageErr != nil && !errors.Is(stageErr, ErrEventAlreadyPending) {
		return nil, stageErr
	}
	if err := p.flushLocked(ev != nil); err != nil {
		return ev, err
	}
	return ev, stageErr
}

// AsyncUpdate stages layer changes outside the commit event ordering and
// flushes them when the pipeline is enabled.
func (p *Pipeline) AsyncUpdate(layers []LayerChange) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	async := make([]LayerChange, len(layers))
	for i, lc := range layers {
		lc.Async = true
		async[i] = lc
	}
	if _, err := p.stageLocked(Changes{Layers: async}, false); err != nil {
		return err
	}
	if p.State() != StateEnabled {
		return nil
	}
	return p.flushLocked(false)
}

// DisableLayer stages a disabled layer. On an enabled pipeline the change is
// flushed and, in offload mode, the call waits (bounded) for the sequencer.
func (p *Pipeline) DisableLayer(ctx context.Context, index int) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	if _, err := p.stageLocked(Changes{Layers: []LayerChange{{Index: index}}}, false); err != nil {
		return err
	}
	if p.State() != StateEnabled {
		return nil
	}
	if err := p.flushLocked(false); err != nil {
		return err
	}
	if p.flusher.path() != PathOffload {
		return nil
	}
	ok := p.waitFor(ctx, p.disableTimeout, func() bool {
		return !p.awaiting || p.stall == 0
	})
	if !ok {
		p.logger.Warn("Timed out waiting for layer disable", "layer", index, "timeout", p.disableTimeout)
	}
	return nil
}

// ConnectivityUpdate selects the output route for the active encoder set.
// The last chain element is replaced by the first route whose encoder is in
// encoderMask. No matching route is not an error; it reports false. Routes
// can only change while the pipeline is disabled.
func (p *Pipeline) ConnectivityUpdate(encoderMask uint32) (bool, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	if len(p.routes) == 0 {
		return false, nil
	}
	if st := p.State(); st == StateEnabled {
		return false, newError(CodeInvalidConfig, "route change on an enabled pipeline", nil)
	}

	for _, id := range p.routes {
		comp, ok := p.arena.Get(id)
		if !ok {
			continue
		}
		idx := comp.EncoderIndex()
		if idx < 0 || idx >= 32 || encoderMask&(1<<uint(idx)) == 0 {
			continue
		}

		p.flagsMu.Lock()
		last := len(p.chain) - 1
		prev := p.chain[last]
		p.chain[last] = id
		p.flagsMu.Unlock()

		if prev != id {
			p.logger.Info("Output route changed", "from", prev, "to", id, "encoder", idx)
		}
		return true, nil
	}

	p.logger.Debug("No route for encoder mask", "mask", fmt.Sprintf("%#x", encoderMask))
	return false, nil
}

// ValidateMode checks mode against every component with mode constraints.
func (p *Pipeline) ValidateMode(mode hw.Mode) error {
	if err := mode.Valid(); err != nil {
		return newError(CodeInvalidConfig, "validate mode", err)
	}
	comps, err := p.components()
	if err != nil {
		return newError(CodeInvalidConfig, "resolve chain", err)
	}
	for _, comp := range comps {
		v, ok := comp.(hw.ModeValidator)
		if !ok {
			continue
		}
		if err := v.ValidateMode(mode); err != nil {
			return newError(CodeInvalidConfig, fmt.Sprintf("mode rejected by %s", comp.Name()), err)
		}
	}
	return nil
}

// CheckLayer asks the component owning a layer whether state is acceptable.
func (p *Pipeline) CheckLayer(index int, state hw.LayerState) error {
	p.flagsMu.Lock()
	comp, local, err := p.ownerLocked(index)
	p.flagsMu.Unlock()
	if err != nil {
		return err
	}
	checker, ok := comp.(hw.LayerChecker)
	if !ok {
		return nil
	}
	if err := checker.CheckLayer(local, state); err != nil {
		return newError(CodeInvalidLayer, fmt.Sprintf("layer %d rejected", index), err)
	}
	return nil
}
