package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/scanout/internal/events"
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/logging"
	"github.com/smazurov/scanout/internal/metrics"
)

// Config describes one output path.
type Config struct {
	Name string

	// Chain is the ordered component path, first component first.
	Chain []hw.ComponentID
	// Routes are candidate output components. When present the chain gets
	// one extra slot selected by ConnectivityUpdate.
	Routes []hw.ComponentID

	Arena     *hw.Arena
	Interlock hw.Interlock

	// WriteMode defaults to DirectWrite{}.
	WriteMode WriteMode

	Bus    *events.Bus
	Logger *slog.Logger

	DisableTimeout    time.Duration
	VblankWaitTimeout time.Duration
}

// layer is the staged state and bookkeeping of one overlay layer.
// dirty and asyncDirty are never both set.
type layer struct {
	state              hw.LayerState
	dirty              bool
	asyncDirty         bool
	configPending      bool
	asyncConfigPending bool
	// gen increments every time the layer becomes config-pending, so a
	// deferred writer only clears the flags it wrote.
	gen uint64
}

// Pipeline is one display output: an ordered component chain plus its commit
// bookkeeping.
type Pipeline struct {
	name      string
	arena     *hw.Arena
	interlock hw.Interlock
	routes    []hw.ComponentID
	bus       *events.Bus
	logger    *slog.Logger
	flusher   flusher

	disableTimeout    time.Duration
	vblankWaitTimeout time.Duration

	// commitMu serializes the control path. Never taken by the vblank or
	// completion paths.
	commitMu sync.Mutex

	// flagsMu guards everything below. Held for short sections only and
	// never across component calls.
	flagsMu           sync.Mutex
	state             State
	chain             []hw.ComponentID
	mode              hw.Mode
	stagedMode        hw.Mode
	modeDirty         bool
	modePending       bool
	layers            []layer
	flushing          bool
	pendingEvent      *CompletionEvent
	pendingNeedsEvent bool
	stall             int
	awaiting          bool
	submittedSeq      uint64
	submitted         *work
	latchPending      bool
	vblankCount       uint64
	wake              chan struct{}

	vblanks           atomic.Uint64
	flushes           atomic.Uint64
	submissions       atomic.Uint64
	completions       atomic.Uint64
	sequencerTimeouts atomic.Uint64
	eventsFinalized   atomic.Uint64
	eventsDropped     atomic.Uint64

	closeOnce sync.Once
}

// New creates a disabled pipeline and registers its vblank handler on the
// first component of the chain.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Name == "" {
		return nil, newError(CodeInvalidConfig, "pipeline name is required", nil)
	}
	if len(cfg.Chain) == 0 {
		return nil, newError(CodeInvalidConfig, fmt.Sprintf("pipeline %s has an empty chain", cfg.Name), nil)
	}
	if cfg.Arena == nil || cfg.Interlock == nil {
		return nil, newError(CodeInvalidConfig, "arena and interlock are required", nil)
	}
	for _, id := range cfg.Chain {
		if _, err := cfg.Arena.MustGet(id); err != nil {
			return nil, newError(CodeInvalidConfig, fmt.Sprintf("pipeline %s", cfg.Name), err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger("pipeline")
	}
	logger = logger.With("pipeline", cfg.Name)

	p := &Pipeline{
		name:              cfg.Name,
		arena:             cfg.Arena,
		interlock:         cfg.Interlock,
		bus:               cfg.Bus,
		logger:            logger,
		disableTimeout:    cfg.DisableTimeout,
		vblankWaitTimeout: cfg.VblankWaitTimeout,
		state:             StateDisabled,
		chain:             append([]hw.ComponentID(nil), cfg.Chain...),
		wake:              make(chan struct{}),
	}
	if p.disableTimeout <= 0 {
		p.disableTimeout = DefaultDisableTimeout
	}
	if p.vblankWaitTimeout <= 0 {
		p.vblankWaitTimeout = DefaultVblankWaitTimeout
	}

	if err := p.initRoutes(cfg.Routes); err != nil {
		return nil, err
	}

	count, err := p.layerCountLocked()
	if err != nil {
		return nil, err
	}
	p.layers = make([]layer, count)

	switch m := cfg.WriteMode.(type) {
	case nil:
		p.flusher = &directFlusher{p: p}
	case DirectWrite:
		p.flusher = &directFlusher{p: p, latch: m.LatchOnVblank}
	case *DirectWrite:
		p.flusher = &directFlusher{p: p, latch: m.LatchOnVblank}
	case OffloadWrite:
		f, err := newOffloadFlusher(p, m)
		if err != nil {
			return nil, err
		}
		p.flusher = f
	case *OffloadWrite:
		f, err := newOffloadFlusher(p, *m)
		if err != nil {
			return nil, err
		}
		p.flusher = f
	default:
		return nil, newError(CodeInvalidConfig, fmt.Sprintf("unsupported write mode %T", cfg.WriteMode), nil)
	}

	first, _ := p.arena.Get(p.chain[0])
	first.RegisterVblankCallback(p.HandleVblank)

	p.flusher.start()

	p.logger.Debug("Pipeline created",
		"chain", p.chain,
		"layers", count,
		"write_mode", p.flusher.path())
	return p, nil
}

// initRoutes appends the output slot and fills it with the first route that
// terminates at an encoder.
func (p *Pipeline) initRoutes(routes []hw.ComponentID) error {
	for _, id := range routes {
		comp, err := p.arena.MustGet(id)
		if err != nil {
			return newError(CodeInvalidConfig, fmt.Sprintf("pipeline %s route", p.name), err)
		}
		if comp.EncoderIndex() == hw.NoEncoder {
			p.logger.Debug("Skipping route without encoder", "component", comp.Name())
			continue
		}
		p.routes = append(p.routes, id)
	}
	if len(p.routes) > 0 {
		p.chain = append(p.chain, p.routes[0])
	}
	return nil
}

// Close stops the completion consumer and unregisters the vblank handler.
// It does not disable the hardware.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.flagsMu.Lock()
		first := p.chain[0]
		p.flagsMu.Unlock()
		if comp, ok := p.arena.Get(first); ok {
			comp.UnregisterVblankCallback()
		}
		p.flusher.stop()
	})
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// State returns the lifecycle state.
func (p *Pipeline) State() State {
	p.flagsMu.Lock()
	defer p.flagsMu.Unlock()
	return p.state
}

// Enabled reports whether the pipeline is enabled.
func (p *Pipeline) Enabled() bool {
	return p.State() == StateEnabled
}

// LayerCount returns the number of overlay layers of the pipeline.
func (p *Pipeline) LayerCount() int {
	p.flagsMu.Lock()
	defer p.flagsMu.Unlock()
	return len(p.layers)
}

// Chain returns a copy of the current component chain.
func (p *Pipeline) Chain() []hw.ComponentID {
	p.flagsMu.Lock()
	defer p.flagsMu.Unlock()
	return append([]hw.ComponentID(nil), p.chain...)
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Vblanks:           p.vblanks.Load(),
		Flushes:           p.flushes.Load(),
		Submissions:       p.submissions.Load(),
		Completions:       p.completions.Load(),
		SequencerTimeouts: p.sequencerTimeouts.Load(),
		EventsFinalized:   p.eventsFinalized.Load(),
		EventsDropped:     p.eventsDropped.Load(),
	}
}

// Status returns a point-in-time view of the pipeline.
func (p *Pipeline) Status() Status {
	p.flagsMu.Lock()
	st := Status{
		Name:         p.name,
		State:        p.state,
		WriteMode:    p.flusher.path(),
		Width:        p.mode.Width,
		Height:       p.mode.Height,
		Refresh:      p.mode.Refresh,
		ModePending:  p.modePending,
		Flushing:     p.flushing,
		EventPending: p.pendingEvent != nil,
		StallCounter: p.stall,
		Layers:       make([]LayerStatus, len(p.layers)),
	}
	for _, id := range p.chain {
		st.Chain = append(st.Chain, int(id))
	}
	for i := range p.layers {
		l := &p.layers[i]
		st.Layers[i] = LayerStatus{
			Index:              i,
			Enabled:            l.state.Enabled,
			Dirty:              l.dirty,
			AsyncDirty:         l.asyncDirty,
			ConfigPending:      l.configPending,
			AsyncConfigPending: l.asyncConfigPending,
		}
	}
	p.flagsMu.Unlock()

	st.Stats = p.Stats()
	return st
}

// components resolves the current chain. Must hold flagsMu.
func (p *Pipeline) componentsLocked() ([]hw.Component, error) {
	comps := make([]hw.Component, 0, len(p.chain))
	for _, id := range p.chain {
		comp, err := p.arena.MustGet(id)
		if err != nil {
			return nil, err
		}
		comps = append(comps, comp)
	}
	return comps, nil
}

func (p *Pipeline) components() ([]hw.Component, error) {
	p.flagsMu.Lock()
	defer p.flagsMu.Unlock()
	return p.componentsLocked()
}

// blendsBackground reports whether comp contributes layers from the second
// chain position.
func blendsBackground(comp hw.Component) (hw.BackgroundBlender, bool) {
	bg, ok := comp.(hw.BackgroundBlender)
	if !ok || !bg.SupportsBackgroundInput() {
		return nil, false
	}
	return bg, true
}

// layerCountLocked sums the layers of the contributing components.
func (p *Pipeline) layerCountLocked() (int, error) {
	comps, err := p.componentsLocked()
	if err != nil {
		return 0, newError(CodeInvalidConfig, fmt.Sprintf("pipeline %s", p.name), err)
	}
	count := comps[0].LayerCount()
	if len(comps) > 1 {
		if _, ok := blendsBackground(comps[1]); ok {
			count += comps[1].LayerCount()
		}
	}
	return count, nil
}

// ownerLocked maps a pipeline layer to its component and local layer index.
func (p *Pipeline) ownerLocked(index int) (hw.Component, int, error) {
	if index < 0 || index >= len(p.layers) {
		return nil, 0, newError(CodeInvalidLayer, fmt.Sprintf("layer %d out of range [0,%d)", index, len(p.layers)), nil)
	}
	comps, err := p.componentsLocked()
	if err != nil {
		return nil, 0, newError(CodeInvalidConfig, "resolve chain", err)
	}

	local := index
	if local < comps[0].LayerCount() {
		return comps[0], local, nil
	}
	local -= comps[0].LayerCount()
	if len(comps) > 1 {
		if _, ok := blendsBackground(comps[1]); ok && local < comps[1].LayerCount() {
			return comps[1], local, nil
		}
	}
	return nil, 0, newError(CodeInvalidLayer, fmt.Sprintf("layer %d has no owner", index), nil)
}

// WhichComponentOwnsLayer returns the component driving a pipeline layer and
// the layer's index local to that component.
func (p *Pipeline) WhichComponentOwnsLayer(index int) (hw.ComponentID, int, error) {
	p.flagsMu.Lock()
	defer p.flagsMu.Unlock()
	comp, local, err := p.ownerLocked(index)
	if err != nil {
		return 0, 0, err
	}
	return comp.ID(), local, nil
}

// broadcastLocked wakes every waiter. Must hold flagsMu.
func (p *Pipeline) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// waitFor blocks until cond holds, timeout expires or ctx ends. cond runs
// with flagsMu held.
func (p *Pipeline) waitFor(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.flagsMu.Lock()
		if cond() {
			p.flagsMu.Unlock()
			return true
		}
		wake := p.wake
		p.flagsMu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// takeEventLocked detaches the outstanding event if it is due: it was latched
// by a flush and no flush is building. Must hold flagsMu.
func (p *Pipeline) takeEventLocked() *CompletionEvent {
	if !p.pendingNeedsEvent || p.flushing || p.pendingEvent == nil {
		return nil
	}
	ev := p.pendingEvent
	p.pendingEvent = nil
	p.pendingNeedsEvent = false
	return ev
}

// finalizeEvent delivers ev. Call without flagsMu.
func (p *Pipeline) finalizeEvent(ev *CompletionEvent, status EventStatus) {
	if ev == nil || !ev.finalize(status) {
		return
	}
	p.eventsFinalized.Add(1)
	metrics.ObserveEventFinalized(p.name, string(status))
	p.logger.Debug("Completion event finalized", "token", ev.Token(), "status", status)
	p.bus.Publish(events.CommitCompletedEvent{
		Pipeline:  p.name,
		Token:     ev.Token(),
		Status:    string(status),
		Timestamp: ev.FinalizedAt().Format(time.RFC3339Nano),
	})
}

// pendingCountLocked counts layers still waiting for hardware.
func (p *Pipeline) pendingCountLocked() int {
	n := 0
	for i := range p.layers {
		if p.layers[i].configPending || p.layers[i].asyncConfigPending {
			n++
		}
	}
	return n
}

// setState records a lifecycle transition. Must hold commitMu.
func (p *Pipeline) setState(next State, cause error) {
	p.flagsMu.Lock()
	prev := p.state
	p.state = next
	p.flagsMu.Unlock()

	if prev == next {
		return
	}
	metrics.SetEnabled(p.name, next == StateEnabled)

	ev := events.PipelineStateChangedEvent{
		Pipeline:  p.name,
		OldState:  string(prev),
		NewState:  string(next),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	p.bus.Publish(ev)
}
