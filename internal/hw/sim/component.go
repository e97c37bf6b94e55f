// Package sim provides in-process display hardware: register-file components
// with a vblank generator, a display-wide interlock and a command sequencer.
// It backs the daemon when no real device is present and drives the
// integration tests of the commit engine.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/scanout/internal/hw"
)

// Register layout of a simulated component.
const (
	RegSize    uint32 = 0x00 // height<<16 | width
	RegRefresh uint32 = 0x04
	RegBPC     uint32 = 0x08
	RegBgIn    uint32 = 0x0c

	layerBase   uint32 = 0x40
	layerStride uint32 = 0x20

	LayerCtrl   uint32 = 0x00
	LayerAddrLo uint32 = 0x04
	LayerAddrHi uint32 = 0x08
	LayerPitch  uint32 = 0x0c
	LayerSize   uint32 = 0x10 // height<<16 | width
	LayerOffset uint32 = 0x14 // y<<16 | x
	LayerFormat uint32 = 0x18
)

// LayerReg returns the register offset of a layer field.
func LayerReg(layer int, field uint32) uint32 {
	return layerBase + uint32(layer)*layerStride + field
}

// ErrRejected is returned by components configured to reject configuration.
var ErrRejected = errors.New("sim: configuration rejected")

// ComponentOptions describes a simulated component.
type ComponentOptions struct {
	ID              hw.ComponentID
	Name            string
	Layers          int
	EncoderIndex    int
	BackgroundInput bool
	MaxWidth        int

	// ManualVblank disables the internal vblank generator; Tick must be
	// called by the owner instead.
	ManualVblank bool

	Logger *slog.Logger
}

// Component is a simulated display block.
type Component struct {
	opts ComponentOptions

	mu         sync.Mutex
	regs       map[uint32]uint32
	calls      []string
	powered    bool
	clocked    bool
	started    bool
	vblankOn   bool
	bgIn       bool
	downstream map[hw.ComponentID]bool
	callback   func()
	interval   time.Duration
	stopTicker chan struct{}
	signals    []func()

	powerErr     error
	clockErr     error
	configureErr error
	connectErr   error
}

// NewComponent creates a simulated component.
func NewComponent(opts ComponentOptions) *Component {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("comp%d", opts.ID)
	}
	return &Component{
		opts:       opts,
		regs:       make(map[uint32]uint32),
		downstream: make(map[hw.ComponentID]bool),
	}
}

var (
	_ hw.Component         = (*Component)(nil)
	_ hw.BackgroundBlender = (*Component)(nil)
	_ hw.ModeValidator     = (*Component)(nil)
	_ hw.LayerChecker      = (*Component)(nil)
)

// FailPowerOn makes the next PowerOn calls fail with err (nil clears it).
func (c *Component) FailPowerOn(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powerErr = err
}

// FailClock makes EnableClock fail with err.
func (c *Component) FailClock(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clockErr = err
}

// FailConfigure makes Configure reject direct configuration with err.
func (c *Component) FailConfigure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configureErr = err
}

// FailConnect makes Connect fail with err.
func (c *Component) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// AddVblankSignal registers a hook run on every tick before the vblank
// callback, used to raise sequencer events.
func (c *Component) AddVblankSignal(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, fn)
}

func (c *Component) record(call string) {
	c.calls = append(c.calls, call)
}

// Calls returns the method calls recorded so far.
func (c *Component) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// ResetCalls clears the call log.
func (c *Component) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// Register returns the current value of a register.
func (c *Component) Register(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[offset]
}

// WriteRegister stores a value. The sequencer calls this when it executes a
// packet.
func (c *Component) WriteRegister(offset, value uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[offset] = value
}

// Powered reports whether the component is powered.
func (c *Component) Powered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powered
}

// Started reports whether the component is running.
func (c *Component) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// ConnectedTo reports whether the component feeds downstream.
func (c *Component) ConnectedTo(downstream hw.ComponentID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downstream[downstream]
}

// ID implements hw.Component.
func (c *Component) ID() hw.ComponentID { return c.opts.ID }

// Name implements hw.Component.
func (c *Component) Name() string { return c.opts.Name }

// LayerCount implements hw.Component.
func (c *Component) LayerCount() int { return c.opts.Layers }

// EncoderIndex implements hw.Component.
func (c *Component) EncoderIndex() int { return c.opts.EncoderIndex }

// PowerOn implements hw.Component.
func (c *Component) PowerOn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("power_on")
	if c.powerErr != nil {
		return c.powerErr
	}
	c.powered = true
	return nil
}

// PowerOff implements hw.Component.
func (c *Component) PowerOff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("power_off")
	c.powered = false
}

// EnableClock implements hw.Component.
func (c *Component) EnableClock() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("clock_on")
	if c.clockErr != nil {
		return c.clockErr
	}
	c.clocked = true
	return nil
}

// DisableClock implements hw.Component.
func (c *Component) DisableClock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("clock_off")
	c.clocked = false
}

// Connect implements hw.Component.
func (c *Component) Connect(downstream hw.ComponentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("connect:%d", downstream))
	if c.connectErr != nil {
		return c.connectErr
	}
	c.downstream[downstream] = true
	return nil
}

// Disconnect implements hw.Component.
func (c *Component) Disconnect(downstream hw.ComponentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("disconnect:%d", downstream))
	delete(c.downstream, downstream)
	return nil
}

// Configure implements hw.Component.
func (c *Component) Configure(mode hw.Mode, pkt *hw.Packet) error {
	writes := [][2]uint32{
		{RegSize, uint32(mode.Height)<<16 | uint32(mode.Width)&0xffff},
		{RegRefresh, uint32(mode.Refresh)},
	}
	if mode.BPC > 0 {
		writes = append(writes, [2]uint32{RegBPC, uint32(mode.BPC)})
	}

	c.mu.Lock()
	c.record("configure")
	if pkt == nil && c.configureErr != nil {
		c.mu.Unlock()
		return c.configureErr
	}
	if pkt == nil && mode.Refresh > 0 {
		c.interval = mode.FrameInterval()
	}
	c.mu.Unlock()

	return c.write(writes, pkt)
}

// ConfigureLayer implements hw.Component.
func (c *Component) ConfigureLayer(layer int, state hw.LayerState, pkt *hw.Packet) error {
	if layer < 0 || layer >= c.opts.Layers {
		return fmt.Errorf("sim: %s has no layer %d", c.opts.Name, layer)
	}

	var ctrl uint32
	if state.Enabled {
		ctrl = 1
	}
	writes := [][2]uint32{{LayerReg(layer, LayerCtrl), ctrl}}
	if state.Enabled {
		writes = append(writes,
			[2]uint32{LayerReg(layer, LayerAddrLo), uint32(state.Addr)},
			[2]uint32{LayerReg(layer, LayerAddrHi), uint32(state.Addr >> 32)},
			[2]uint32{LayerReg(layer, LayerPitch), uint32(state.Pitch)},
			[2]uint32{LayerReg(layer, LayerSize), uint32(state.Height)<<16 | uint32(state.Width)&0xffff},
			[2]uint32{LayerReg(layer, LayerOffset), uint32(state.Y)<<16 | uint32(state.X)&0xffff},
			[2]uint32{LayerReg(layer, LayerFormat), state.Format},
		)
	}

	c.mu.Lock()
	c.record(fmt.Sprintf("configure_layer:%d", layer))
	c.mu.Unlock()

	return c.write(writes, pkt)
}

func (c *Component) write(writes [][2]uint32, pkt *hw.Packet) error {
	if pkt != nil {
		for _, w := range writes {
			if err := pkt.Write(c.opts.ID, w[0], w[1]); err != nil {
				return err
			}
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range writes {
		c.regs[w[0]] = w[1]
	}
	return nil
}

// ValidateMode implements hw.ModeValidator.
func (c *Component) ValidateMode(mode hw.Mode) error {
	if c.opts.MaxWidth > 0 && mode.Width > c.opts.MaxWidth {
		return fmt.Errorf("sim: %s supports at most %d pixels per line", c.opts.Name, c.opts.MaxWidth)
	}
	return nil
}

// CheckLayer implements hw.LayerChecker.
func (c *Component) CheckLayer(layer int, state hw.LayerState) error {
	if layer < 0 || layer >= c.opts.Layers {
		return fmt.Errorf("sim: %s has no layer %d", c.opts.Name, layer)
	}
	if state.Enabled && (state.Width <= 0 || state.Height <= 0) {
		return fmt.Errorf("sim: layer %d has empty geometry", layer)
	}
	return nil
}

// Start implements hw.Component.
func (c *Component) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("start")
	c.started = true
}

// Stop implements hw.Component.
func (c *Component) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("stop")
	c.started = false
}

// BackgroundInputOn implements hw.BackgroundBlender. Components created
// without background input support ignore the call.
func (c *Component) BackgroundInputOn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("bg_on")
	if c.opts.BackgroundInput {
		c.bgIn = true
		c.regs[RegBgIn] = 1
	}
}

// BackgroundInputOff implements hw.BackgroundBlender.
func (c *Component) BackgroundInputOff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("bg_off")
	c.bgIn = false
	c.regs[RegBgIn] = 0
}

// SupportsBackgroundInput reports whether the component blends a background
// input.
func (c *Component) SupportsBackgroundInput() bool {
	return c.opts.BackgroundInput
}

// RegisterVblankCallback implements hw.Component.
func (c *Component) RegisterVblankCallback(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// UnregisterVblankCallback implements hw.Component.
func (c *Component) UnregisterVblankCallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
}

// EnableVblank implements hw.Component. Unless ManualVblank is set, a ticker
// fires Tick once per configured refresh interval.
func (c *Component) EnableVblank() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("vblank_on")
	if c.vblankOn {
		return
	}
	c.vblankOn = true

	if c.opts.ManualVblank || c.interval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.stopTicker = stop
	go c.runTicker(c.interval, stop)
}

// DisableVblank implements hw.Component.
func (c *Component) DisableVblank() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("vblank_off")
	c.vblankOn = false
	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}
}

func (c *Component) runTicker(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick simulates one vertical blank: raises the registered signals and
// invokes the vblank callback when vblank reporting is enabled.
func (c *Component) Tick() {
	c.mu.Lock()
	signals := append([]func(){}, c.signals...)
	cb := c.callback
	on := c.vblankOn
	c.mu.Unlock()

	for _, fn := range signals {
		fn()
	}
	if on && cb != nil {
		cb()
	}
}
