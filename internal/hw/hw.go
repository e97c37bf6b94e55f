// Package hw defines the contracts between the pipeline commit engine and the
// display hardware it drives.
//
// Components are shared, externally owned blocks (overlays, DMA readers,
// output encoders) held in an Arena and referenced by ComponentID. The
// Interlock is the display-wide mutual-exclusion block gating chain
// membership. The SequencerChannel is the asynchronous command-queue that
// executes a prebuilt Packet and reports back with a Completion message.
package hw

import (
	"errors"
	"time"
)

// ComponentID identifies a hardware component inside an Arena.
type ComponentID int

// NoEncoder marks a component that does not terminate an output route.
const NoEncoder = -1

// Errors reported by collaborators.
var (
	ErrUnknownComponent = errors.New("hw: unknown component")
	ErrDuplicateID      = errors.New("hw: duplicate component id")
	ErrPacketFull       = errors.New("hw: packet capacity exceeded")
	ErrFlushTimeout     = errors.New("hw: channel flush timed out")
	ErrChannelClosed    = errors.New("hw: sequencer channel closed")
)

// Component is a single block in a display chain.
//
// Configure and ConfigureLayer write straight to the hardware when pkt is nil
// and append the same register writes to pkt otherwise.
type Component interface {
	ID() ComponentID
	Name() string

	PowerOn() error
	PowerOff()
	EnableClock() error
	DisableClock()

	Connect(downstream ComponentID) error
	Disconnect(downstream ComponentID) error

	Configure(mode Mode, pkt *Packet) error
	ConfigureLayer(layer int, state LayerState, pkt *Packet) error
	LayerCount() int

	Start()
	Stop()

	EnableVblank()
	DisableVblank()
	RegisterVblankCallback(cb func())
	UnregisterVblankCallback()

	// EncoderIndex returns the encoder this component feeds, or NoEncoder.
	EncoderIndex() int
}

// BackgroundBlender is implemented by components that can blend the output of
// the previous component as a background layer. Only such a component may
// contribute layers from the second chain position.
type BackgroundBlender interface {
	SupportsBackgroundInput() bool
	BackgroundInputOn()
	BackgroundInputOff()
}

// ModeValidator is implemented by components with mode constraints.
type ModeValidator interface {
	ValidateMode(mode Mode) error
}

// LayerChecker is implemented by components that validate layer state.
type LayerChecker interface {
	CheckLayer(layer int, state LayerState) error
}

// Interlock is the display-wide mutual-exclusion block shared by every
// pipeline on the same interconnect.
type Interlock interface {
	Prepare() error
	Unprepare()
	AddComponent(id ComponentID)
	RemoveComponent(id ComponentID)
	Enable()
	Disable()
	Acquire()
	Release()
}

// CompletionStatus is the execution status reported by the sequencer.
// Negative values are failures.
type CompletionStatus int

// StatusOK reports a packet that executed to its end-of-commands marker.
const StatusOK CompletionStatus = 0

// Completion is posted by a SequencerChannel once a packet has executed.
type Completion struct {
	Seq    uint64
	Status CompletionStatus
	At     time.Time
}

// OK reports whether the packet executed successfully.
func (c Completion) OK() bool {
	return c.Status >= 0
}

// SequencerChannel is the asynchronous offload channel. Submit never blocks on
// execution; results are delivered on Completions.
type SequencerChannel interface {
	Submit(pkt *Packet) error
	// Flush waits until previously submitted packets have been consumed.
	Flush(timeout time.Duration) error
	Completions() <-chan Completion
}
