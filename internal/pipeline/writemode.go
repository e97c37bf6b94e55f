package pipeline

import (
	"time"

	"github.com/smazurov/scanout/internal/hw"
)

// Write path names reported in Status and metrics.
const (
	PathDirect  = "direct"
	PathLatched = "direct-vblank"
	PathOffload = "offload"
)

// Defaults applied by New.
const (
	DefaultDisableTimeout    = 500 * time.Millisecond
	DefaultVblankWaitTimeout = 100 * time.Millisecond
	DefaultFlushTimeout      = 2 * time.Second

	// stallBudget is the number of refresh intervals a submitted packet may
	// take before it is reported as stalled.
	stallBudget = 3
)

// WriteMode selects how staged configuration reaches the hardware.
// It is either DirectWrite or OffloadWrite.
type WriteMode interface {
	writeMode()
}

// DirectWrite programs registers from software.
type DirectWrite struct {
	// LatchOnVblank defers the register writes to the next refresh tick,
	// for hardware without shadow registers.
	LatchOnVblank bool
}

// OffloadWrite hands register writes to an asynchronous command sequencer.
type OffloadWrite struct {
	Channel hw.SequencerChannel
	// Event is the hardware event the packet waits for before writing.
	Event uint32
	// PacketSize is the packet capacity in bytes.
	PacketSize int
	// FlushTimeout bounds the wait for the previous packet to be consumed
	// before the packet is rebuilt.
	FlushTimeout time.Duration
}

func (DirectWrite) writeMode()  {}
func (OffloadWrite) writeMode() {}
