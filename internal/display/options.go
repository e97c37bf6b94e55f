package display

import (
	"log/slog"
	"time"

	"github.com/smazurov/scanout/internal/events"
)

// StateChangeCallback is called when a pipeline changes lifecycle state.
type StateChangeCallback func(name string, oldState, newState State, err error)

// Options configures a Manager and the pipelines it builds.
type Options struct {
	// OnStateChange is called on every lifecycle transition (optional).
	OnStateChange StateChangeCallback

	// Bus receives pipeline events (optional).
	Bus *events.Bus

	// Logger for manager operations. If nil, uses the "display" module logger.
	Logger *slog.Logger

	// ManualVblank turns off the simulated vblank generators; the owner
	// drives refresh ticks explicitly.
	ManualVblank bool

	// Zero values fall back to the pipeline defaults.
	DisableTimeout    time.Duration
	VblankWaitTimeout time.Duration
	FlushTimeout      time.Duration
}
