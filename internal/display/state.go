package display

import (
	"time"

	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/pipeline"
)

// State represents the lifecycle state of a managed pipeline.
type State string

// Pipeline states.
const (
	StateIdle      State = "idle"      // Powered down
	StateEnabling  State = "enabling"  // Power-up in progress
	StateEnabled   State = "enabled"   // Scanning out
	StateDisabling State = "disabling" // Teardown in progress
	StateError     State = "error"     // Enable failed; Disable cleans up
)

// Info describes a managed pipeline.
type Info struct {
	Name        string
	State       State
	Mode        hw.Mode
	EnabledAt   time.Time
	EnableCount int
	LastError   error
	Pipeline    pipeline.Status
}
