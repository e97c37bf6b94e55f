package events

// Event type constants for kelindar/event.
const (
	TypeVblank uint32 = iota + 1
	TypeCommitCompleted
	TypeEventDropped
	TypeSequencerTimeout
	TypeConfigApplied
	TypePipelineStateChanged
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// VblankEvent is published once per refresh interval of an enabled pipeline.
type VblankEvent struct {
	Pipeline  string `json:"pipeline" example:"main" doc:"Pipeline name"`
	Sequence  uint64 `json:"sequence" example:"1024" doc:"Refresh counter since pipeline creation"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Tick timestamp"`
}

// Type returns the event type identifier for VblankEvent.
func (e VblankEvent) Type() uint32 { return TypeVblank }

// CommitCompletedEvent represents a finalized client completion event.
type CommitCompletedEvent struct {
	Pipeline  string `json:"pipeline" example:"main" doc:"Pipeline name"`
	Token     string `json:"token" example:"8f1c0b7e-3d4a-4b9e-9a55-0f5c3a1e2d11" doc:"Completion event token"`
	Status    string `json:"status" example:"presented" doc:"presented or cancelled"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Finalize timestamp"`
}

// Type returns the event type identifier for CommitCompletedEvent.
func (e CommitCompletedEvent) Type() uint32 { return TypeCommitCompleted }

// EventDroppedEvent is published when a completion event was requested while
// another one was still outstanding.
type EventDroppedEvent struct {
	Pipeline     string `json:"pipeline" example:"main" doc:"Pipeline name"`
	PendingToken string `json:"pending_token" doc:"Token of the event that stays outstanding"`
	Timestamp    string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Timestamp"`
}

// Type returns the event type identifier for EventDroppedEvent.
func (e EventDroppedEvent) Type() uint32 { return TypeEventDropped }

// SequencerTimeoutEvent reports a packet that did not complete within the
// stall budget.
type SequencerTimeoutEvent struct {
	Pipeline  string `json:"pipeline" example:"main" doc:"Pipeline name"`
	PacketSeq uint64 `json:"packet_seq" example:"42" doc:"Generation of the stalled packet"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Detection timestamp"`
}

// Type returns the event type identifier for SequencerTimeoutEvent.
func (e SequencerTimeoutEvent) Type() uint32 { return TypeSequencerTimeout }

// ConfigAppliedEvent reports staged configuration confirmed in hardware.
type ConfigAppliedEvent struct {
	Pipeline  string `json:"pipeline" example:"main" doc:"Pipeline name"`
	Path      string `json:"path" example:"offload" doc:"direct or offload"`
	PacketSeq uint64 `json:"packet_seq,omitempty" doc:"Packet generation for offloaded writes"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Timestamp"`
}

// Type returns the event type identifier for ConfigAppliedEvent.
func (e ConfigAppliedEvent) Type() uint32 { return TypeConfigApplied }

// PipelineStateChangedEvent represents a pipeline lifecycle transition.
type PipelineStateChangedEvent struct {
	Pipeline  string `json:"pipeline" example:"main" doc:"Pipeline name"`
	OldState  string `json:"old_state" example:"enabling" doc:"Previous state"`
	NewState  string `json:"new_state" example:"enabled" doc:"Current state"`
	Error     string `json:"error,omitempty" doc:"Failure that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineStateChangedEvent.
func (e PipelineStateChangedEvent) Type() uint32 { return TypePipelineStateChanged }
