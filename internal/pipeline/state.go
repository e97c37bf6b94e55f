package pipeline

// State is the lifecycle state of a pipeline.
type State string

// Pipeline states.
const (
	StateDisabled State = "disabled"
	StateEnabled  State = "enabled"
	StateFaulted  State = "faulted" // enable failed after the chain was partially connected
)

// EventStatus is the outcome of a completion event.
type EventStatus string

// Completion event outcomes.
const (
	EventPending   EventStatus = "pending"
	EventPresented EventStatus = "presented"
	EventCancelled EventStatus = "cancelled"
)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Vblanks           uint64 `json:"vblanks"`
	Flushes           uint64 `json:"flushes"`
	Submissions       uint64 `json:"submissions"`
	Completions       uint64 `json:"completions"`
	SequencerTimeouts uint64 `json:"sequencer_timeouts"`
	EventsFinalized   uint64 `json:"events_finalized"`
	EventsDropped     uint64 `json:"events_dropped"`
}

// LayerStatus is the bookkeeping of one overlay layer.
type LayerStatus struct {
	Index              int  `json:"index"`
	Enabled            bool `json:"enabled"`
	Dirty              bool `json:"dirty"`
	AsyncDirty         bool `json:"async_dirty"`
	ConfigPending      bool `json:"config_pending"`
	AsyncConfigPending bool `json:"async_config_pending"`
}

// Status is a point-in-time view of a pipeline.
type Status struct {
	Name         string        `json:"name"`
	State        State         `json:"state"`
	WriteMode    string        `json:"write_mode"`
	Chain        []int         `json:"chain"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Refresh      int           `json:"refresh"`
	ModePending  bool          `json:"mode_pending"`
	Flushing     bool          `json:"flushing"`
	EventPending bool          `json:"event_pending"`
	StallCounter int           `json:"stall_counter"`
	Layers       []LayerStatus `json:"layers"`
	Stats        Stats         `json:"stats"`
}
