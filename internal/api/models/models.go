package models

import (
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/pipeline"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Pipeline models
type PipelineData struct {
	Name        string          `json:"name" example:"main" doc:"Pipeline name"`
	State       string          `json:"state" example:"enabled" doc:"Lifecycle state: idle, enabling, enabled, disabling or error"`
	Mode        hw.Mode         `json:"mode" doc:"Current mode when enabled, default mode otherwise"`
	EnabledAt   string          `json:"enabled_at,omitempty" example:"2025-01-27T10:30:00Z" doc:"Time of the last successful enable"`
	EnableCount int             `json:"enable_count" example:"1" doc:"Number of successful enables"`
	LastError   string          `json:"last_error,omitempty" doc:"Last lifecycle failure"`
	Status      pipeline.Status `json:"status" doc:"Commit engine status"`
}

type PipelineListData struct {
	Pipelines []PipelineData `json:"pipelines" doc:"Configured pipelines"`
	Count     int            `json:"count" example:"2" doc:"Number of pipelines"`
}

type PipelineListResponse struct {
	Body PipelineListData
}

type PipelineResponse struct {
	Body PipelineData
}

type PipelineNameInput struct {
	Name string `path:"name" example:"main" doc:"Pipeline name"`
}

type EnableRequestData struct {
	Mode *hw.Mode `json:"mode,omitempty" doc:"Mode to enable with; the topology default when omitted"`
}

type EnableRequest struct {
	Name string             `path:"name" example:"main" doc:"Pipeline name"`
	Body *EnableRequestData `required:"false"`
}

type LayerChangeData struct {
	Index int           `json:"index" example:"0" minimum:"0" doc:"Overlay layer index"`
	State hw.LayerState `json:"state" doc:"New layer state"`
	Async bool          `json:"async,omitempty" doc:"Apply without waiting for a frame boundary"`
}

type CommitRequestData struct {
	Mode   *hw.Mode          `json:"mode,omitempty" doc:"New mode"`
	Layers []LayerChangeData `json:"layers,omitempty" doc:"Layer changes"`
	Event  bool              `json:"event,omitempty" doc:"Request a completion event"`
	Wait   bool              `json:"wait,omitempty" doc:"Block until the completion event is finalized"`
}

type CommitRequest struct {
	Name string `path:"name" example:"main" doc:"Pipeline name"`
	Body CommitRequestData
}

type CommitData struct {
	Token  string `json:"token,omitempty" example:"8f1c0b7e-3d4a-4b9e-9a55-0f5c3a1e2d11" doc:"Completion event token"`
	Status string `json:"status,omitempty" example:"presented" doc:"Event status: pending, presented or cancelled"`
}

type CommitResponse struct {
	Body CommitData
}

type ConnectivityRequestData struct {
	EncoderMask uint32 `json:"encoder_mask" example:"4" doc:"Bit mask of connected encoders"`
}

type ConnectivityRequest struct {
	Name string `path:"name" example:"ext" doc:"Pipeline name"`
	Body ConnectivityRequestData
}

type ConnectivityData struct {
	Changed bool  `json:"changed" doc:"Whether the output route was updated"`
	Chain   []int `json:"chain" doc:"Component path after the update"`
}

type ConnectivityResponse struct {
	Body ConnectivityData
}

type LayerOwnerRequest struct {
	Name  string `path:"name" example:"main" doc:"Pipeline name"`
	Index int    `path:"index" example:"2" minimum:"0" doc:"Pipeline-wide layer index"`
}

type LayerOwnerData struct {
	Component  int `json:"component" example:"0" doc:"Owning component id"`
	LocalIndex int `json:"local_index" example:"2" doc:"Layer index within the owning component"`
}

type LayerOwnerResponse struct {
	Body LayerOwnerData
}

// Log models
type LogEntryData struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"pipeline" doc:"Emitting module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

type LogsRequest struct {
	Module string `query:"module" example:"pipeline" doc:"Only entries from this module"`
	Limit  int    `query:"limit" minimum:"0" example:"100" doc:"Maximum number of newest entries (0 = all)"`
}

type LogsData struct {
	Entries []LogEntryData `json:"entries" doc:"Buffered log entries, oldest first"`
	Count   int            `json:"count" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}
