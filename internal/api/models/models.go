// Package models holds the request and response bodies of the HTTP API.
package models

import "github.com/smazurov/sinkcam/internal/logging"

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
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Relay models
type RelayStats struct {
	Relayed   uint64 `json:"relayed" doc:"Producer frames delivered"`
	Synthetic uint64 `json:"synthetic" doc:"Synthetic frames delivered"`
	Skipped   uint64 `json:"skipped" doc:"Cycles skipped while inactive or cooling down"`
	Errors    uint64 `json:"errors" doc:"Cycles that ended in the error state"`
}

type DepthData struct {
	ClipNear uint32 `json:"clip_near" minimum:"0" example:"10" doc:"Nearest valid depth in millimetres"`
	ClipFar  uint32 `json:"clip_far" minimum:"1" example:"15000" doc:"Farthest valid depth in millimetres"`
}

type FormatData struct {
	Width  uint32 `json:"width" example:"640" doc:"Frame width in pixels"`
	Height uint32 `json:"height" example:"480" doc:"Frame height in pixels"`
	Layout string `json:"layout" example:"bgra8" doc:"Pixel layout"`
}

type RelayStatusData struct {
	State       string     `json:"state" enum:"idle,waiting,streaming,error" doc:"Relay state"`
	Message     string     `json:"message,omitempty" doc:"Text shown on synthetic frames"`
	Active      bool       `json:"active" doc:"Whether the relay is pumping"`
	Observers   int        `json:"observers" doc:"Consumers currently observing"`
	Producers   []string   `json:"producers" doc:"Attached producer IDs"`
	Consumers   []string   `json:"consumers" doc:"Attached consumer IDs"`
	Stats       RelayStats `json:"stats" doc:"Pump counters"`
	Depth       DepthData  `json:"depth" doc:"Depth clip range"`
	Synthetic   FormatData `json:"synthetic" doc:"Format of synthetic frames"`
	WarningText string     `json:"warning_text,omitempty" doc:"Operator warning shown instead of generated text"`
}

type RelayStatusResponse struct {
	Body RelayStatusData
}

type WarningRequest struct {
	Body struct {
		Text string `json:"text" minLength:"1" maxLength:"200" example:"Sensor unplugged" doc:"Warning shown on synthetic frames"`
	}
}

type DepthRequest struct {
	Body DepthData
}

type DepthResponse struct {
	Body DepthData
}

// Log models
type LogsRequest struct {
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Newest entries to return, 0 for all"`
	Module string `query:"module" doc:"Only entries from this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" doc:"Minimum level"`
}

type LogsResponse struct {
	Body struct {
		Entries []logging.LogEntry `json:"entries" doc:"Buffered log entries, oldest first"`
	}
}

type LogLevelRequest struct {
	Body struct {
		Module string `json:"module,omitempty" example:"relay" doc:"Module to change, empty for the global level"`
		Level  string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
	}
}

type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module"`
	}
}
