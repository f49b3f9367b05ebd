package events

// Event type constants for kelindar/event.
const (
	TypeRelayStateChanged uint32 = iota + 1
	TypeObserversChanged
	TypeClientChanged
	TypeDepthChanged
	TypeWarningTextChanged
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// RelayStateChangedEvent is published on every relay state transition.
type RelayStateChangedEvent struct {
	State     string `json:"state" example:"streaming" doc:"Relay state: idle, waiting, streaming, error"`
	Previous  string `json:"previous" example:"waiting" doc:"State before the transition"`
	Message   string `json:"message,omitempty" example:"no sample available" doc:"Error or waiting text shown on synthetic frames"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RelayStateChangedEvent.
func (e RelayStateChangedEvent) Type() uint32 { return TypeRelayStateChanged }

// ObserversChangedEvent is published when a consumer starts or stops observing.
type ObserversChangedEvent struct {
	Observers int    `json:"observers" example:"1" doc:"Current observer count"`
	Running   bool   `json:"running" example:"true" doc:"Whether the relay pump is running"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ObserversChangedEvent.
func (e ObserversChangedEvent) Type() uint32 { return TypeObserversChanged }

// ClientChangedEvent is published when a producer or consumer attaches or detaches.
type ClientChangedEvent struct {
	Role      string `json:"role" example:"producer" doc:"producer or consumer"`
	ClientID  string `json:"client_id" example:"kinect-depth" doc:"Client identifier"`
	Action    string `json:"action" example:"attached" doc:"attached or detached"`
	Layout    string `json:"layout,omitempty" example:"depth16mm" doc:"Pixel layout the client produces or expects"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ClientChangedEvent.
func (e ClientChangedEvent) Type() uint32 { return TypeClientChanged }

// DepthChangedEvent is published when the depth clip range is updated.
type DepthChangedEvent struct {
	ClipNear  uint32 `json:"clip_near" example:"10" doc:"Nearest valid depth in millimetres"`
	ClipFar   uint32 `json:"clip_far" example:"15000" doc:"Farthest valid depth in millimetres"`
	Source    string `json:"source" example:"api" doc:"Where the update came from: api, nats, config"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DepthChangedEvent.
func (e DepthChangedEvent) Type() uint32 { return TypeDepthChanged }

// WarningTextChangedEvent is published when the synthetic caption override changes.
type WarningTextChangedEvent struct {
	Text      string `json:"text" example:"Sensor unplugged" doc:"Warning text, empty when cleared"`
	Set       bool   `json:"set" example:"true" doc:"Whether a warning is shown"`
	Source    string `json:"source" example:"api" doc:"Where the update came from: api, nats"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WarningTextChangedEvent.
func (e WarningTextChangedEvent) Type() uint32 { return TypeWarningTextChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"relay" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
