package agent

// EventType discriminates streamed session events.
type EventType string

const (
	// EventThinking carries an incremental model reasoning delta.
	EventThinking EventType = "thinking"
	// EventStep carries one completed step.
	EventStep EventType = "step"
	// EventStatus signals a session status change.
	EventStatus EventType = "status"
)

// Event is one item on a session's event stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	Step      *Step     `json:"step,omitempty"`
	Delta     string    `json:"delta,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
}
