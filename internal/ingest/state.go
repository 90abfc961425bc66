package ingest

import "time"

// State is the connectivity state of the controller.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreamingLive
	StateDegradedPolling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreamingLive:
		return "streaming_live"
	case StateDegradedPolling:
		return "degraded_polling"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the controller for display.
type Status struct {
	State         State         `json:"state"`
	Since         time.Time     `json:"since"`
	LastHeartbeat time.Time     `json:"last_heartbeat,omitempty"`
	LastEvent     time.Time     `json:"last_event,omitempty"`
	PollInterval  time.Duration `json:"poll_interval"`
	Replaying     bool          `json:"replaying"`
	Reconnects    int           `json:"reconnects"`
	Entities      int           `json:"entities"`
	Capacity      int           `json:"capacity"`
}
