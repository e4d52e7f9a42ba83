package engine

import (
	"encoding/json"
	"time"
)

// Status is the channel connection status.
type Status int

const (
	StatusDisconnected Status = iota // No connection, none in progress
	StatusConnecting                 // Connection attempt in flight
	StatusSubscribed                 // Connected, topics joined
	StatusError                      // Last attempt failed, retry pending
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusSubscribed:
		return "subscribed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// State is a snapshot of the engine's connection state.
//
// Invariant: Channel == StatusSubscribed implies Online. Attempt resets to
// zero exactly when Channel enters StatusSubscribed.
type State struct {
	Online           bool      `json:"online"`
	BackendReachable bool      `json:"backend_reachable"`
	Channel          Status    `json:"channel_status"`
	Attempt          int       `json:"attempt"`
	LastConnectedAt  time.Time `json:"last_connected_at"`
	ActiveTopics     []string  `json:"active_topics"`
}
