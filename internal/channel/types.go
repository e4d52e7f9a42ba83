package channel

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pipwave/streamsync/internal/backoff"
)

// Errors
var (
	ErrNotOpen      = errors.New("transport not open")
	ErrAlreadyOpen  = errors.New("transport already open")
	ErrStale        = errors.New("connection stale (no heartbeat ack)")
	ErrReplyTimeout = errors.New("no reply from server")
	ErrEmptyTopicID = errors.New("topic id must not be empty")
)

// Filter describes which backend changes a topic cares about, in the
// backend's postgres_changes terms.
type Filter struct {
	Schema string // Database schema, defaults to "public"
	Table  string // Table name (e.g., "signals")
	Event  string // "INSERT", "UPDATE", "DELETE", or "*" (default)
	Match  string // Optional column filter (e.g., "pair=eq.EURUSD")
}

// ChannelTopic returns the wire-level topic string for this filter.
func (f Filter) ChannelTopic() string {
	schema := f.Schema
	if schema == "" {
		schema = "public"
	}
	topic := "realtime:" + schema + ":" + f.Table
	if f.Match != "" {
		topic += ":" + f.Match
	}
	return topic
}

// Topic is a named logical subscription requested by a consumer.
type Topic struct {
	ID      string       // Logical identifier (e.g., "signals"); registry key
	Filter  Filter       // What changes this topic covers
	Handler func(Change) // Invoked per change event; nil to observe state only
}

// Change is a single decoded change event from the backend feed.
type Change struct {
	TopicID    string          // Logical topic that produced this change
	Kind       string          // "INSERT", "UPDATE", or "DELETE"
	Table      string          // Source table
	Record     json.RawMessage // New row state (nil for DELETE)
	Old        json.RawMessage // Previous row state (UPDATE/DELETE only)
	ReceivedAt time.Time       // Local receive timestamp
}

// EventType identifies a transport lifecycle event.
type EventType int

const (
	EventOpened EventType = iota // Connection established
	EventClosed                  // Connection terminated (Err nil on clean close)
	EventChange                  // Change event received on a joined topic
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventChange:
		return "change"
	}
	return "unknown"
}

// Event is emitted on the transport's Events channel. A session emits one
// EventOpened, zero or more EventChange, and exactly one terminal
// EventClosed.
type Event struct {
	Type   EventType
	Err    error  // Close reason; nil for a locally-requested close
	Change Change // Populated for EventChange
	At     time.Time
}

// Handle identifies one consumer's registration of a topic.
type Handle struct {
	id      uuid.UUID
	topicID string
}

// TopicID returns the logical topic this handle is registered for.
func (h Handle) TopicID() string { return h.topicID }

// Valid reports whether the handle came from a successful Register call.
func (h Handle) Valid() bool { return h.id != uuid.Nil }

// TransportConfig configures the WebSocket transport.
type TransportConfig struct {
	URL               string        // WebSocket URL (e.g., wss://api.pipwave.io/realtime/v1/websocket)
	APIKey            string        // Backend API key, sent as a query parameter and header
	HandshakeTimeout  time.Duration // Dial handshake deadline
	WriteTimeout      time.Duration // Write deadline for frames
	ReplyTimeout      time.Duration // Max wait for a join/leave reply
	HeartbeatInterval time.Duration // Application heartbeat period
	HeartbeatTimeout  time.Duration // Max silence before the connection is considered stale
	BufferSize        int           // Events channel buffer size
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReplyTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		BufferSize:        256,
	}
}

// RegistryConfig configures the topic registry.
type RegistryConfig struct {
	JoinTimeout   time.Duration  // Per-topic subscribe deadline
	RetryBackoff  backoff.Config // Schedule for isolated per-topic subscribe retries
	QueueCapacity int            // Initial capacity of the change dispatch queue
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		JoinTimeout:   10 * time.Second,
		RetryBackoff:  backoff.DefaultConfig(),
		QueueCapacity: 64,
	}
}
