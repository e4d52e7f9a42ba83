package channel

import (
	"encoding/json"
	"fmt"
)

// Phoenix protocol event names.
const (
	evtJoin      = "phx_join"
	evtLeave     = "phx_leave"
	evtReply     = "phx_reply"
	evtClose     = "phx_close"
	evtError     = "phx_error"
	evtHeartbeat = "heartbeat"
	evtChanges   = "postgres_changes"
)

// heartbeatTopic is the control topic for protocol heartbeats.
const heartbeatTopic = "phoenix"

// frame is a single protocol message in either direction.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// encodeFrame marshals an outbound frame with the given payload object.
func encodeFrame(topic, event string, payload any, ref, joinRef string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(frame{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     ref,
		JoinRef: joinRef,
	})
}

// joinPayload carries the change filter for a phx_join.
type joinPayload struct {
	Config joinConfig `json:"config"`
}

type joinConfig struct {
	PostgresChanges []changeFilter `json:"postgres_changes"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

func newJoinPayload(f Filter) joinPayload {
	schema := f.Schema
	if schema == "" {
		schema = "public"
	}
	event := f.Event
	if event == "" {
		event = "*"
	}
	return joinPayload{
		Config: joinConfig{
			PostgresChanges: []changeFilter{{
				Event:  event,
				Schema: schema,
				Table:  f.Table,
				Filter: f.Match,
			}},
		},
	}
}

// replyPayload is the payload of a phx_reply.
type replyPayload struct {
	Status   string          `json:"status"` // "ok" or "error"
	Response json.RawMessage `json:"response"`
}

// replyError is the error detail inside a failed reply.
type replyError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// decodeReply parses a phx_reply payload and returns an error for non-ok
// statuses.
func decodeReply(raw json.RawMessage) error {
	var reply replyPayload
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if reply.Status == "ok" {
		return nil
	}
	var detail replyError
	json.Unmarshal(reply.Response, &detail)
	if detail.Message != "" {
		return fmt.Errorf("server rejected request: %s", detail.Message)
	}
	if detail.Reason != "" {
		return fmt.Errorf("server rejected request: %s", detail.Reason)
	}
	return fmt.Errorf("server rejected request: status %q", reply.Status)
}

// changePayload is the payload of a postgres_changes event.
type changePayload struct {
	Data changeData `json:"data"`
}

type changeData struct {
	Type      string          `json:"type"` // "INSERT", "UPDATE", "DELETE"
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

// decodeChange parses a postgres_changes payload. The payload nests the row
// data one level down; some backend versions flatten it, so fall back to the
// top level when the nested form is empty.
func decodeChange(raw json.RawMessage) (changeData, error) {
	var payload changePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return changeData{}, fmt.Errorf("decode change: %w", err)
	}
	if payload.Data.Type != "" {
		return payload.Data, nil
	}
	var flat changeData
	if err := json.Unmarshal(raw, &flat); err != nil {
		return changeData{}, fmt.Errorf("decode change: %w", err)
	}
	return flat, nil
}
