package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PayloadType tags the inner business payload carried by a "message" envelope.
type PayloadType string

const (
	PayloadAction  PayloadType = "action"
	PayloadOutcome PayloadType = "outcome"
	PayloadEvent   PayloadType = "event"
	PayloadStream  PayloadType = "stream"
)

// Valid reports whether t is one of the four recognised payload variants.
func (t PayloadType) Valid() bool {
	switch t {
	case PayloadAction, PayloadOutcome, PayloadEvent, PayloadStream:
		return true
	default:
		return false
	}
}

// OutcomeStatus is the required status field of an OutcomePayload's outcome object.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// ActionPayload is the "action" business payload variant.
type ActionPayload struct {
	Type       PayloadType            `json:"type"`
	ID         string                 `json:"id"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
}

// NewAction builds an action payload, generating an id when none is supplied.
func NewAction(id, action string, parameters map[string]interface{}) ActionPayload {
	if id == "" {
		id = uuid.NewString()
	}
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	return ActionPayload{Type: PayloadAction, ID: id, Action: action, Parameters: parameters}
}

// Outcome is the required shape of OutcomePayload.Outcome: at minimum a status.
type Outcome struct {
	Status OutcomeStatus          `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// OutcomePayload is the "outcome" business payload variant; ID echoes the
// originating action's id.
type OutcomePayload struct {
	Type        PayloadType `json:"type"`
	ID          string      `json:"id"`
	Outcome     Outcome     `json:"outcome"`
	OutcomeType string      `json:"outcome_type"`
}

// NewOutcome builds an outcome payload that correlates to actionID.
func NewOutcome(actionID string, outcome Outcome, outcomeType string) OutcomePayload {
	if outcomeType == "" {
		outcomeType = "dict"
	}
	return OutcomePayload{Type: PayloadOutcome, ID: actionID, Outcome: outcome, OutcomeType: outcomeType}
}

// EventPayload is the "event" business payload variant.
type EventPayload struct {
	Type  PayloadType            `json:"type"`
	ID    string                 `json:"id"`
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// NewEvent builds an event payload, generating an id when none is supplied.
func NewEvent(id, event string, data map[string]interface{}) EventPayload {
	if id == "" {
		id = uuid.NewString()
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return EventPayload{Type: PayloadEvent, ID: id, Event: event, Data: data}
}

// StreamPayload is the "stream" business payload variant. Sequence is
// monotonic non-negative per (sender, stream_type); the Hub permits gaps. ID
// is optional and only meaningful for request/response stream_types such as
// the hub-addressed introspection queries, which echo it back on the
// outcome envelope that answers them.
type StreamPayload struct {
	Type       PayloadType            `json:"type"`
	ID         string                 `json:"id,omitempty"`
	StreamType string                 `json:"stream_type"`
	Sequence   int64                  `json:"sequence"`
	Data       map[string]interface{} `json:"data"`
}

// NewStream builds a stream payload.
func NewStream(streamType string, sequence int64, data map[string]interface{}) StreamPayload {
	if data == nil {
		data = map[string]interface{}{}
	}
	return StreamPayload{Type: PayloadStream, StreamType: streamType, Sequence: sequence, Data: data}
}

// NewStreamRequest builds a stream payload carrying a correlation id, for
// request/response stream_types like get_environments and get_server_stats.
func NewStreamRequest(id, streamType string) StreamPayload {
	if id == "" {
		id = uuid.NewString()
	}
	return StreamPayload{Type: PayloadStream, ID: id, StreamType: streamType, Data: map[string]interface{}{}}
}

// payloadEnvelope is used only to sniff the discriminator field before
// unmarshalling into a concrete payload type.
type payloadEnvelope struct {
	Type PayloadType `json:"type"`
}

// DecodePayload parses a raw JSON payload object into its concrete variant
// based on the "type" discriminator. Unknown discriminators are an error;
// unknown sub-fields within a known variant are ignored by json.Unmarshal's
// normal field matching and are not kept on the returned value.
func DecodePayload(raw json.RawMessage) (interface{}, error) {
	var disc payloadEnvelope
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	switch disc.Type {
	case PayloadAction:
		var p ActionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("action payload: %w", err)
		}
		return p, nil
	case PayloadOutcome:
		var p OutcomePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("outcome payload: %w", err)
		}
		return p, nil
	case PayloadEvent:
		var p EventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("event payload: %w", err)
		}
		return p, nil
	case PayloadStream:
		var p StreamPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("stream payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", disc.Type)
	}
}

// HeartbeatPayload is the payload of a heartbeat envelope.
type HeartbeatPayload struct {
	Timestamp    string `json:"timestamp"`
	ServerStatus string `json:"server_status"`
	Ping         string `json:"ping"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
