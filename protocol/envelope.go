package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeType discriminates the outer protocol frame.
type EnvelopeType string

const (
	EnvelopeHeartbeat EnvelopeType = "heartbeat"
	EnvelopeMessage   EnvelopeType = "message"
	EnvelopeError     EnvelopeType = "error"
)

// Valid reports whether t is one of the three recognised envelope types.
func (t EnvelopeType) Valid() bool {
	switch t {
	case EnvelopeHeartbeat, EnvelopeMessage, EnvelopeError:
		return true
	default:
		return false
	}
}

// ProtocolVersion is the default value of Envelope.Version when unset.
const ProtocolVersion = "1"

// MaxFrameBytes is the hard upper bound on a single encoded frame (§4.1, §6).
const MaxFrameBytes = 1 << 20 // 1 MiB

// Envelope is the outer protocol frame: one JSON object per transport frame.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Sender    Identity        `json:"sender"`
	Recipient Identity        `json:"recipient"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp,omitempty"`
	ID        string          `json:"id,omitempty"`
	Version   string          `json:"version,omitempty"`
}

// NewEnvelope marshals payload to JSON and builds an envelope around it,
// stamping the current Timestamp, a fresh ID, and the default Version.
func NewEnvelope(typ EnvelopeType, sender, recipient Identity, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Payload:   raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ID:        uuid.NewString(),
		Version:   ProtocolVersion,
	}, nil
}

// Encode marshals the envelope to a single JSON frame, filling optional
// fields with their defaults per §4.1.
func Encode(e Envelope) ([]byte, error) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Version == "" {
		e.Version = ProtocolVersion
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(data) > MaxFrameBytes {
		return nil, NewError(ErrValidation, "encoded frame exceeds max_frame_bytes", map[string]interface{}{
			"size": len(data),
		})
	}
	return data, nil
}

// Decode parses exactly one JSON object into an Envelope. Unknown top-level
// fields are ignored, not rejected; they are not kept on the returned
// Envelope, so re-encoding it drops them. Frames larger than MaxFrameBytes
// are rejected before parsing.
func Decode(data []byte) (Envelope, error) {
	if len(data) > MaxFrameBytes {
		return Envelope{}, NewError(ErrValidation, "frame exceeds max_frame_bytes", map[string]interface{}{
			"size": len(data),
		})
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, NewError(ErrValidation, "malformed envelope JSON", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Version == "" {
		e.Version = ProtocolVersion
	}
	return e, nil
}
