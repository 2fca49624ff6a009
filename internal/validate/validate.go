// Package validate implements the Hub's envelope validator (spec §4.3).
//
// Checks run in order: JSON shape (already done by protocol.Decode before
// Validate is called), envelope type in enum, both identities well-formed,
// recipient id non-empty (wildcard allowed only where stated), payload
// discriminator known when envelope.type == message, and variant-specific
// required fields. Unknown action/event/stream names are never rejected —
// payload-level vocabulary stays open per spec §4.3.
package validate

import (
	"encoding/json"

	"github.com/GCYYfun/star-protocol/protocol"
)

// Envelope validates a decoded envelope and returns a *protocol.StarError
// with code VALIDATION_ERROR describing the first violation found, or nil
// when the envelope is well-formed.
func Envelope(e protocol.Envelope) *protocol.StarError {
	if !e.Type.Valid() {
		return invalid("unknown envelope type", map[string]interface{}{"type": e.Type})
	}
	if !e.Sender.Valid(false) {
		return invalid("malformed sender identity", map[string]interface{}{"sender": e.Sender})
	}
	if !e.Recipient.Valid(true) {
		return invalid("malformed recipient identity", map[string]interface{}{"recipient": e.Recipient})
	}
	if e.Recipient.ID == "" {
		return invalid("recipient id must not be empty", nil)
	}
	if e.Recipient.IsWildcard() && e.Type != protocol.EnvelopeMessage {
		return invalid("wildcard recipient only legal on message envelopes", nil)
	}

	if e.Type == protocol.EnvelopeMessage {
		if len(e.Payload) == 0 {
			return invalid("message envelope missing payload", nil)
		}
		if err := validatePayload(e.Payload); err != nil {
			return err
		}
	}
	return nil
}

func validatePayload(raw json.RawMessage) *protocol.StarError {
	payload, err := protocol.DecodePayload(raw)
	if err != nil {
		return invalid("unrecognised payload discriminator", map[string]interface{}{"cause": err.Error()})
	}
	switch p := payload.(type) {
	case protocol.ActionPayload:
		if p.ID == "" {
			return invalid("action payload missing id", nil)
		}
		if p.Action == "" {
			return invalid("action payload missing action name", nil)
		}
	case protocol.OutcomePayload:
		if p.ID == "" {
			return invalid("outcome payload missing id", nil)
		}
		if p.Outcome.Status != protocol.OutcomeSuccess && p.Outcome.Status != protocol.OutcomeError {
			return invalid("outcome payload missing outcome.status", map[string]interface{}{"status": p.Outcome.Status})
		}
	case protocol.EventPayload:
		if p.ID == "" {
			return invalid("event payload missing id", nil)
		}
		if p.Event == "" {
			return invalid("event payload missing event name", nil)
		}
	case protocol.StreamPayload:
		if p.StreamType == "" {
			return invalid("stream payload missing stream_type", nil)
		}
		if p.Sequence < 0 {
			return invalid("stream payload sequence must be non-negative", map[string]interface{}{"sequence": p.Sequence})
		}
	}
	return nil
}

// AddressingRules enforces the two sender-side tie-breaks from §4.4 that the
// router (not the generic shape validator) is responsible for: self-addressed
// envelopes, and sender/session identity mismatch. Kept here so both the
// router and any caller constructing outbound envelopes can reuse the same
// logic without duplicating error construction.
func AddressingRules(e protocol.Envelope, sourceIdentity protocol.Identity) *protocol.StarError {
	if !e.Sender.Equal(sourceIdentity) {
		return invalid("sender does not match source session identity", map[string]interface{}{
			"sender":  e.Sender,
			"session": sourceIdentity,
		})
	}
	if e.Sender.Equal(e.Recipient) {
		return invalid("self-addressed envelope rejected", map[string]interface{}{"identity": e.Sender})
	}
	return nil
}

func invalid(message string, details map[string]interface{}) *protocol.StarError {
	return protocol.NewError(protocol.ErrValidation, message, details)
}
