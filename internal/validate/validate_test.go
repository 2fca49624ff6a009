package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/star-protocol/protocol"
)

func mustEnvelope(t *testing.T, typ protocol.EnvelopeType, sender, recipient protocol.Identity, payload interface{}) protocol.Envelope {
	t.Helper()
	e, err := protocol.NewEnvelope(typ, sender, recipient, payload)
	require.NoError(t, err)
	return e
}

func TestValidActionEnvelope(t *testing.T) {
	e := mustEnvelope(t, protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "agent1"),
		protocol.NewIdentity(protocol.KindEnvironment, "demo"),
		protocol.NewAction("x1", "move", nil))
	require.Nil(t, Envelope(e))
}

func TestRejectsBadEnvelopeType(t *testing.T) {
	e := mustEnvelope(t, protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewIdentity(protocol.KindEnvironment, "demo"),
		protocol.NewAction("x1", "move", nil))
	e.Type = "bogus"
	err := Envelope(e)
	require.NotNil(t, err)
	require.Equal(t, protocol.ErrValidation, err.Code)
}

func TestRejectsShortAgentID(t *testing.T) {
	e := mustEnvelope(t, protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "ab"),
		protocol.NewIdentity(protocol.KindEnvironment, "demo"),
		protocol.NewAction("x1", "move", nil))
	require.NotNil(t, Envelope(e))
}

func TestWildcardOnlyLegalOnMessage(t *testing.T) {
	e := mustEnvelope(t, protocol.EnvelopeHeartbeat,
		protocol.Hub,
		protocol.NewIdentity(protocol.KindAgent, "*"),
		protocol.HeartbeatPayload{})
	require.NotNil(t, Envelope(e))
}

func TestUnknownPayloadDiscriminatorRejected(t *testing.T) {
	e := mustEnvelope(t, protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewIdentity(protocol.KindEnvironment, "demo"),
		map[string]interface{}{"type": "bogus"})
	require.NotNil(t, Envelope(e))
}

func TestUnknownActionNameNotRejected(t *testing.T) {
	e := mustEnvelope(t, protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewIdentity(protocol.KindEnvironment, "demo"),
		protocol.NewAction("x1", "some_totally_new_action_name", nil))
	require.Nil(t, Envelope(e))
}

func TestSelfAddressedRejected(t *testing.T) {
	sender := protocol.NewIdentity(protocol.KindAgent, "a1")
	e := mustEnvelope(t, protocol.EnvelopeMessage, sender, sender, protocol.NewAction("x1", "move", nil))
	err := AddressingRules(e, sender)
	require.NotNil(t, err)
}

func TestSenderMismatchRejected(t *testing.T) {
	sessionIdentity := protocol.NewIdentity(protocol.KindAgent, "a1")
	e := mustEnvelope(t, protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "impersonator"),
		protocol.NewIdentity(protocol.KindEnvironment, "demo"),
		protocol.NewAction("x1", "move", nil))
	err := AddressingRules(e, sessionIdentity)
	require.NotNil(t, err)
}
