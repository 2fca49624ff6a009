package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/star-protocol/internal/auth"
	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/protocol"
)

func decodeEnvelope(t *testing.T, data []byte) protocol.Envelope {
	t.Helper()
	e, err := protocol.Decode(data)
	require.NoError(t, err)
	return e
}

func TestRouterUnicastDelivery(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r, auth.AllowAllAuthorizer{}, metrics.NoopSink{})

	agent, _ := newTestSession(protocol.KindAgent, "a1")
	env, _ := newTestSession(protocol.KindEnvironment, "world1")
	r.Register(agent)
	r.Register(env)

	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewIdentity(protocol.KindEnvironment, "world1"),
		protocol.NewAction("", "move", map[string]interface{}{"dx": 1}))
	require.NoError(t, err)

	rt.Route(context.Background(), envelope, agent)

	data, ok := env.Dequeue(nil)
	require.True(t, ok)
	got := decodeEnvelope(t, data)
	require.Equal(t, "a1", got.Sender.ID)
}

func TestRouterUnicastNoRecipientErrorsBackToSender(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r, auth.AllowAllAuthorizer{}, metrics.NoopSink{})

	agent, _ := newTestSession(protocol.KindAgent, "a1")
	r.Register(agent)

	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewIdentity(protocol.KindEnvironment, "ghost"),
		protocol.NewAction("", "move", nil))
	require.NoError(t, err)

	rt.Route(context.Background(), envelope, agent)

	data, ok := agent.Dequeue(nil)
	require.True(t, ok)
	got := decodeEnvelope(t, data)
	require.Equal(t, protocol.EnvelopeError, got.Type)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	require.Equal(t, string(protocol.ErrRoutingNoRecipient), payload.ErrorCode)
}

func TestRouterScopedBroadcastToEnvAgentsOnly(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r, auth.AllowAllAuthorizer{}, metrics.NoopSink{})

	env, _ := newTestSession(protocol.KindEnvironment, "world1")
	inEnv, _ := newTestSession(protocol.KindAgent, "a1")
	inEnv.EnvID = "world1"
	outsideEnv, _ := newTestSession(protocol.KindAgent, "a2")
	outsideEnv.EnvID = "world2"

	r.Register(env)
	r.Register(inEnv)
	r.Register(outsideEnv)

	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindEnvironment, "world1"),
		protocol.NewIdentity(protocol.KindAgent, protocol.Wildcard),
		protocol.NewEvent("", "tick", nil))
	require.NoError(t, err)

	rt.Route(context.Background(), envelope, env)

	_, ok := inEnv.Dequeue(nil)
	require.True(t, ok)

	select {
	case <-outsideEnv.notify:
		t.Fatal("agent outside the broadcasting environment should not receive the event")
	default:
	}
}

func TestRouterSelfAddressedRejected(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r, auth.AllowAllAuthorizer{}, metrics.NoopSink{})

	agent, _ := newTestSession(protocol.KindAgent, "a1")
	r.Register(agent)

	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewAction("", "noop", nil))
	require.NoError(t, err)

	rt.Route(context.Background(), envelope, agent)

	data, ok := agent.Dequeue(nil)
	require.True(t, ok)
	got := decodeEnvelope(t, data)
	require.Equal(t, protocol.EnvelopeError, got.Type)
}

func TestRouterPermissionDenied(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r, denyAllAuthorizer{}, metrics.NoopSink{})

	agent, _ := newTestSession(protocol.KindAgent, "a1")
	env, _ := newTestSession(protocol.KindEnvironment, "world1")
	r.Register(agent)
	r.Register(env)

	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.NewIdentity(protocol.KindEnvironment, "world1"),
		protocol.NewAction("", "move", nil))
	require.NoError(t, err)

	rt.Route(context.Background(), envelope, agent)

	data, ok := agent.Dequeue(nil)
	require.True(t, ok)
	got := decodeEnvelope(t, data)
	require.Equal(t, protocol.EnvelopeError, got.Type)

	// A closed ctxDone makes Dequeue return at once when nothing is queued.
	done := make(chan struct{})
	close(done)
	_, ok = env.Dequeue(done)
	require.False(t, ok)
}

func TestRouterHubAddressedGetServerStats(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r, auth.AllowAllAuthorizer{}, metrics.NoopSink{})

	agent, _ := newTestSession(protocol.KindAgent, "a1")
	r.Register(agent)

	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage,
		protocol.NewIdentity(protocol.KindAgent, "a1"),
		protocol.Hub,
		protocol.NewStreamRequest("req1", "get_server_stats"))
	require.NoError(t, err)

	rt.Route(context.Background(), envelope, agent)

	data, ok := agent.Dequeue(nil)
	require.True(t, ok)
	got := decodeEnvelope(t, data)

	var outcome protocol.OutcomePayload
	require.NoError(t, json.Unmarshal(got.Payload, &outcome))
	require.Equal(t, "req1", outcome.ID)
	require.Equal(t, protocol.OutcomeSuccess, outcome.Outcome.Status)
}

type denyAllAuthorizer struct{}

func (denyAllAuthorizer) Authorize(context.Context, protocol.Identity, protocol.Envelope) auth.Decision {
	return auth.Deny("denied for test")
}
