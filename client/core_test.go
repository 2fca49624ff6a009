package client

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/star-protocol/internal/auth"
	"github.com/GCYYfun/star-protocol/internal/config"
	"github.com/GCYYfun/star-protocol/internal/hub"
	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/internal/server"
	"github.com/GCYYfun/star-protocol/protocol"
)

// startTestHub boots a real Hub+Connection Acceptor on an ephemeral local
// port and returns its ws:// base URL, for integration tests that need the
// whole accept/route/deliver path rather than a mock transport.
func startTestHub(t *testing.T) string {
	t.Helper()
	cfg := config.Defaults()
	cfg.HeartbeatInterval = time.Hour
	cfg.SessionTimeout = time.Minute
	h := hub.New(auth.AllowAllAuthorizer{}, metrics.NoopSink{}, cfg.HeartbeatInterval, cfg.SessionTimeout)
	srv := server.New(cfg, h, auth.AllowAllAuthenticator{}, metrics.NoopSink{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	go srv.Start(addr) //nolint:errcheck
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	waitForListener(t, addr)
	return "ws://" + addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub never started listening on %s", addr)
}

func TestAgentEnvironmentActionOutcomeRoundTrip(t *testing.T) {
	base := startTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := DialEnvironment(ctx, base, "world1", Options{})
	require.NoError(t, err)
	defer env.Close()

	env.OnAction("move", func(envelope protocol.Envelope) {
		var action protocol.ActionPayload
		require.NoError(t, json.Unmarshal(envelope.Payload, &action))
		_ = env.SendOutcome(context.Background(), envelope.Sender.ID, action.ID, protocol.Outcome{
			Status: protocol.OutcomeSuccess,
			Data:   map[string]interface{}{"moved": true},
		})
	})

	agent, err := DialAgent(ctx, base, "world1", "agent1", Options{})
	require.NoError(t, err)
	defer agent.Close()
	waitForSubscription()

	outcome, err := agent.Move(ctx, "north")
	require.NoError(t, err)
	require.Equal(t, protocol.OutcomeSuccess, outcome.Status)
	require.Equal(t, true, outcome.Data["moved"])
}

func TestAgentSendAndWaitTimesOutWithNoResponder(t *testing.T) {
	base := startTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := DialEnvironment(ctx, base, "world1", Options{})
	require.NoError(t, err)
	defer env.Close()

	agent, err := DialAgent(ctx, base, "world1", "agent1", Options{RequestTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer agent.Close()

	_, err = agent.Move(ctx, "north")
	require.Error(t, err)
	starErr, ok := err.(*protocol.StarError)
	require.True(t, ok)
	require.Equal(t, protocol.ErrTimeout, starErr.Code)
}

func TestEnvironmentBroadcastReachesItsAgent(t *testing.T) {
	base := startTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := DialEnvironment(ctx, base, "world1", Options{})
	require.NoError(t, err)
	defer env.Close()

	agent, err := DialAgent(ctx, base, "world1", "agent1", Options{})
	require.NoError(t, err)
	defer agent.Close()

	received := make(chan map[string]interface{}, 1)
	agent.OnEvent("tick", func(envelope protocol.Envelope) {
		var event protocol.EventPayload
		require.NoError(t, json.Unmarshal(envelope.Payload, &event))
		received <- event.Data
	})
	waitForSubscription()

	require.NoError(t, env.BroadcastEvent(context.Background(), "tick", map[string]interface{}{"n": float64(1)}))

	select {
	case data := <-received:
		require.Equal(t, float64(1), data["n"])
	case <-time.After(2 * time.Second):
		t.Fatal("agent never received the environment's broadcast event")
	}
}

func waitForSubscription() {
	time.Sleep(50 * time.Millisecond)
}
