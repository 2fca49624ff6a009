package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/star-protocol/internal/auth"
	"github.com/GCYYfun/star-protocol/internal/config"
	"github.com/GCYYfun/star-protocol/internal/hub"
	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.SessionTimeout = time.Minute
	h := hub.New(auth.AllowAllAuthorizer{}, metrics.NoopSink{}, time.Minute, cfg.SessionTimeout)
	s := New(cfg, h, auth.AllowAllAuthenticator{}, metrics.NoopSink{})
	ts := httptest.NewServer(s.echo)
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestAgentAcceptUpgradesAndRegisters(t *testing.T) {
	s, ts := newTestServer(t)

	conn := dial(t, ts, "/env/world1/agent/a1")
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	envelope, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.EnvelopeHeartbeat, envelope.Type)

	require.Eventually(t, func() bool {
		_, ok := s.hub.Registry.Get(protocol.NewIdentity(protocol.KindAgent, "a1"))
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestInvalidIdentityRejectedBeforeUpgrade(t *testing.T) {
	_, ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/env/ab/agent/a1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 400, resp.StatusCode)
}

func TestDuplicateIdentityReplacesEarlierSession(t *testing.T) {
	s, ts := newTestServer(t)

	first := dial(t, ts, "/env/world1/agent/a1")
	defer first.Close()
	_, _, err := first.ReadMessage() // welcome heartbeat
	require.NoError(t, err)

	second := dial(t, ts, "/env/world1/agent/a1")
	defer second.Close()
	_, _, err = second.ReadMessage() // welcome heartbeat
	require.NoError(t, err)

	_, data, err := first.ReadMessage() // REPLACED error
	require.NoError(t, err)
	envelope, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.EnvelopeError, envelope.Type)

	require.Eventually(t, func() bool {
		got, ok := s.hub.Registry.Get(protocol.NewIdentity(protocol.KindAgent, "a1"))
		return ok && got != nil
	}, time.Second, 10*time.Millisecond)
}
