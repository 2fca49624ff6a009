package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/star-protocol/protocol"
)

func newTestSession(kind protocol.Kind, id string) (*Session, *fakeTransport) {
	tr := &fakeTransport{}
	return NewSession(protocol.NewIdentity(kind, id), "", tr, 4), tr
}

func TestEnqueueDropsOldestNonHeartbeatWhenFull(t *testing.T) {
	s, _ := newTestSession(protocol.KindAgent, "a1")

	require.False(t, s.Enqueue([]byte("1"), false))
	require.False(t, s.Enqueue([]byte("2"), false))
	require.False(t, s.Enqueue([]byte("3"), false))
	require.False(t, s.Enqueue([]byte("4"), false))
	require.True(t, s.Enqueue([]byte("5"), false))

	first, ok := s.Dequeue(nil)
	require.True(t, ok)
	require.Equal(t, "2", string(first))
}

func TestEnqueuePreservesHeartbeatsOverNonHeartbeats(t *testing.T) {
	s, _ := newTestSession(protocol.KindAgent, "a1")

	require.False(t, s.Enqueue([]byte("hb1"), true))
	require.False(t, s.Enqueue([]byte("hb2"), true))
	require.False(t, s.Enqueue([]byte("msg1"), false))
	require.False(t, s.Enqueue([]byte("msg2"), false))
	require.True(t, s.Enqueue([]byte("msg3"), false))

	first, ok := s.Dequeue(nil)
	require.True(t, ok)
	require.Equal(t, "hb1", string(first))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, tr := newTestSession(protocol.KindHuman, "h1")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.True(t, tr.isClosed())

	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
}

func TestDropHookInvokedOnOverflow(t *testing.T) {
	s, _ := newTestSession(protocol.KindAgent, "a1")
	drops := 0
	s.SetDropHook(func() { drops++ })

	for i := 0; i < 6; i++ {
		s.Enqueue([]byte("x"), false)
	}
	require.Equal(t, 2, drops)
}
