package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/star-protocol/protocol"
)

func TestCloseFailsPendingCallsWithConnectionLost(t *testing.T) {
	core := NewCore("ws://example.invalid", protocol.NewIdentity(protocol.KindAgent, "a1"), Options{})

	calls := []pendingCall{
		{resultCh: make(chan protocol.OutcomePayload, 1), errCh: make(chan *protocol.StarError, 1)},
		{resultCh: make(chan protocol.OutcomePayload, 1), errCh: make(chan *protocol.StarError, 1)},
	}
	core.pendingMu.Lock()
	core.pending["req-1"] = calls[0]
	core.pending["req-2"] = calls[1]
	core.pendingMu.Unlock()

	require.NoError(t, core.Close())

	for _, call := range calls {
		select {
		case err := <-call.errCh:
			require.Equal(t, protocol.ErrConnectionLost, err.Code)
		case <-time.After(time.Second):
			t.Fatal("pending call was never failed with CONNECTION_LOST")
		}
	}

	core.pendingMu.Lock()
	defer core.pendingMu.Unlock()
	require.Empty(t, core.pending)
}

// TestSecondDisconnectDoesNotHang exercises the reconnect-reset path twice:
// after a first Close()+resetForReconnect() cycle, a second Close() must
// still actually close the (new) closed channel, or Run's <-c.closed wait
// would hang forever after the second connection drop.
func TestSecondDisconnectDoesNotHang(t *testing.T) {
	core := NewCore("ws://example.invalid", protocol.NewIdentity(protocol.KindAgent, "a1"), Options{})

	require.NoError(t, core.Close())
	assertClosed(t, core.closed)

	core.resetForReconnect()
	assertOpen(t, core.closed)

	require.NoError(t, core.Close())
	assertClosed(t, core.closed)
}

func assertClosed(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected channel to be closed")
	}
}

func assertOpen(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("expected channel to still be open")
	default:
	}
}
