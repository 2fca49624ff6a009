package hub

import (
	"errors"
	"sync"
	"time"
)

// fakeTransport is a minimal Transport for tests that never need real bytes
// on the wire, only Close semantics.
type fakeTransport struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("fakeTransport: read not implemented")
}

func (f *fakeTransport) WriteMessage(int, []byte) error {
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
