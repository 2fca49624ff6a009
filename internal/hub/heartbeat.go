package hub

import (
	"context"
	"time"

	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/protocol"
)

// Heartbeater periodically pings every open session and evicts sessions
// that have gone quiet past the idle timeout (§4.5), generalizing the
// teacher's single ping ticker (ingress/internal/hub/hub.go) to also enforce
// the timeout-driven eviction the protocol calls for.
type Heartbeater struct {
	registry *Registry
	sink     metrics.Sink
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeater builds a Heartbeater sending a ping every interval and
// evicting sessions idle longer than timeout.
func NewHeartbeater(registry *Registry, sink metrics.Sink, interval, timeout time.Duration) *Heartbeater {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Heartbeater{registry: registry, sink: sink, interval: interval, timeout: timeout}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (h *Heartbeater) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Heartbeater) sweep() {
	now := time.Now()
	for _, s := range h.registry.All() {
		if s.State() != StateOpen {
			continue
		}
		if now.Sub(s.LastTraffic()) > h.timeout {
			h.evict(s)
			continue
		}
		h.ping(s)
	}
}

func (h *Heartbeater) ping(s *Session) {
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeHeartbeat, protocol.Hub, s.Identity, protocol.HeartbeatPayload{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		ServerStatus: "running",
		Ping:         "pong",
	})
	if err != nil {
		return
	}
	data, err := protocol.Encode(envelope)
	if err != nil {
		return
	}
	s.Enqueue(data, true)
	s.MarkHeartbeatSent()
}

func (h *Heartbeater) evict(s *Session) {
	h.registry.Deregister(s)
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeError, protocol.Hub, s.Identity,
		protocol.NewError(protocol.ErrIdleTimeout, "session evicted for inactivity", nil).ToPayload())
	if err == nil {
		if data, encErr := protocol.Encode(envelope); encErr == nil {
			s.Enqueue(data, false)
		}
	}
	h.sink.CounterInc("heartbeat.idle_evicted", metrics.Tags{"identity": s.Identity.String()})
	_ = s.Close()
}
