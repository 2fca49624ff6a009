package hub

import (
	"context"
	"time"

	"github.com/GCYYfun/star-protocol/internal/auth"
	"github.com/GCYYfun/star-protocol/internal/metrics"
)

// Hub bundles the registry, router and heartbeater into the single object
// package server drives per accepted connection.
type Hub struct {
	Registry    *Registry
	Router      *Router
	Heartbeater *Heartbeater
	Sink        metrics.Sink
}

// New builds a Hub ready to accept sessions.
func New(authorizer auth.Authorizer, sink metrics.Sink, heartbeatInterval, sessionTimeout time.Duration) *Hub {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	registry := NewRegistry()
	return &Hub{
		Registry:    registry,
		Router:      NewRouter(registry, authorizer, sink),
		Heartbeater: NewHeartbeater(registry, sink, heartbeatInterval, sessionTimeout),
		Sink:        sink,
	}
}

// Run starts the heartbeat sweep loop, blocking until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.Heartbeater.Run(ctx)
}
