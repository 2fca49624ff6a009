package hub

import (
	"context"

	"github.com/GCYYfun/star-protocol/internal/auth"
	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/internal/validate"
	"github.com/GCYYfun/star-protocol/protocol"
)

// Router delivers validated envelopes between sessions, generalizing the
// teacher's single hub.go dispatch switch (ingress/internal/hub/hub.go) into
// the full unicast/broadcast/scoped-broadcast/hub-addressed rules of §4.4.
type Router struct {
	registry   *Registry
	authorizer auth.Authorizer
	sink       metrics.Sink
}

// NewRouter builds a Router over registry, consulting authorizer before
// every delivery and reporting activity to sink.
func NewRouter(registry *Registry, authorizer auth.Authorizer, sink metrics.Sink) *Router {
	if authorizer == nil {
		authorizer = auth.AllowAllAuthorizer{}
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Router{registry: registry, authorizer: authorizer, sink: sink}
}

// Route handles one envelope received from source. Generic shape validation
// (protocol.Envelope well-formedness, payload shape) must already have
// happened; Route applies addressing, permission, and delivery rules.
func (rt *Router) Route(ctx context.Context, envelope protocol.Envelope, source *Session) {
	source.UpdateTraffic()

	switch envelope.Type {
	case protocol.EnvelopeHeartbeat:
		return
	case protocol.EnvelopeError:
		rt.sink.CounterInc("router.client_error_received", metrics.Tags{"sender": source.Identity.String()})
		return
	case protocol.EnvelopeMessage:
		// fall through
	default:
		return
	}

	if starErr := validate.AddressingRules(envelope, source.Identity); starErr != nil {
		rt.sendError(source, envelope.ID, starErr)
		return
	}

	if envelope.Recipient.Kind == protocol.KindHub {
		rt.routeHubAddressed(ctx, envelope, source)
		return
	}

	decision := rt.authorizer.Authorize(ctx, envelope.Sender, envelope)
	if !decision.Allow {
		rt.sendError(source, envelope.ID, protocol.NewError(protocol.ErrPermissionDenied, "delivery denied", map[string]interface{}{"reason": decision.Reason}))
		return
	}

	if envelope.Recipient.IsWildcard() {
		rt.broadcast(envelope, source)
		return
	}

	rt.unicast(envelope, source)
}

func (rt *Router) unicast(envelope protocol.Envelope, source *Session) {
	target, ok := rt.registry.Get(envelope.Recipient)
	if !ok {
		rt.sendError(source, envelope.ID, protocol.NewError(protocol.ErrRoutingNoRecipient, "recipient not connected",
			map[string]interface{}{"recipient": envelope.Recipient.String()}))
		return
	}
	rt.deliver(envelope, target)
}

func (rt *Router) broadcast(envelope protocol.Envelope, source *Session) {
	var targets []*Session
	if envelope.Sender.Kind == protocol.KindEnvironment && envelope.Recipient.Kind == protocol.KindAgent {
		targets = rt.registry.AgentsInEnv(envelope.Sender.ID)
	} else {
		exclude := ""
		if envelope.Sender.Kind == envelope.Recipient.Kind {
			exclude = envelope.Sender.ID
		}
		targets = rt.registry.ByKind(envelope.Recipient.Kind, exclude)
	}

	for _, target := range targets {
		rt.deliver(envelope, target)
	}
	rt.sink.GaugeSet("router.broadcast_fanout", float64(len(targets)), metrics.Tags{"sender": source.Identity.String()})
}

func (rt *Router) deliver(envelope protocol.Envelope, target *Session) {
	data, err := protocol.Encode(envelope)
	if err != nil {
		rt.sink.Log(metrics.LevelError, "encode envelope for delivery failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if dropped := target.Enqueue(data, false); dropped {
		rt.sink.CounterInc("router.queue_drop", metrics.Tags{"recipient": target.Identity.String()})
	}
	rt.sink.CounterInc("router.delivered", metrics.Tags{"recipient": target.Identity.String()})
}

func (rt *Router) sendError(source *Session, inReplyTo string, starErr *protocol.StarError) {
	payload := starErr.ToPayload()
	if payload.Details == nil {
		payload.Details = map[string]interface{}{}
	}
	payload.Details["in_reply_to"] = inReplyTo

	envelope, err := protocol.NewEnvelope(protocol.EnvelopeError, protocol.Hub, source.Identity, payload)
	if err != nil {
		return
	}
	data, err := protocol.Encode(envelope)
	if err != nil {
		return
	}
	source.Enqueue(data, false)
	rt.sink.CounterInc("router.error_sent", metrics.Tags{"code": string(starErr.Code)})
}
