package hub

import (
	"context"

	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/protocol"
)

// routeHubAddressed answers the supplemented hub-addressed operations
// (SPEC_FULL.md, data-model expansion under §1-3): the get_environments and
// get_server_stats introspection queries, and the broadcast_announcement
// admin action, all grounded on
// original_source/star_protocol/hub/router.py::_handle_get_environments,
// _handle_get_server_stats, _handle_broadcast_announcement.
func (rt *Router) routeHubAddressed(ctx context.Context, envelope protocol.Envelope, source *Session) {
	payload, err := protocol.DecodePayload(envelope.Payload)
	if err != nil {
		rt.sendError(source, envelope.ID, protocol.NewError(protocol.ErrValidation, "unrecognised hub-addressed payload", nil))
		return
	}

	switch p := payload.(type) {
	case protocol.StreamPayload:
		switch p.StreamType {
		case "get_environments":
			rt.replyGetEnvironments(source, p.ID)
		case "get_server_stats":
			rt.replyGetServerStats(source, p.ID)
		default:
			rt.sendError(source, envelope.ID, protocol.NewError(protocol.ErrValidation, "unknown hub stream_type", map[string]interface{}{"stream_type": p.StreamType}))
		}
	case protocol.ActionPayload:
		switch p.Action {
		case "broadcast_announcement":
			rt.handleBroadcastAnnouncement(ctx, envelope, source, p)
		default:
			rt.sendError(source, envelope.ID, protocol.NewError(protocol.ErrValidation, "unknown hub action", map[string]interface{}{"action": p.Action}))
		}
	default:
		rt.sendError(source, envelope.ID, protocol.NewError(protocol.ErrValidation, "hub-addressed envelopes must carry a stream or action payload", nil))
	}
}

func (rt *Router) replyGetEnvironments(source *Session, correlationID string) {
	envs := rt.registry.EnvironmentIDs()
	list := make([]map[string]interface{}, 0, len(envs))
	for _, envID := range envs {
		list = append(list, map[string]interface{}{
			"id":           envID,
			"client_count": len(rt.registry.AgentsInEnv(envID)),
		})
	}
	rt.sendOutcome(source, correlationID, protocol.Outcome{
		Status: protocol.OutcomeSuccess,
		Data:   map[string]interface{}{"environments": list},
	})
}

func (rt *Router) replyGetServerStats(source *Session, correlationID string) {
	stats := rt.registry.Snapshot()
	rt.sendOutcome(source, correlationID, protocol.Outcome{
		Status: protocol.OutcomeSuccess,
		Data: map[string]interface{}{
			"active_connections":  stats.Total,
			"active_agents":       stats.Agents,
			"active_environments": stats.Environments,
			"active_humans":       stats.Humans,
		},
	})
}

func (rt *Router) handleBroadcastAnnouncement(ctx context.Context, envelope protocol.Envelope, source *Session, action protocol.ActionPayload) {
	decision := rt.authorizer.Authorize(ctx, envelope.Sender, envelope)
	if !decision.Allow {
		rt.sendError(source, envelope.ID, protocol.NewError(protocol.ErrPermissionDenied, "broadcast_announcement denied", map[string]interface{}{"reason": decision.Reason}))
		return
	}

	message, _ := action.Parameters["message"].(string)
	event := protocol.NewEvent("", "server_announcement", map[string]interface{}{"message": message})
	outbound, err := protocol.NewEnvelope(protocol.EnvelopeMessage, protocol.Hub, protocol.NewIdentity(protocol.KindAgent, protocol.Wildcard), event)
	if err == nil {
		data, encErr := protocol.Encode(outbound)
		if encErr == nil {
			for _, target := range rt.registry.ByKind(protocol.KindAgent, "") {
				target.Enqueue(data, false)
			}
			for _, target := range rt.registry.ByKind(protocol.KindHuman, "") {
				target.Enqueue(data, false)
			}
		}
	}

	rt.sink.CounterInc("router.broadcast_announcement", metrics.Tags{})
	rt.sendOutcome(source, action.ID, protocol.Outcome{Status: protocol.OutcomeSuccess, Data: map[string]interface{}{"broadcast_sent": true}})
}

func (rt *Router) sendOutcome(source *Session, correlationID string, outcome protocol.Outcome) {
	payload := protocol.NewOutcome(correlationID, outcome, "dict")
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage, protocol.Hub, source.Identity, payload)
	if err != nil {
		return
	}
	data, err := protocol.Encode(envelope)
	if err != nil {
		return
	}
	source.Enqueue(data, false)
}
