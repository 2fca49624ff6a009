package client

import (
	"context"
	"strings"

	"github.com/GCYYfun/star-protocol/protocol"
)

// Human is the thin facade an operator console or chat UI uses to observe
// the hub and send the occasional action (spec §4.6); unlike Agent and
// Environment it has no default addressee, since a human's recipient varies
// per command.
type Human struct {
	core *Core
}

// DialHuman connects to the hub at base URL hubURL under path human/{humanID}.
func DialHuman(ctx context.Context, hubURL, humanID string, opts Options) (*Human, error) {
	url := strings.TrimSuffix(hubURL, "/") + "/human/" + humanID
	core := NewCore(url, protocol.NewIdentity(protocol.KindHuman, humanID), opts)
	if err := core.Connect(ctx); err != nil {
		return nil, err
	}
	return &Human{core: core}, nil
}

// Core exposes the underlying transport for advanced use.
func (h *Human) Core() *Core { return h.core }

// Close disconnects the human session.
func (h *Human) Close() error { return h.core.Close() }

// Send sends a named action to recipient and waits for its outcome.
func (h *Human) Send(ctx context.Context, recipient protocol.Identity, action string, params map[string]interface{}) (protocol.Outcome, error) {
	return h.core.SendAndWait(ctx, recipient, action, params)
}

// OnEvent subscribes fn to named events from any sender.
func (h *Human) OnEvent(name string, fn HandlerFunc) {
	h.core.OnEvent(name, fn)
}

// ListEnvironments queries the Hub for the currently live environments.
func (h *Human) ListEnvironments(ctx context.Context) (map[string]interface{}, error) {
	return h.core.QueryHub(ctx, "get_environments")
}

// BroadcastAnnouncement asks the Hub to relay message to every connected
// agent and human (gated by the router's authorizer).
func (h *Human) BroadcastAnnouncement(ctx context.Context, message string) (protocol.Outcome, error) {
	return h.core.SendAndWait(ctx, protocol.Hub, "broadcast_announcement", map[string]interface{}{"message": message})
}
