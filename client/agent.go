package client

import (
	"context"
	"strings"

	"github.com/GCYYfun/star-protocol/protocol"
)

// Agent is the thin facade a simulation participant uses to join one
// environment and exchange actions/events/observations with it (spec §4.6).
type Agent struct {
	core  *Core
	envID string
}

// DialAgent connects to the hub at base URL hubURL under path
// env/{envID}/agent/{agentID} and returns a ready Agent facade.
func DialAgent(ctx context.Context, hubURL, envID, agentID string, opts Options) (*Agent, error) {
	url := strings.TrimSuffix(hubURL, "/") + "/env/" + envID + "/agent/" + agentID
	core := NewCore(url, protocol.NewIdentity(protocol.KindAgent, agentID), opts)
	if err := core.Connect(ctx); err != nil {
		return nil, err
	}
	return &Agent{core: core, envID: envID}, nil
}

// Core exposes the underlying transport for advanced use (custom handlers,
// manual Send).
func (a *Agent) Core() *Core { return a.core }

// Close disconnects the agent.
func (a *Agent) Close() error { return a.core.Close() }

func (a *Agent) environment() protocol.Identity {
	return protocol.NewIdentity(protocol.KindEnvironment, a.envID)
}

// Move asks the bound environment to move this agent, waiting for its outcome.
func (a *Agent) Move(ctx context.Context, direction string) (protocol.Outcome, error) {
	return a.core.SendAndWait(ctx, a.environment(), "move", map[string]interface{}{"direction": direction})
}

// Observe asks the bound environment for this agent's current observation.
func (a *Agent) Observe(ctx context.Context) (protocol.Outcome, error) {
	return a.core.SendAndWait(ctx, a.environment(), "observe", nil)
}

// Pickup asks the bound environment to let this agent pick up itemID.
func (a *Agent) Pickup(ctx context.Context, itemID string) (protocol.Outcome, error) {
	return a.core.SendAndWait(ctx, a.environment(), "pickup", map[string]interface{}{"item_id": itemID})
}

// Act sends an arbitrary named action to the environment and waits for its
// outcome, for actions this facade does not wrap explicitly.
func (a *Agent) Act(ctx context.Context, action string, params map[string]interface{}) (protocol.Outcome, error) {
	return a.core.SendAndWait(ctx, a.environment(), action, params)
}

// OnEvent subscribes fn to named events broadcast by the environment.
func (a *Agent) OnEvent(name string, fn HandlerFunc) {
	a.core.OnEvent(name, fn)
}

// GetServerStats queries the Hub's introspection surface.
func (a *Agent) GetServerStats(ctx context.Context) (map[string]interface{}, error) {
	return a.core.QueryHub(ctx, "get_server_stats")
}
