package client

import (
	"context"
	"strings"

	"github.com/GCYYfun/star-protocol/protocol"
)

// Environment is the facade a simulation world server uses to answer agent
// actions and broadcast events/observations to its agents (spec §4.6).
type Environment struct {
	core *Core
}

// DialEnvironment connects to the hub at base URL hubURL under path
// env/{envID} and returns a ready Environment facade.
func DialEnvironment(ctx context.Context, hubURL, envID string, opts Options) (*Environment, error) {
	url := strings.TrimSuffix(hubURL, "/") + "/env/" + envID
	core := NewCore(url, protocol.NewIdentity(protocol.KindEnvironment, envID), opts)
	if err := core.Connect(ctx); err != nil {
		return nil, err
	}
	return &Environment{core: core}, nil
}

// Core exposes the underlying transport for advanced use.
func (e *Environment) Core() *Core { return e.core }

// Close disconnects the environment.
func (e *Environment) Close() error { return e.core.Close() }

// OnAction registers fn to handle a named action sent by any agent.
func (e *Environment) OnAction(name string, fn HandlerFunc) {
	e.core.OnAction(name, fn)
}

// SendOutcome answers actionID (echoed from the ActionPayload the handler
// received) with outcome, addressed back to agentID.
func (e *Environment) SendOutcome(ctx context.Context, agentID, actionID string, outcome protocol.Outcome) error {
	payload := protocol.NewOutcome(actionID, outcome, "dict")
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage, e.core.Identity(),
		protocol.NewIdentity(protocol.KindAgent, agentID), payload)
	if err != nil {
		return err
	}
	return e.core.Send(ctx, envelope)
}

// BroadcastEvent sends event to every agent currently bound to this
// environment, using the wildcard scoped-broadcast rule (spec §4.4).
func (e *Environment) BroadcastEvent(ctx context.Context, event string, data map[string]interface{}) error {
	payload := protocol.NewEvent("", event, data)
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage, e.core.Identity(),
		protocol.NewIdentity(protocol.KindAgent, protocol.Wildcard), payload)
	if err != nil {
		return err
	}
	return e.core.Send(ctx, envelope)
}

// InitializeEnvironment announces this environment is ready, broadcasting an
// "environment_initialized" event to any agents already connected (useful
// when agents race the environment's own startup).
func (e *Environment) InitializeEnvironment(ctx context.Context, metadata map[string]interface{}) error {
	return e.BroadcastEvent(ctx, "environment_initialized", metadata)
}
