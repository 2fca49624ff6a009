package auth

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/GCYYfun/star-protocol/protocol"
)

// OPAAuthorizer evaluates a Rego policy against every routed envelope,
// adapted from the teacher's sibling module's policy engine
// (orchestrator/policy/engine.go) from a tool-call allow/block/require_approval
// decision into the router's two-valued permission check (§4.4): any result
// other than "allow" denies delivery.
type OPAAuthorizer struct {
	query rego.PreparedEvalQuery
}

// NewOPAAuthorizer prepares policyContent (a Rego module defining
// data.star_protocol.decision) for repeated evaluation.
func NewOPAAuthorizer(ctx context.Context, policyContent string) (*OPAAuthorizer, error) {
	r := rego.New(
		rego.Query("data.star_protocol.decision"),
		rego.Module("star_protocol.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego policy: %w", err)
	}
	return &OPAAuthorizer{query: query}, nil
}

// Authorize evaluates the policy with an input document describing the
// sender and envelope, denying delivery unless the policy yields "allow".
func (o *OPAAuthorizer) Authorize(ctx context.Context, sender protocol.Identity, envelope protocol.Envelope) Decision {
	input := map[string]interface{}{
		"sender_kind":    string(sender.Kind),
		"sender_id":      sender.ID,
		"recipient_kind": string(envelope.Recipient.Kind),
		"recipient_id":   envelope.Recipient.ID,
		"envelope_type":  string(envelope.Type),
	}

	results, err := o.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Deny(fmt.Sprintf("policy evaluation error: %v", err))
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Deny("policy yielded no decision")
	}

	decision, ok := results[0].Expressions[0].Value.(string)
	if !ok || decision != "allow" {
		return Deny(fmt.Sprintf("policy decision: %v", results[0].Expressions[0].Value))
	}
	return Allow
}

// DefaultPolicy allows every envelope; it exists so operators can copy it as
// a starting point for a stricter policy.
const DefaultPolicy = `
package star_protocol

default decision = "allow"
`
