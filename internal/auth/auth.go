// Package auth provides the Hub's pluggable authenticator and authorizer
// capabilities (spec §4.2, §4.4). The core depends only on the Authenticator
// and Authorizer interfaces; the default implementations of both accept
// everything, matching spec.md's statement that the demo world's concrete
// auth policy is an external collaborator.
package auth

import (
	"context"
	"net/http"

	"github.com/GCYYfun/star-protocol/protocol"
)

// Decision is the outcome of an authentication or authorization check.
type Decision struct {
	Allow  bool
	Reason string
}

// Allow is the zero-friction successful Decision.
var Allow = Decision{Allow: true}

// Deny builds a failed Decision carrying a human-readable reason.
func Deny(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// Authenticator gates the upgrade request for a new connection (§4.2 step 1).
// On failure the upgrade is aborted with HTTP 401 and no structured error
// frame is sent, since no session yet exists to address one to.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request, identity protocol.Identity) Decision
}

// Authorizer is the router's optional permission-check hook (§4.4): before
// delivery the router may consult Authorize(sender, envelope); a denial
// emits PERMISSION_DENIED to the sender instead of delivering the envelope.
type Authorizer interface {
	Authorize(ctx context.Context, sender protocol.Identity, envelope protocol.Envelope) Decision
}

// AllowAllAuthenticator is the default authenticator: it accepts every
// upgrade request unconditionally.
type AllowAllAuthenticator struct{}

func (AllowAllAuthenticator) Authenticate(context.Context, *http.Request, protocol.Identity) Decision {
	return Allow
}

// AllowAllAuthorizer is the default authorizer: it allows every delivery.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) Authorize(context.Context, protocol.Identity, protocol.Envelope) Decision {
	return Allow
}
