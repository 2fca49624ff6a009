package auth

import (
	"context"
	"net/http"

	"github.com/GCYYfun/star-protocol/protocol"
)

// APIKeyAuthenticator accepts the upgrade when the request carries a
// matching static key, generalizing the teacher's hello.api_key check
// (ingress/internal/ws/server.go::handleHello) from an in-band hello message
// to the upgrade request itself (header or query parameter), since this
// core authenticates at accept time rather than after a handshake message.
type APIKeyAuthenticator struct {
	Key string // expected key; empty means this authenticator denies everything
}

// NewAPIKeyAuthenticator builds an APIKeyAuthenticator for the given key.
func NewAPIKeyAuthenticator(key string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{Key: key}
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, r *http.Request, _ protocol.Identity) Decision {
	if a.Key == "" {
		return Deny("api key authenticator has no configured key")
	}
	got := r.Header.Get("X-API-Key")
	if got == "" {
		got = r.URL.Query().Get("api_key")
	}
	if got == a.Key {
		return Allow
	}
	return Deny("invalid or missing api_key")
}
