package hub

import (
	"sync"

	"github.com/GCYYfun/star-protocol/protocol"
)

// Registry is the Hub's topology: every live session keyed by (kind,id),
// plus which agents belong to which environment. All mutations and
// traversals hold mu, the single reader-writer mutex spec §5
// prescribes; no goroutine may read or write the maps without it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	envAgents map[string]map[string]bool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		envAgents: make(map[string]map[string]bool),
	}
}

func key(identity protocol.Identity) string {
	return string(identity.Kind) + ":" + identity.ID
}

// Register installs session under its identity, evicting and returning any
// session already registered under the same identity (I1: "a newly accepted
// connection whose identity matches an already-registered session evicts the
// older session"). The caller is responsible for closing the evicted session.
func (r *Registry) Register(s *Session) (evicted *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(s.Identity)
	evicted = r.sessions[k]
	r.sessions[k] = s

	if s.Identity.Kind == protocol.KindAgent && s.EnvID != "" {
		members := r.envAgents[s.EnvID]
		if members == nil {
			members = make(map[string]bool)
			r.envAgents[s.EnvID] = members
		}
		members[s.Identity.ID] = true
	}
	return evicted
}

// Deregister removes session from the registry, but only if the currently
// registered session under that identity is still this exact session (a
// session evicted by a newer registration must not deregister the newer one
// when its own reader loop later unwinds).
func (r *Registry) Deregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(s.Identity)
	current, ok := r.sessions[k]
	if ok && current == s {
		delete(r.sessions, k)
	}
	// A newer session under the same identity in the same environment keeps
	// the membership entry.
	replacedInSameEnv := ok && current != s && current.EnvID == s.EnvID
	if s.Identity.Kind == protocol.KindAgent && s.EnvID != "" && !replacedInSameEnv {
		if members, ok := r.envAgents[s.EnvID]; ok {
			delete(members, s.Identity.ID)
			if len(members) == 0 {
				delete(r.envAgents, s.EnvID)
			}
		}
	}
}

// Get looks up the session registered under identity.
func (r *Registry) Get(identity protocol.Identity) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key(identity)]
	return s, ok
}

// ByKind returns every session of the given kind, excluding one identity id
// (typically the sender, for broadcast delivery).
func (r *Registry) ByKind(kind protocol.Kind, excludeID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if s.Identity.Kind == kind && s.Identity.ID != excludeID {
			out = append(out, s)
		}
	}
	return out
}

// AgentsInEnv returns the sessions of every agent currently bound to envID.
func (r *Registry) AgentsInEnv(envID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.envAgents[envID]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(members))
	for agentID := range members {
		if s, ok := r.sessions[key(protocol.NewIdentity(protocol.KindAgent, agentID))]; ok {
			out = append(out, s)
		}
	}
	return out
}

// EnvironmentIDs returns the id of every environment with a live session.
func (r *Registry) EnvironmentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, s := range r.sessions {
		if s.Identity.Kind == protocol.KindEnvironment {
			out = append(out, s.Identity.ID)
		}
	}
	return out
}

// Stats is a point-in-time count of the registry's contents, answering the
// hub-addressed get_server_stats introspection stream (SPEC_FULL.md).
type Stats struct {
	Agents       int `json:"agents"`
	Environments int `json:"environments"`
	Humans       int `json:"humans"`
	Total        int `json:"total"`
}

// Snapshot computes Stats over the current registry contents.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st Stats
	for _, s := range r.sessions {
		switch s.Identity.Kind {
		case protocol.KindAgent:
			st.Agents++
		case protocol.KindEnvironment:
			st.Environments++
		case protocol.KindHuman:
			st.Humans++
		}
	}
	st.Total = len(r.sessions)
	return st
}

// All returns every live session, for the heartbeater's sweep.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
