// Package registry holds the current ingress intent of every related client
// application. Entries are replaced wholesale on every announce so stale
// fields cannot linger across updates.
package registry

import (
	"iter"
	"sort"
	"sync"
	"sync/atomic"
)

// Mode selects how a client's backends are exposed through the proxy.
type Mode string

const (
	// ModePerApp publishes one route whose backend pool contains every unit.
	ModePerApp Mode = "per-app"
	// ModePerUnit publishes one route per unit, namespaced by unit index.
	ModePerUnit Mode = "per-unit"
	// ModeRoute publishes one route at an explicit path supplied by the
	// client, bypassing prefix derivation. The proxy does not strip the
	// path, so the client must serve under it.
	ModeRoute Mode = "route"
)

// RouteRequest is one client's declared desire to be reachable through the
// proxy. The zero value is not valid; requests are built by the relation
// parser.
type RouteRequest struct {
	// ClientID is the stable identifier of the requesting application.
	ClientID string
	// Mode is per-app or per-unit.
	Mode Mode
	// Prefix is the path segment (or subdomain) the client asked for.
	// Defaults to ClientID when the client did not specify one.
	Prefix string
	// Path is the explicit absolute path for ModeRoute requests. Empty for
	// the other modes.
	Path string
	// Backends are the unit addresses (host:port), in announce order. May be
	// empty while the client is still starting up.
	Backends []string
	// Invalid is set when the client's relation data failed validation. The
	// entry is kept so status can report it, but it produces no routes.
	Invalid string
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r RouteRequest) Clone() RouteRequest {
	out := r
	out.Backends = make([]string, len(r.Backends))
	copy(out.Backends, r.Backends)
	return out
}

// Registry is a thread-safe store of RouteRequests keyed by ClientID. Each
// mutation increments a generation counter used by the reconcile loop to skip
// redundant passes.
type Registry struct {
	mu       sync.RWMutex
	requests map[string]RouteRequest

	generation atomic.Int64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{requests: make(map[string]RouteRequest)}
}

// Generation returns the current generation counter.
func (s *Registry) Generation() int64 {
	return s.generation.Load()
}

// Upsert replaces any existing entry for req.ClientID.
func (s *Registry) Upsert(req RouteRequest) {
	s.mu.Lock()
	s.requests[req.ClientID] = req.Clone()
	s.generation.Add(1)
	s.mu.Unlock()
}

// Remove deletes the entry for clientID. Removing an absent entry still bumps
// the generation: relation departure must trigger a reconciliation even when
// the client never announced valid data.
func (s *Registry) Remove(clientID string) {
	s.mu.Lock()
	delete(s.requests, clientID)
	s.generation.Add(1)
	s.mu.Unlock()
}

// Get returns the entry for clientID.
func (s *Registry) Get(clientID string) (RouteRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[clientID]
	if !ok {
		return RouteRequest{}, false
	}
	return req.Clone(), true
}

// Len returns the number of stored entries.
func (s *Registry) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

// All returns a restartable sequence over a point-in-time snapshot of the
// entries, sorted by ClientID so resolution is deterministic.
func (s *Registry) All() iter.Seq[RouteRequest] {
	snap := s.Snapshot()
	return func(yield func(RouteRequest) bool) {
		for _, req := range snap {
			if !yield(req) {
				return
			}
		}
	}
}

// Snapshot returns a sorted copy of the current entries.
func (s *Registry) Snapshot() []RouteRequest {
	s.mu.RLock()
	out := make([]RouteRequest, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, req.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientID < out[j].ClientID
	})
	return out
}
