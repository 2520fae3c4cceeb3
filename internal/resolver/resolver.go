// Package resolver merges the current RouteRequests and TLS state into a
// single ResolvedConfig for the proxy. Resolution is deterministic: identical
// inputs always produce an identical config, which is what lets the applier's
// change detection work.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wudi/ingress-operator/internal/certs"
	"github.com/wudi/ingress-operator/internal/registry"
	"github.com/wudi/ingress-operator/internal/validate"
)

// RoutingMode selects how routes are namespaced on the external hostname.
type RoutingMode string

const (
	// RoutingModePath exposes each client under a path prefix.
	RoutingModePath RoutingMode = "path"
	// RoutingModeSubdomain exposes each client under a subdomain.
	RoutingModeSubdomain RoutingMode = "subdomain"
)

// Snapshot is the full input to one resolution pass.
type Snapshot struct {
	Requests []registry.RouteRequest
	TLS      *certs.TLSState
	// ExternalHostname is the operator-configured hostname clients are
	// reached through.
	ExternalHostname string
	RoutingMode      RoutingMode
}

// Rule is one resolved route: a matcher plus a backend pool.
type Rule struct {
	// ID is the stable rule identifier, derived from the client's prefix
	// (plus unit index in per-unit mode).
	ID string
	// ClientID names the request this rule traces back to.
	ClientID string
	// Host is the hostname the rule matches ("" matches any host).
	Host string
	// PathPrefix is the path the rule matches ("" in subdomain mode).
	PathPrefix string
	// StripPrefix marks rules whose backend expects requests at the root.
	// Route-mode rules keep their path; the client serves under it.
	StripPrefix bool
	// Backends is the server pool, sorted. Per-unit rules have exactly one.
	Backends []string
}

// TLSBinding is the certificate binding shared by all HTTPS rules.
type TLSBinding struct {
	Hostname      string
	CertPath      string
	KeyPath       string
	CAFingerprint string
}

// ClientWarning flags a client excluded from resolution without failing the
// pass for everyone else.
type ClientWarning struct {
	ClientID string
	Reason   string
}

// ResolvedConfig is an immutable snapshot of the desired proxy state,
// recomputed in full on every pass.
type ResolvedConfig struct {
	Hostname string
	Rules    []Rule
	// TLS is nil for HTTP-only configs.
	TLS *TLSBinding
	// RedirectToHTTPS is set together with TLS: plaintext requests are
	// redirected rather than served.
	RedirectToHTTPS bool
	// Warnings lists clients whose requests were excluded.
	Warnings []ClientWarning
	// Waiting lists clients that have no backends yet.
	Waiting []string
}

// ConflictError reports two clients claiming the same route.
type ConflictError struct {
	RouteKey  string
	ClientIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("route conflict on %q between clients %s",
		e.RouteKey, strings.Join(e.ClientIDs, ", "))
}

// HostnameMismatchError reports TLS material issued for a hostname other than
// the configured one.
type HostnameMismatchError struct {
	Configured  string
	Certificate string
}

func (e *HostnameMismatchError) Error() string {
	return fmt.Sprintf("certificate hostname %q does not match configured hostname %q",
		e.Certificate, e.Configured)
}

// Resolver turns snapshots into resolved configs.
type Resolver struct {
	certPath string
	keyPath  string
}

// New creates a Resolver. certPath/keyPath are where the certificate manager
// persists material for the proxy to read.
func New(certPath, keyPath string) *Resolver {
	return &Resolver{certPath: certPath, keyPath: keyPath}
}

// Resolve builds a ResolvedConfig from the snapshot. It fails with
// *ConflictError or *HostnameMismatchError; malformed requests only produce
// warnings. Nothing is ever returned from a failed resolution.
func (r *Resolver) Resolve(snap Snapshot) (*ResolvedConfig, error) {
	mode := snap.RoutingMode
	if mode == "" {
		mode = RoutingModePath
	}

	// Fail the TLS checks before building rules: a mismatched certificate
	// must not leak partial TLS rules.
	if snap.TLS != nil && snap.TLS.Hostname != snap.ExternalHostname {
		return nil, &HostnameMismatchError{
			Configured:  snap.ExternalHostname,
			Certificate: snap.TLS.Hostname,
		}
	}

	cfg := &ResolvedConfig{Hostname: snap.ExternalHostname}

	// Requests are walked in ClientID order (the registry snapshot is
	// sorted); claimedBy detects cross-client collisions on the route key.
	claimedBy := make(map[string]string)

	sorted := make([]registry.RouteRequest, len(snap.Requests))
	copy(sorted, snap.Requests)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ClientID < sorted[j].ClientID })

	for _, req := range sorted {
		if req.Invalid != "" {
			cfg.Warnings = append(cfg.Warnings, ClientWarning{ClientID: req.ClientID, Reason: req.Invalid})
			continue
		}
		if len(req.Backends) == 0 {
			cfg.Waiting = append(cfg.Waiting, req.ClientID)
			continue
		}

		rules, err := buildRules(req, snap.ExternalHostname, mode)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, ClientWarning{ClientID: req.ClientID, Reason: err.Error()})
			continue
		}
		for _, rule := range rules {
			key := routeKey(rule)
			if owner, ok := claimedBy[key]; ok && owner != rule.ClientID {
				ids := []string{owner, rule.ClientID}
				sort.Strings(ids)
				return nil, &ConflictError{RouteKey: key, ClientIDs: ids}
			}
			claimedBy[key] = rule.ClientID
			cfg.Rules = append(cfg.Rules, rule)
		}
	}

	sort.Slice(cfg.Rules, func(i, j int) bool { return cfg.Rules[i].ID < cfg.Rules[j].ID })

	if snap.TLS != nil {
		cfg.TLS = &TLSBinding{
			Hostname:      snap.TLS.Hostname,
			CertPath:      r.certPath,
			KeyPath:       r.keyPath,
			CAFingerprint: snap.TLS.CAFingerprint,
		}
		cfg.RedirectToHTTPS = true
	}

	return cfg, nil
}

func buildRules(req registry.RouteRequest, hostname string, mode RoutingMode) ([]Rule, error) {
	// Prefixes and paths land inside rule expressions; re-check the charset
	// here so an entry that bypassed the parser still only hurts its owner.
	if err := validate.RoutePrefix(req.Prefix); err != nil {
		return nil, err
	}

	switch req.Mode {
	case registry.ModePerApp:
		backends := make([]string, len(req.Backends))
		copy(backends, req.Backends)
		sort.Strings(backends)
		return []Rule{newRule(req.Prefix, req.ClientID, hostname, mode, backends)}, nil

	case registry.ModePerUnit:
		// One rule per unit, namespaced by announce-order index so routes
		// stay disjoint.
		rules := make([]Rule, 0, len(req.Backends))
		for i, addr := range req.Backends {
			id := fmt.Sprintf("%s-%d", req.Prefix, i)
			rules = append(rules, newRule(id, req.ClientID, hostname, mode, []string{addr}))
		}
		return rules, nil

	case registry.ModeRoute:
		// Raw pass-through: the client picked its own path, the proxy does
		// not strip it. Always host-rooted, even in subdomain mode.
		if err := validate.RoutePath(req.Path); err != nil {
			return nil, err
		}
		backends := make([]string, len(req.Backends))
		copy(backends, req.Backends)
		sort.Strings(backends)
		return []Rule{{
			ID:         req.Prefix,
			ClientID:   req.ClientID,
			Host:       hostname,
			PathPrefix: req.Path,
			Backends:   backends,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown routing mode %q", req.Mode)
	}
}

func newRule(id, clientID, hostname string, mode RoutingMode, backends []string) Rule {
	rule := Rule{ID: id, ClientID: clientID, Backends: backends}
	switch mode {
	case RoutingModeSubdomain:
		rule.Host = id + "." + hostname
	default:
		rule.Host = hostname
		rule.PathPrefix = "/" + id
		rule.StripPrefix = true
	}
	return rule
}

func routeKey(rule Rule) string {
	return rule.Host + rule.PathPrefix
}
