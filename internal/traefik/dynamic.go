// Package traefik renders a ResolvedConfig into Traefik's file-provider
// dynamic configuration. Output is fully ordered so identical inputs produce
// byte-identical YAML.
package traefik

import (
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/wudi/ingress-operator/internal/resolver"
)

const (
	entryPointWeb       = "web"
	entryPointWebSecure = "websecure"

	redirectRouterName     = "redirect-to-https"
	redirectMiddlewareName = "https-redirect"

	// noopService satisfies Traefik's requirement that every router names a
	// service; the redirect middleware answers before it is reached.
	noopService = "noop@internal"
)

// Render serializes the resolved config as Traefik dynamic YAML.
func Render(cfg *resolver.ResolvedConfig) ([]byte, error) {
	routers := yaml.MapSlice{}
	services := yaml.MapSlice{}
	middlewares := yaml.MapSlice{}

	// Rules arrive sorted by ID from the resolver; insertion order is
	// preserved by MapSlice.
	for _, rule := range cfg.Rules {
		router := yaml.MapSlice{
			{Key: "rule", Value: matchRule(rule)},
			{Key: "service", Value: rule.ID},
		}
		if rule.StripPrefix {
			stripName := "strip-" + rule.ID
			router = append(router, yaml.MapItem{Key: "middlewares", Value: []string{stripName}})
			middlewares = append(middlewares, yaml.MapItem{
				Key: stripName,
				Value: yaml.MapSlice{
					{Key: "stripPrefix", Value: yaml.MapSlice{
						{Key: "prefixes", Value: []string{rule.PathPrefix}},
					}},
				},
			})
		}
		if cfg.TLS != nil {
			router = append(router,
				yaml.MapItem{Key: "entryPoints", Value: []string{entryPointWebSecure}},
				yaml.MapItem{Key: "tls", Value: yaml.MapSlice{}},
			)
		} else {
			router = append(router, yaml.MapItem{Key: "entryPoints", Value: []string{entryPointWeb}})
		}
		routers = append(routers, yaml.MapItem{Key: rule.ID, Value: router})

		servers := make([]yaml.MapSlice, 0, len(rule.Backends))
		for _, addr := range rule.Backends {
			servers = append(servers, yaml.MapSlice{
				{Key: "url", Value: "http://" + addr},
			})
		}
		services = append(services, yaml.MapItem{
			Key: rule.ID,
			Value: yaml.MapSlice{
				{Key: "loadBalancer", Value: yaml.MapSlice{
					{Key: "servers", Value: servers},
				}},
			},
		})
	}

	if cfg.RedirectToHTTPS {
		routers = append(routers, yaml.MapItem{
			Key: redirectRouterName,
			Value: yaml.MapSlice{
				{Key: "rule", Value: redirectRule(cfg.Hostname)},
				{Key: "service", Value: noopService},
				{Key: "middlewares", Value: []string{redirectMiddlewareName}},
				{Key: "entryPoints", Value: []string{entryPointWeb}},
			},
		})
		middlewares = append(middlewares, yaml.MapItem{
			Key: redirectMiddlewareName,
			Value: yaml.MapSlice{
				{Key: "redirectScheme", Value: yaml.MapSlice{
					{Key: "scheme", Value: "https"},
					{Key: "permanent", Value: true},
				}},
			},
		})
	}

	http := yaml.MapSlice{{Key: "routers", Value: routers}}
	if len(middlewares) > 0 {
		http = append(http, yaml.MapItem{Key: "middlewares", Value: middlewares})
	}
	http = append(http, yaml.MapItem{Key: "services", Value: services})

	doc := yaml.MapSlice{{Key: "http", Value: http}}

	if cfg.TLS != nil {
		doc = append(doc, yaml.MapItem{
			Key: "tls",
			Value: yaml.MapSlice{
				{Key: "certificates", Value: []yaml.MapSlice{{
					{Key: "certFile", Value: cfg.TLS.CertPath},
					{Key: "keyFile", Value: cfg.TLS.KeyPath},
				}}},
			},
		})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal dynamic config: %w", err)
	}
	return out, nil
}

func matchRule(rule resolver.Rule) string {
	switch {
	case rule.Host != "" && rule.PathPrefix != "":
		return fmt.Sprintf("Host(`%s`) && PathPrefix(`%s`)", rule.Host, rule.PathPrefix)
	case rule.Host != "":
		return fmt.Sprintf("Host(`%s`)", rule.Host)
	default:
		return fmt.Sprintf("PathPrefix(`%s`)", rule.PathPrefix)
	}
}

func redirectRule(hostname string) string {
	if hostname == "" {
		return "PathPrefix(`/`)"
	}
	return fmt.Sprintf("Host(`%s`)", hostname)
}
