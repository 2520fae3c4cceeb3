package traefik

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"

	"github.com/wudi/ingress-operator/internal/resolver"
)

func httpConfig() *resolver.ResolvedConfig {
	return &resolver.ResolvedConfig{
		Hostname: "juju.local",
		Rules: []resolver.Rule{
			{ID: "alertmanager", ClientID: "alertmanager", Host: "juju.local",
				PathPrefix: "/alertmanager", StripPrefix: true, Backends: []string{"10.0.0.1:9093"}},
			{ID: "prometheus-0", ClientID: "prometheus", Host: "juju.local",
				PathPrefix: "/prometheus-0", StripPrefix: true, Backends: []string{"10.0.0.2:9090"}},
		},
	}
}

// decode re-parses the rendered YAML for structural assertions.
func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rendered config is not valid YAML: %v\n%s", err, data)
	}
	return doc
}

func section(t *testing.T, doc map[string]any, keys ...string) map[string]any {
	t.Helper()
	cur := doc
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			t.Fatalf("missing section %q in rendered config", strings.Join(keys, "."))
		}
		cur = next
	}
	return cur
}

func TestRenderHTTPOnly(t *testing.T) {
	out, err := Render(httpConfig())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := decode(t, out)

	routers := section(t, doc, "http", "routers")
	if len(routers) != 2 {
		t.Fatalf("expected 2 routers, got %d", len(routers))
	}

	am := routers["alertmanager"].(map[string]any)
	if am["rule"] != "Host(`juju.local`) && PathPrefix(`/alertmanager`)" {
		t.Errorf("unexpected rule: %v", am["rule"])
	}
	eps := am["entryPoints"].([]any)
	if len(eps) != 1 || eps[0] != "web" {
		t.Errorf("expected web entrypoint, got %v", eps)
	}
	if _, hasTLS := am["tls"]; hasTLS {
		t.Error("HTTP-only router must not carry a tls section")
	}

	services := section(t, doc, "http", "services")
	lb := services["alertmanager"].(map[string]any)["loadBalancer"].(map[string]any)
	servers := lb["servers"].([]any)
	if len(servers) != 1 || servers[0].(map[string]any)["url"] != "http://10.0.0.1:9093" {
		t.Errorf("unexpected servers: %v", servers)
	}

	middlewares := section(t, doc, "http", "middlewares")
	strip := middlewares["strip-alertmanager"].(map[string]any)["stripPrefix"].(map[string]any)
	prefixes := strip["prefixes"].([]any)
	if len(prefixes) != 1 || prefixes[0] != "/alertmanager" {
		t.Errorf("unexpected strip prefixes: %v", prefixes)
	}

	if _, hasTLS := doc["tls"]; hasTLS {
		t.Error("HTTP-only config must not carry a tls section")
	}
}

func TestRenderWithTLS(t *testing.T) {
	cfg := httpConfig()
	cfg.TLS = &resolver.TLSBinding{
		Hostname: "juju.local",
		CertPath: "/certs/cert.pem",
		KeyPath:  "/certs/key.pem",
	}
	cfg.RedirectToHTTPS = true

	out, err := Render(cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := decode(t, out)

	routers := section(t, doc, "http", "routers")
	if len(routers) != 3 {
		t.Fatalf("expected 2 HTTPS routers plus redirect, got %d", len(routers))
	}

	am := routers["alertmanager"].(map[string]any)
	eps := am["entryPoints"].([]any)
	if len(eps) != 1 || eps[0] != "websecure" {
		t.Errorf("expected websecure entrypoint, got %v", eps)
	}
	if _, hasTLS := am["tls"]; !hasTLS {
		t.Error("HTTPS router must carry a tls section")
	}

	redirect := routers["redirect-to-https"].(map[string]any)
	if redirect["rule"] != "Host(`juju.local`)" {
		t.Errorf("unexpected redirect rule: %v", redirect["rule"])
	}
	if redirect["service"] != "noop@internal" {
		t.Errorf("unexpected redirect service: %v", redirect["service"])
	}

	certs := section(t, doc, "tls")["certificates"].([]any)
	entry := certs[0].(map[string]any)
	if entry["certFile"] != "/certs/cert.pem" || entry["keyFile"] != "/certs/key.pem" {
		t.Errorf("unexpected certificate entry: %v", entry)
	}
}

func TestRenderDeterministic(t *testing.T) {
	cfg := httpConfig()
	first, err := Render(cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for range 5 {
		again, err := Render(cfg)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("rendering an unchanged config must be byte-identical")
		}
	}
}

func TestRenderSubdomainRule(t *testing.T) {
	cfg := &resolver.ResolvedConfig{
		Hostname: "juju.local",
		Rules: []resolver.Rule{
			{ID: "grafana", ClientID: "grafana", Host: "grafana.juju.local",
				Backends: []string{"10.0.0.3:3000"}},
		},
	}
	out, err := Render(cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := decode(t, out)
	routers := section(t, doc, "http", "routers")
	g := routers["grafana"].(map[string]any)
	if g["rule"] != "Host(`grafana.juju.local`)" {
		t.Errorf("unexpected rule: %v", g["rule"])
	}
	if _, ok := g["middlewares"]; ok {
		t.Error("subdomain routes do not strip a prefix")
	}
}

func TestRenderRouteRuleKeepsPath(t *testing.T) {
	cfg := &resolver.ResolvedConfig{
		Hostname: "juju.local",
		Rules: []resolver.Rule{
			{ID: "grafana", ClientID: "grafana", Host: "juju.local",
				PathPrefix: "/cos-grafana", Backends: []string{"10.0.0.3:3000"}},
		},
	}
	out, err := Render(cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := decode(t, out)
	routers := section(t, doc, "http", "routers")
	g := routers["grafana"].(map[string]any)
	if g["rule"] != "Host(`juju.local`) && PathPrefix(`/cos-grafana`)" {
		t.Errorf("unexpected rule: %v", g["rule"])
	}
	if _, ok := g["middlewares"]; ok {
		t.Error("pass-through routes must not strip their path")
	}
	if _, ok := doc["http"].(map[string]any)["middlewares"]; ok {
		t.Error("no middlewares section expected for pass-through-only configs")
	}
}

func TestRenderEmptyConfig(t *testing.T) {
	out, err := Render(&resolver.ResolvedConfig{Hostname: "juju.local"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := decode(t, out)
	if _, ok := doc["http"]; !ok {
		t.Error("even an empty config carries the http skeleton")
	}
}
