package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ReconcilesTotal.WithLabelValues(OutcomeApplied).Inc()
	m.PublishesTotal.Inc()
	m.Routes.Set(3)
	m.Blocked.Set(1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`ingress_reconciles_total{outcome="applied"} 1`,
		"ingress_publishes_total 1",
		"ingress_routes 3",
		"ingress_blocked 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewRegistersWithoutPanic(t *testing.T) {
	// Private registries keep two instances from colliding.
	_ = New()
	_ = New()
}
