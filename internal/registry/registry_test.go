package registry

import (
	"testing"
)

func TestGenerationCounter(t *testing.T) {
	s := New()
	if g := s.Generation(); g != 0 {
		t.Fatalf("expected generation 0, got %d", g)
	}

	s.Upsert(RouteRequest{ClientID: "alertmanager", Mode: ModePerApp})
	if g := s.Generation(); g != 1 {
		t.Fatalf("expected generation 1, got %d", g)
	}

	s.Upsert(RouteRequest{ClientID: "prometheus", Mode: ModePerUnit})
	if g := s.Generation(); g != 2 {
		t.Fatalf("expected generation 2, got %d", g)
	}

	s.Remove("alertmanager")
	if g := s.Generation(); g != 3 {
		t.Fatalf("expected generation 3, got %d", g)
	}
}

func TestRemoveAbsentStillBumpsGeneration(t *testing.T) {
	s := New()
	s.Remove("never-seen")
	if g := s.Generation(); g != 1 {
		t.Fatalf("expected generation 1 after removing absent entry, got %d", g)
	}
}

func TestUpsertReplacesWholesale(t *testing.T) {
	s := New()
	s.Upsert(RouteRequest{
		ClientID: "prometheus",
		Mode:     ModePerUnit,
		Prefix:   "prom",
		Backends: []string{"10.0.0.1:9090", "10.0.0.2:9090"},
	})
	s.Upsert(RouteRequest{
		ClientID: "prometheus",
		Mode:     ModePerApp,
		Backends: []string{"10.0.0.3:9090"},
	})

	got, ok := s.Get("prometheus")
	if !ok {
		t.Fatal("expected entry for prometheus")
	}
	if got.Mode != ModePerApp {
		t.Errorf("expected mode %q, got %q", ModePerApp, got.Mode)
	}
	// The old prefix must not survive the replace.
	if got.Prefix != "" {
		t.Errorf("expected empty prefix after replace, got %q", got.Prefix)
	}
	if len(got.Backends) != 1 || got.Backends[0] != "10.0.0.3:9090" {
		t.Errorf("unexpected backends after replace: %v", got.Backends)
	}
}

func TestSnapshotSortedByClientID(t *testing.T) {
	s := New()
	s.Upsert(RouteRequest{ClientID: "zebra"})
	s.Upsert(RouteRequest{ClientID: "alpha"})
	s.Upsert(RouteRequest{ClientID: "mid"})

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	want := []string{"alpha", "mid", "zebra"}
	for i, id := range want {
		if snap[i].ClientID != id {
			t.Errorf("entry %d: expected %q, got %q", i, id, snap[i].ClientID)
		}
	}
}

func TestAllIsRestartable(t *testing.T) {
	s := New()
	s.Upsert(RouteRequest{ClientID: "a"})
	s.Upsert(RouteRequest{ClientID: "b"})

	seq := s.All()
	for range 2 {
		var ids []string
		for req := range seq {
			ids = append(ids, req.ClientID)
		}
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Fatalf("unexpected iteration order: %v", ids)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Upsert(RouteRequest{ClientID: "a", Backends: []string{"10.0.0.1:80"}})

	snap := s.Snapshot()
	snap[0].Backends[0] = "mutated"

	got, _ := s.Get("a")
	if got.Backends[0] != "10.0.0.1:80" {
		t.Error("snapshot mutation leaked into the registry")
	}
}
