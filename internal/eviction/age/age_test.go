package age

import (
	"testing"
	"time"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/eviction"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixture() []artifact.Artifact {
	return []artifact.Artifact{
		{Name: "b", CreatedAt: base.Add(2 * time.Hour)},
		{Name: "unknown"},
		{Name: "a", CreatedAt: base},
		{Name: "tie-1", CreatedAt: base.Add(time.Hour)},
		{Name: "tie-2", CreatedAt: base.Add(time.Hour)},
	}
}

func names(artifacts []artifact.Artifact) []string {
	out := make([]string, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.Name
	}
	return out
}

func assertOrder(t *testing.T, got []artifact.Artifact, want ...string) {
	t.Helper()
	g := names(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

func TestOldest(t *testing.T) {
	in := fixture()
	got := Oldest().Order(in)

	assertOrder(t, got, "unknown", "a", "tie-1", "tie-2", "b")
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAtMillis() < got[i-1].CreatedAtMillis() {
			t.Errorf("timestamps decrease at %d", i)
		}
	}
	assertOrder(t, in, "b", "unknown", "a", "tie-1", "tie-2")
}

func TestNewest(t *testing.T) {
	got := Newest().Order(fixture())

	assertOrder(t, got, "b", "tie-1", "tie-2", "a", "unknown")
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAtMillis() > got[i-1].CreatedAtMillis() {
			t.Errorf("timestamps increase at %d", i)
		}
	}
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"oldest", "newest"} {
		if _, err := eviction.GetStrategy(name); err != nil {
			t.Errorf("strategy %s not registered: %v", name, err)
		}
	}
	if _, err := eviction.GetStrategy("largest"); err == nil {
		t.Error("expected unknown strategy to fail")
	}
}
