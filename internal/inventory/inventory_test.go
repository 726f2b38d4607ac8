package inventory

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/remote"
)

type fakeRemote struct {
	runs      []artifact.Run
	artifacts map[string][]artifact.Artifact
	failRuns  map[string]error
	calls     map[string]int
}

func (f *fakeRemote) ListRuns(ctx context.Context, ns artifact.Namespace, cursor string, pageSize int) (remote.Page[artifact.Run], error) {
	start := 0
	if cursor != "" {
		start = int(cursor[0] - '0')
	}
	end := min(start+pageSize, len(f.runs))
	page := remote.Page[artifact.Run]{Items: f.runs[start:end]}
	if end < len(f.runs) {
		page.Next = string(rune('0' + end))
	}
	return page, nil
}

func (f *fakeRemote) ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[scope.RunID]++
	if err := f.failRuns[scope.RunID]; err != nil {
		return nil, err
	}
	return f.artifacts[scope.RunID], nil
}

func (f *fakeRemote) DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error {
	return nil
}

type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Time{}
}
func (t *instantTimer) Stop() {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func resilient(f *fakeRemote) *remote.Resilient {
	opts := remote.DefaultOptions()
	opts.PageSize = 2
	opts.Timer = &instantTimer{}
	return remote.NewResilient(f, opts)
}

func TestCollect(t *testing.T) {
	f := &fakeRemote{
		runs: []artifact.Run{
			{ID: "1", WorkflowID: "w1"},
			{ID: "2", WorkflowID: "w1"},
			{ID: "3", WorkflowID: "w2"},
		},
		artifacts: map[string][]artifact.Artifact{
			"1": {{Name: "a", Size: 10}, {Name: "b", Size: 20}},
			"3": {{Name: "c", Size: 30}},
		},
	}

	inv, err := NewCollector(resilient(f)).Collect(t.Context(), artifact.Namespace{Owner: "o", Repo: "r"})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if inv.Runs != 3 {
		t.Errorf("expected 3 runs, got %d", inv.Runs)
	}
	if len(inv.Artifacts) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(inv.Artifacts))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, a := range inv.Artifacts {
		if a.Name != wantOrder[i] {
			t.Errorf("artifact %d: expected %s, got %s", i, wantOrder[i], a.Name)
		}
	}
	if inv.Artifacts[2].RunID != "3" || inv.Artifacts[2].WorkflowID != "w2" {
		t.Errorf("artifact not tagged with its run: %+v", inv.Artifacts[2])
	}
	if inv.TotalSize() != 60 {
		t.Errorf("expected total size 60, got %d", inv.TotalSize())
	}
}

func TestCollect_RunFailureIsSkipped(t *testing.T) {
	outage := &remote.StatusError{StatusCode: 503}
	f := &fakeRemote{
		runs: []artifact.Run{{ID: "1"}, {ID: "2"}, {ID: "3"}},
		artifacts: map[string][]artifact.Artifact{
			"1": {{Name: "a", Size: 10}},
			"3": {{Name: "c", Size: 30}},
		},
		failRuns: map[string]error{"2": outage},
	}

	inv, err := NewCollector(resilient(f)).Collect(t.Context(), artifact.Namespace{})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if len(inv.Artifacts) != 2 {
		t.Errorf("expected artifacts from the two healthy runs, got %d", len(inv.Artifacts))
	}
	if len(inv.Failures) != 1 || inv.Failures[0].Run.ID != "2" {
		t.Fatalf("expected failure recorded for run 2, got %+v", inv.Failures)
	}
	if !errors.Is(inv.Failures[0].Err, outage) {
		t.Errorf("unexpected failure error: %v", inv.Failures[0].Err)
	}
	if f.calls["2"] != remote.DefaultMaxRetries+1 {
		t.Errorf("expected run 2 to be retried %d times, got %d calls", remote.DefaultMaxRetries, f.calls["2"])
	}
}

type brokenSource struct{ err error }

func (b brokenSource) Runs(ctx context.Context, ns artifact.Namespace) iter.Seq2[artifact.Run, error] {
	return func(yield func(artifact.Run, error) bool) {
		yield(artifact.Run{}, b.err)
	}
}

func (b brokenSource) ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error) {
	return nil, nil
}

func TestCollect_RunEnumerationFailureIsFatal(t *testing.T) {
	denied := errors.New("denied")
	_, err := NewCollector(brokenSource{err: denied}).Collect(t.Context(), artifact.Namespace{})
	if !errors.Is(err, denied) {
		t.Errorf("expected enumeration error, got %v", err)
	}
}
