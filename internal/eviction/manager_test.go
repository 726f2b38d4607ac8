package eviction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/eviction"
	"github.com/lucasew/artifactquota/internal/eviction/age"
)

type deleteCall struct {
	name  string
	scope artifact.Scope
}

type fakeStore struct {
	calls  []deleteCall
	failOn string
}

func (s *fakeStore) DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error {
	if name == s.failOn {
		return errors.New("boom")
	}
	s.calls = append(s.calls, deleteCall{name: name, scope: scope})
	return nil
}

var (
	ns = artifact.Namespace{Owner: "octo", Repo: "hello"}
	t1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
)

func TestManager_ScenarioOldest(t *testing.T) {
	inventory := []artifact.Artifact{
		{Name: "newer", Size: 400, CreatedAt: t2, RunID: "2"},
		{Name: "older", Size: 400, CreatedAt: t1, RunID: "1"},
	}
	q := eviction.Quota{Limit: 1000, Pending: 300, Existing: artifact.TotalSize(inventory)}
	plan := eviction.NewPlan(q, inventory, age.Oldest())
	if plan.Deficit != 100 {
		t.Fatalf("expected deficit 100, got %d", plan.Deficit)
	}

	store := &fakeStore{}
	report, err := eviction.NewManager(store, ns).Execute(t.Context(), plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(store.calls) != 1 || store.calls[0].name != "older" {
		t.Fatalf("expected only 'older' deleted, got %+v", store.calls)
	}
	if store.calls[0].scope != (artifact.Scope{Namespace: ns, RunID: "1"}) {
		t.Errorf("delete not scoped to owning run: %+v", store.calls[0].scope)
	}
	if report.DeletedSize != 400 || report.Freed() != 400 {
		t.Errorf("expected 400 freed, got %d/%d", report.DeletedSize, report.Freed())
	}
	if !report.Satisfied() {
		t.Error("expected report to be satisfied")
	}
	if got, want := report.Headroom(), int64(1000-800+400); got != want {
		t.Errorf("expected headroom %d, got %d", want, got)
	}
	if report.Headroom() != q.Limit-(q.Existing-report.Freed()) {
		t.Error("headroom identity does not hold")
	}
}

func TestManager_ScenarioNewest(t *testing.T) {
	inventory := []artifact.Artifact{
		{Name: "first", Size: 100, CreatedAt: t1, RunID: "1"},
		{Name: "second", Size: 100, CreatedAt: t2, RunID: "2"},
	}
	q := eviction.Quota{Limit: 250, Pending: 200, Existing: 200}
	plan := eviction.NewPlan(q, inventory, age.Newest())
	if plan.Deficit != 150 {
		t.Fatalf("expected deficit 150, got %d", plan.Deficit)
	}
	q.Pending = 100
	plan = eviction.NewPlan(q, inventory, age.Newest())
	if plan.Deficit != 50 {
		t.Fatalf("expected deficit 50, got %d", plan.Deficit)
	}

	store := &fakeStore{}
	if _, err := eviction.NewManager(store, ns).Execute(t.Context(), plan); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(store.calls) != 1 || store.calls[0].name != "second" {
		t.Errorf("expected newest artifact deleted, got %+v", store.calls)
	}
}

func TestManager_NoDeficitNoDeletes(t *testing.T) {
	inventory := []artifact.Artifact{{Name: "a", Size: 10, CreatedAt: t1}}
	for _, pending := range []int64{0, 50, 90} {
		q := eviction.Quota{Limit: 100, Pending: pending, Existing: 10}
		plan := eviction.NewPlan(q, inventory, age.Oldest())
		if !plan.Empty() || len(plan.Victims) != 0 {
			t.Errorf("pending %d: expected empty plan, got %+v", pending, plan)
		}

		store := &fakeStore{}
		report, err := eviction.NewManager(store, ns).Execute(t.Context(), plan)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(store.calls) != 0 || len(report.Deleted) != 0 {
			t.Errorf("pending %d: expected no deletes, got %+v", pending, store.calls)
		}
	}
}

func TestManager_OvershootBoundedByOneVictim(t *testing.T) {
	sizes := []int64{30, 70, 10, 500, 20, 45}
	var inventory []artifact.Artifact
	for i, s := range sizes {
		inventory = append(inventory, artifact.Artifact{
			Name:      string(rune('a' + i)),
			Size:      s,
			CreatedAt: t1.Add(time.Duration(i) * time.Minute),
		})
	}
	existing := artifact.TotalSize(inventory)

	for limit := int64(0); limit <= existing; limit += 17 {
		q := eviction.Quota{Limit: limit + 1, Pending: 0, Existing: existing}
		plan := eviction.NewPlan(q, inventory, age.Oldest())
		report, err := eviction.NewManager(&fakeStore{}, ns).Execute(t.Context(), plan)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if plan.Deficit <= 0 {
			continue
		}
		if !report.Satisfied() {
			t.Fatalf("limit %d: deficit %d not satisfied", q.Limit, plan.Deficit)
		}
		last := report.Deleted[len(report.Deleted)-1]
		if report.DeletedSize-plan.Deficit >= last.Size {
			t.Errorf("limit %d: overshoot %d exceeds last victim %d", q.Limit, report.DeletedSize-plan.Deficit, last.Size)
		}
	}
}

func TestManager_UnnamedArtifacts(t *testing.T) {
	inventory := []artifact.Artifact{
		{Name: "", ID: "ghost", Size: 100, CreatedAt: t1},
		{Name: "real", Size: 100, CreatedAt: t2},
	}
	q := eviction.Quota{Limit: 200, Pending: 50, Existing: 200}

	t.Run("counted", func(t *testing.T) {
		store := &fakeStore{}
		report, err := eviction.NewManager(store, ns).Execute(t.Context(), eviction.NewPlan(q, inventory, age.Oldest()))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(store.calls) != 0 {
			t.Errorf("expected no delete calls, got %+v", store.calls)
		}
		if len(report.Skipped) != 1 || report.DeletedSize != 100 || report.Freed() != 0 {
			t.Errorf("unexpected report: %+v", report)
		}
	})

	t.Run("not counted", func(t *testing.T) {
		store := &fakeStore{}
		mgr := eviction.NewManager(store, ns)
		mgr.CountUnnamed = false
		report, err := mgr.Execute(t.Context(), eviction.NewPlan(q, inventory, age.Oldest()))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(store.calls) != 1 || store.calls[0].name != "real" {
			t.Errorf("expected 'real' deleted, got %+v", store.calls)
		}
		if report.DeletedSize != 100 || report.Freed() != 100 {
			t.Errorf("unexpected report: %+v", report)
		}
	})
}

func TestManager_DeleteFailureAborts(t *testing.T) {
	inventory := []artifact.Artifact{
		{Name: "a", Size: 10, CreatedAt: t1, RunID: "1"},
		{Name: "b", Size: 10, CreatedAt: t2, RunID: "1"},
		{Name: "c", Size: 10, CreatedAt: t3, RunID: "2"},
	}
	q := eviction.Quota{Limit: 30, Pending: 30, Existing: 30}
	store := &fakeStore{failOn: "b"}

	report, err := eviction.NewManager(store, ns).Execute(t.Context(), eviction.NewPlan(q, inventory, age.Oldest()))
	if !errors.Is(err, eviction.ErrDeleteFailed) {
		t.Fatalf("expected ErrDeleteFailed, got %v", err)
	}
	if len(report.Deleted) != 1 || report.DeletedSize != 10 {
		t.Errorf("expected partial report with only 'a', got %+v", report)
	}
	if len(store.calls) != 1 {
		t.Errorf("expected no deletes after the failure, got %+v", store.calls)
	}
}

func TestManager_ExhaustedInventory(t *testing.T) {
	inventory := []artifact.Artifact{{Name: "a", Size: 10, CreatedAt: t1}}
	q := eviction.Quota{Limit: 100, Pending: 100, Existing: 10}

	report, err := eviction.NewManager(&fakeStore{}, ns).Execute(t.Context(), eviction.NewPlan(q, inventory, age.Oldest()))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Satisfied() || len(report.Deleted) != 1 {
		t.Errorf("expected unsatisfied report after deleting everything, got %+v", report)
	}
}

func TestManager_DryRunAndHooks(t *testing.T) {
	inventory := []artifact.Artifact{
		{Name: "a", Size: 10, CreatedAt: t1, RunID: "1", WorkflowID: "w"},
		{Name: "b", Size: 10, CreatedAt: t2, RunID: "2", WorkflowID: "w"},
		{Name: "c", Size: 10, CreatedAt: t3, RunID: "1", WorkflowID: "w"},
	}
	q := eviction.Quota{Limit: 30, Pending: 30, Existing: 30}
	store := &fakeStore{}
	mgr := eviction.NewManager(store, ns)
	mgr.DryRun = true
	var seen []string
	mgr.OnEvict = func(a artifact.Artifact) { seen = append(seen, a.Name) }

	report, err := mgr.Execute(t.Context(), eviction.NewPlan(q, inventory, age.Oldest()))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("dry run must not delete, got %+v", store.calls)
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 evictions observed, got %v", seen)
	}

	groups := report.ByRun()
	if len(groups) != 2 || groups[0].RunID != "1" || len(groups[0].Artifacts) != 2 || groups[0].Size != 20 {
		t.Errorf("unexpected grouping: %+v", groups)
	}
	if groups[1].RunID != "2" || groups[1].Size != 10 {
		t.Errorf("unexpected grouping: %+v", groups)
	}
}
