package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/eviction"
)

func TestDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	ctx := t.Context()
	ns := artifact.Namespace{Owner: "octo", Repo: "hello"}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	report := &eviction.Report{
		Quota:   eviction.Quota{Limit: 1000, Pending: 300, Existing: 800},
		Deficit: 100,
		Deleted: []artifact.Artifact{
			{ID: "1", Name: "logs", Size: 400, RunID: "10", WorkflowID: "7", CreatedAt: created},
		},
		DeletedSize: 400,
	}

	first := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := db.Record(ctx, ns, first, report, false, nil); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	failed := &eviction.Report{Quota: report.Quota, Deficit: 100}
	if _, err := db.Record(ctx, ns, first.Add(time.Hour), failed, true, errors.New("boom")); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	other := artifact.Namespace{Owner: "other", Repo: "repo"}
	if _, err := db.Record(ctx, other, first, failed, false, nil); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	entries, err := db.Recent(ctx, ns.String(), 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for %s, got %d", ns, len(entries))
	}

	latest := entries[0]
	if !latest.DryRun || latest.Error != "boom" || len(latest.Evicted) != 0 {
		t.Errorf("unexpected latest entry: %+v", latest)
	}

	e := entries[1]
	if e.Headroom != 600 || e.DeletedSize != 400 || e.Limit != 1000 || e.Deficit != 100 {
		t.Errorf("unexpected quota columns: %+v", e)
	}
	if !e.RecordedAt.Equal(first) {
		t.Errorf("expected recorded_at %s, got %s", first, e.RecordedAt)
	}
	if len(e.Evicted) != 1 || e.Evicted[0].Name != "logs" || !e.Evicted[0].CreatedAt.Equal(created) {
		t.Errorf("unexpected evictions: %+v", e.Evicted)
	}

	all, err := db.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entries overall, got %d", len(all))
	}

	// Reopening must not re-run migrations destructively.
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	db, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	again, err := db.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(again) != 3 {
		t.Errorf("expected 3 entries after reopen, got %d", len(again))
	}
}
