package eviction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lucasew/artifactquota/internal/artifact"
)

// ErrDeleteFailed wraps the error of a delete that aborted an eviction.
var ErrDeleteFailed = errors.New("failed to delete artifact")

// Manager executes eviction plans against a store.
type Manager struct {
	store     Store
	namespace artifact.Namespace

	// CountUnnamed makes unnamed victims count toward the deficit even
	// though they cannot be deleted by name.
	CountUnnamed bool

	// DryRun records victims without issuing deletes.
	DryRun bool

	// OnEvict, if set, is called after every successful delete.
	OnEvict func(artifact.Artifact)
}

// NewManager creates a Manager deleting from store within ns.
func NewManager(store Store, ns artifact.Namespace) *Manager {
	return &Manager{
		store:        store,
		namespace:    ns,
		CountUnnamed: true,
	}
}

// Execute walks the plan's victims in order, deleting each through the
// store, and stops as soon as the running total covers the deficit.
//
// A failed delete aborts the walk; the partial report is returned together
// with an error wrapping ErrDeleteFailed. The failed artifact is not counted.
func (m *Manager) Execute(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{Quota: plan.Quota, Deficit: plan.Deficit}
	if plan.Deficit <= 0 {
		return report, nil
	}

	slog.Info("Preparing to delete artifacts", "required", plan.Deficit, "candidates", len(plan.Victims), "dry_run", m.DryRun)

	for i, victim := range plan.Victims {
		if victim.Name == "" {
			slog.Warn("Artifact has no name, cannot delete it", "id", victim.ID, "run_id", victim.RunID, "size", victim.Size)
			report.Skipped = append(report.Skipped, victim)
			if m.CountUnnamed {
				report.DeletedSize += victim.Size
			}
		} else {
			if !m.DryRun {
				if err := m.store.DeleteArtifact(ctx, victim.Name, victim.Scope(m.namespace)); err != nil {
					return report, fmt.Errorf("%w %q (run %s): %w", ErrDeleteFailed, victim.Name, victim.RunID, err)
				}
			}
			slog.Info("Deleted artifact", "name", victim.Name, "run_id", victim.RunID, "size", victim.Size, "dry_run", m.DryRun)
			report.Deleted = append(report.Deleted, victim)
			report.DeletedSize += victim.Size
			if m.OnEvict != nil {
				m.OnEvict(victim)
			}
		}

		if report.DeletedSize >= plan.Deficit {
			slog.Info("Freed enough space", "visited", i+1, "deleted", len(report.Deleted), "deleted_size", report.DeletedSize)
			return report, nil
		}
	}

	slog.Warn("Ran out of artifacts before freeing enough space", "deficit", plan.Deficit, "deleted_size", report.DeletedSize)
	return report, nil
}
