// Package inventory collects the current artifact inventory of a namespace.
package inventory

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/lucasew/artifactquota/internal/artifact"
)

// Source is what the collector needs from the remote side: a lazy run
// enumeration and a per-run artifact listing. *remote.Resilient satisfies it.
type Source interface {
	Runs(ctx context.Context, ns artifact.Namespace) iter.Seq2[artifact.Run, error]
	ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error)
}

// RunFailure records a run whose artifacts could not be listed.
type RunFailure struct {
	Run artifact.Run
	Err error
}

// Inventory is the flattened artifact list of a namespace, in run order and
// then listing order within each run.
type Inventory struct {
	Artifacts []artifact.Artifact
	Failures  []RunFailure
	Runs      int
}

// TotalSize is the size of every collected artifact, named or not.
func (inv *Inventory) TotalSize() int64 {
	return artifact.TotalSize(inv.Artifacts)
}

type Collector struct {
	source Source
}

func NewCollector(source Source) *Collector {
	return &Collector{source: source}
}

// Collect enumerates every run of ns and lists its artifacts.
//
// A run whose listing fails is left out and recorded in Failures; only a
// failure to enumerate the runs themselves aborts the collection.
func (c *Collector) Collect(ctx context.Context, ns artifact.Namespace) (*Inventory, error) {
	inv := &Inventory{}

	for run, err := range c.source.Runs(ctx, ns) {
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate runs of %s: %w", ns, err)
		}
		inv.Runs++

		listed, err := c.source.ListArtifacts(ctx, artifact.Scope{Namespace: ns, RunID: run.ID})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Failed to list artifacts, skipping run", "run_id", run.ID, "run", run.Name, "error", err)
			inv.Failures = append(inv.Failures, RunFailure{Run: run, Err: err})
			continue
		}

		for _, a := range listed {
			a.RunID = run.ID
			a.WorkflowID = run.WorkflowID
			inv.Artifacts = append(inv.Artifacts, a)
		}
		slog.Debug("Listed run artifacts", "run_id", run.ID, "count", len(listed))
	}

	slog.Info("Collected inventory", "namespace", ns.String(), "runs", inv.Runs, "artifacts", len(inv.Artifacts), "failed_runs", len(inv.Failures))
	return inv, nil
}
