package eviction

import "github.com/lucasew/artifactquota/internal/artifact"

// Report is the outcome of executing a plan.
type Report struct {
	Quota   Quota
	Deficit int64
	// Deleted holds the artifacts whose deletion succeeded, in order.
	Deleted []artifact.Artifact
	// Skipped holds unnamed victims that could not be deleted.
	Skipped []artifact.Artifact
	// DeletedSize is the running total compared against Deficit.
	DeletedSize int64
}

// Freed is the size actually reclaimed by successful deletes.
func (r *Report) Freed() int64 {
	return artifact.TotalSize(r.Deleted)
}

// Headroom is the space left for the pending upload after eviction.
func (r *Report) Headroom() int64 {
	return r.Quota.Headroom(r.DeletedSize)
}

// Satisfied reports whether enough space was freed.
func (r *Report) Satisfied() bool {
	return r.DeletedSize >= r.Deficit
}

// RunGroup is the set of deleted artifacts belonging to one run.
type RunGroup struct {
	RunID      string
	WorkflowID string
	Artifacts  []artifact.Artifact
	Size       int64
}

// ByRun groups the deleted artifacts by owning run, in order of first
// deletion. It is for summaries only.
func (r *Report) ByRun() []RunGroup {
	var groups []RunGroup
	index := make(map[string]int)
	for _, a := range r.Deleted {
		i, ok := index[a.RunID]
		if !ok {
			i = len(groups)
			index[a.RunID] = i
			groups = append(groups, RunGroup{RunID: a.RunID, WorkflowID: a.WorkflowID})
		}
		groups[i].Artifacts = append(groups[i].Artifacts, a)
		groups[i].Size += a.Size
	}
	return groups
}
