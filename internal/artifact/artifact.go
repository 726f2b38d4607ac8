// Package artifact holds the typed records shared by every stage of a
// reclamation: the runs of a namespace and the artifacts stored under them.
package artifact

import (
	"fmt"
	"time"
)

// Namespace identifies the pool of artifacts being managed.
//
// For the GitHub backend it is owner/repository; for the S3 backend it is
// bucket/prefix.
type Namespace struct {
	Owner string
	Repo  string
}

func (n Namespace) String() string {
	return fmt.Sprintf("%s/%s", n.Owner, n.Repo)
}

// Scope addresses a single run inside a namespace.
type Scope struct {
	Namespace Namespace
	RunID     string
}

// Run groups zero or more artifacts.
type Run struct {
	ID         string
	WorkflowID string
	Name       string
	Status     string
	Conclusion string
}

// Artifact is a snapshot of a stored object as it was listed.
//
// It is never used as a live handle: deletion is addressed by Name within
// the owning run's Scope.
type Artifact struct {
	ID         string
	Name       string
	Size       int64
	CreatedAt  time.Time
	RunID      string
	WorkflowID string
}

// CreatedAtMillis returns the creation time in Unix milliseconds, treating a
// missing timestamp as the epoch.
func (a Artifact) CreatedAtMillis() int64 {
	if a.CreatedAt.IsZero() {
		return 0
	}
	return a.CreatedAt.UnixMilli()
}

// Scope returns the run scope the artifact belongs to.
func (a Artifact) Scope(ns Namespace) Scope {
	return Scope{Namespace: ns, RunID: a.RunID}
}

// TotalSize sums the sizes of the given artifacts.
func TotalSize(artifacts []Artifact) int64 {
	var total int64
	for _, a := range artifacts {
		total += a.Size
	}
	return total
}
