package eviction

import (
	"github.com/lucasew/artifactquota/internal/eviction/policy"
	"github.com/lucasew/artifactquota/internal/eviction/policy/maxsize"
)

// Quota is the storage budget of a reclamation.
type Quota struct {
	Limit    int64
	Pending  int64
	Existing int64
}

// Policy returns the capacity policy enforcing the limit.
func (q Quota) Policy() policy.Policy {
	return &maxsize.Policy{MaxBytes: q.Limit}
}

// Deficit is how many bytes must be freed for the pending upload to fit.
func (q Quota) Deficit() int64 {
	return q.Policy().BytesToFree(q.Pending + q.Existing)
}

// Headroom is the space available after freeing the given number of bytes.
func (q Quota) Headroom(freed int64) int64 {
	return q.Limit - q.Existing + freed
}
