// Package age orders artifacts by creation time.
package age

import (
	"cmp"
	"slices"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/eviction"
)

// Strategy implements eviction.Strategy by sorting on CreatedAt. Missing
// timestamps count as the epoch. Ties keep their inventory order.
type Strategy struct {
	newestFirst bool
}

func init() {
	eviction.Register("oldest", func() eviction.Strategy {
		return Oldest()
	})
	eviction.Register("newest", func() eviction.Strategy {
		return Newest()
	})
}

// Oldest evicts the oldest artifacts first.
func Oldest() *Strategy {
	return &Strategy{}
}

// Newest evicts the newest artifacts first.
func Newest() *Strategy {
	return &Strategy{newestFirst: true}
}

func (s *Strategy) Order(artifacts []artifact.Artifact) []artifact.Artifact {
	out := slices.Clone(artifacts)
	slices.SortStableFunc(out, func(a, b artifact.Artifact) int {
		c := cmp.Compare(a.CreatedAtMillis(), b.CreatedAtMillis())
		if s.newestFirst {
			return -c
		}
		return c
	})
	return out
}
