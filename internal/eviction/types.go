package eviction

import (
	"context"

	"github.com/lucasew/artifactquota/internal/artifact"
)

// Strategy defines the order in which artifacts are evicted.
type Strategy interface {
	// Order returns the artifacts in eviction order, first victim first.
	// The input slice is left untouched.
	Order(artifacts []artifact.Artifact) []artifact.Artifact
}

// Store is the remote side the executor deletes from.
type Store interface {
	DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error
}
