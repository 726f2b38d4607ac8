// Package remote defines the contract every artifact backend implements and
// the resilience layer that wraps it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucasew/artifactquota/internal/artifact"
)

// Page is one page of a paginated listing. An empty Next means the listing
// is exhausted.
type Page[T any] struct {
	Items []T
	Next  string
}

// Client is the raw remote API: run enumeration plus artifact listing and
// deletion scoped to a run.
type Client interface {
	ListRuns(ctx context.Context, ns artifact.Namespace, cursor string, pageSize int) (Page[artifact.Run], error)
	ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error)
	DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error
}

// RateLimitError is returned by a backend when the remote side throttles the
// caller. RetryAfter is the delay the server asked for; zero means unknown.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// StatusError is returned when a backend answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRateLimited reports whether err carries a throttling signal.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTransient reports whether a failed call may succeed if repeated.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == 408
	}
	return true
}
