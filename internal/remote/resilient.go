package remote

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lucasew/artifactquota/internal/artifact"
)

const (
	DefaultMaxRetries = 5
	DefaultPageSize   = 50
)

// Options configures a Resilient client.
type Options struct {
	// MaxRetries bounds the number of retries per call, throttled or not.
	MaxRetries int
	// RetriesEnabled controls whether a rate-limited call is retried after
	// the server-suggested delay. When false the call fails immediately.
	RetriesEnabled bool
	// PageSize is the page size used by Runs.
	PageSize int
	// OnRetry, if set, observes every retry decision.
	OnRetry func(RetryEvent)
	// Timer replaces the wall clock between attempts. Mostly for tests.
	Timer backoff.Timer
	// InitialInterval is the first exponential backoff step for transient
	// failures that carry no server hint.
	InitialInterval time.Duration
}

// DefaultOptions returns the defaults: 5 retries, retries on throttling
// enabled, pages of 50.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      DefaultMaxRetries,
		RetriesEnabled:  true,
		PageSize:        DefaultPageSize,
		InitialInterval: 500 * time.Millisecond,
	}
}

// RetryEvent describes a single retry decision.
type RetryEvent struct {
	Op          string
	Attempt     int
	Wait        time.Duration
	RateLimited bool
	Err         error
}

// Resilient decorates a Client with retries on transient failures and
// cooperative backoff on rate limiting. It implements Client itself so it
// can be substituted anywhere the raw client is used.
type Resilient struct {
	inner Client
	opts  Options
}

func NewResilient(inner Client, opts Options) *Resilient {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	return &Resilient{inner: inner, opts: opts}
}

func (r *Resilient) ListRuns(ctx context.Context, ns artifact.Namespace, cursor string, pageSize int) (Page[artifact.Run], error) {
	var page Page[artifact.Run]
	err := r.call(ctx, "list-runs", func() error {
		var err error
		page, err = r.inner.ListRuns(ctx, ns, cursor, pageSize)
		return err
	})
	return page, err
}

func (r *Resilient) ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error) {
	var artifacts []artifact.Artifact
	err := r.call(ctx, "list-artifacts", func() error {
		var err error
		artifacts, err = r.inner.ListArtifacts(ctx, scope)
		return err
	})
	return artifacts, err
}

func (r *Resilient) DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error {
	return r.call(ctx, "delete-artifact", func() error {
		return r.inner.DeleteArtifact(ctx, name, scope)
	})
}

// Runs enumerates every run of the namespace, fetching pages lazily and
// advancing the cursor until the backend reports no further page. A failed
// page fetch is yielded once as an error and ends the sequence.
func (r *Resilient) Runs(ctx context.Context, ns artifact.Namespace) iter.Seq2[artifact.Run, error] {
	return func(yield func(artifact.Run, error) bool) {
		cursor := ""
		for {
			page, err := r.ListRuns(ctx, ns, cursor, r.opts.PageSize)
			if err != nil {
				yield(artifact.Run{}, err)
				return
			}
			for _, run := range page.Items {
				if !yield(run, nil) {
					return
				}
			}
			if page.Next == "" || page.Next == cursor {
				return
			}
			cursor = page.Next
		}
	}
}

// hintedBackOff uses the server-suggested delay for the next wait when one
// is pending, and falls back to exponential backoff otherwise.
type hintedBackOff struct {
	exp  *backoff.ExponentialBackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	if b.hint > 0 {
		d := b.hint
		b.hint = 0
		// Keep the exponential schedule moving so a later unhinted
		// failure does not restart from the initial interval.
		b.exp.NextBackOff()
		return d
	}
	return b.exp.NextBackOff()
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
	b.exp.Reset()
}

func (r *Resilient) call(ctx context.Context, op string, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.opts.InitialInterval
	exp.MaxElapsedTime = 0
	policy := &hintedBackOff{exp: exp}

	attempt := 0
	var lastRateLimited bool
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		var rl *RateLimitError
		lastRateLimited = errors.As(err, &rl)
		if lastRateLimited {
			if !r.opts.RetriesEnabled {
				slog.Warn("Rate limited, retries disabled", "op", op, "error", err)
				return backoff.Permanent(err)
			}
			policy.hint = rl.RetryAfter
			return err
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		ev := RetryEvent{
			Op:          op,
			Attempt:     attempt,
			Wait:        wait,
			RateLimited: lastRateLimited,
			Err:         err,
		}
		if ev.RateLimited {
			slog.Warn("Rate limited, backing off", "op", op, "attempt", attempt, "wait", wait, "error", err)
		} else {
			slog.Warn("Transient failure, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
		}
		if r.opts.OnRetry != nil {
			r.opts.OnRetry(ev)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.MaxRetries)), ctx)
	return backoff.RetryNotifyWithTimer(operation, b, notify, r.opts.Timer)
}
