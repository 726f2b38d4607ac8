package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/eviction"
	"github.com/lucasew/artifactquota/internal/remote"
	"github.com/lucasew/artifactquota/internal/remote/github"
	"github.com/lucasew/artifactquota/internal/sizing"
	"github.com/shogo82148/go-sfv"
)

var (
	// ErrInvalidLimit is returned when the limit is missing or not positive.
	ErrInvalidLimit = errors.New("limit must be a positive size")

	// ErrMissingSizeSource is returned when neither a size nor paths are given.
	ErrMissingSizeSource = errors.New("either request size, fixed reserved size or upload paths must be provided")

	// ErrInvalidDirection is returned for an unknown remove direction.
	ErrInvalidDirection = errors.New("invalid remove direction")

	// ErrMissingCredentials is returned when the backend needs a token and none is set.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidNamespace is returned when the namespace cannot be parsed.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrInvalidPageSize is returned for a page size the backend cannot serve.
	ErrInvalidPageSize = errors.New("invalid page size")

	// ErrExceedsLimit is returned when the pending upload alone is larger than the limit.
	ErrExceedsLimit = errors.New("total size of artifacts to upload exceeds the limit")
)

const (
	BackendGitHub = "github"
	BackendS3     = "s3"
	BackendLocal  = "local"
)

type Config struct {
	Backend    string
	Namespace  artifact.Namespace
	Token      string
	APIURL     string
	S3Region   string
	S3Endpoint string
	CACertFile string
	LocalRoot  string

	Limit             int64
	RequestSize       *int64
	FixedReservedSize *int64
	UploadPaths       []string
	RemoveDirection   string
	CompressionLevel  int
	TempDir           string

	MaxRetries     int
	RetriesEnabled bool
	PageSize       int
	RetryInterval  time.Duration

	CountUnnamed bool
	DryRun       bool
	LedgerPath   string
}

// DefaultConfig returns a Config with the documented defaults applied.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendGitHub,
		MaxRetries:     remote.DefaultMaxRetries,
		RetriesEnabled: true,
		PageSize:       remote.DefaultPageSize,
		RetryInterval:  500 * time.Millisecond,
		CountUnnamed:   true,
	}
}

// Validate checks the configuration before any remote call is made.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, c.Limit)
	}
	if c.RequestSize == nil && c.FixedReservedSize == nil && len(c.UploadPaths) == 0 {
		return ErrMissingSizeSource
	}
	if _, err := eviction.GetStrategy(c.RemoveDirection); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDirection, err)
	}
	if err := sizing.ValidateLevel(c.CompressionLevel); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %d", c.MaxRetries)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidPageSize, c.PageSize)
	}

	switch c.Backend {
	case BackendGitHub:
		if c.Namespace.Owner == "" || c.Namespace.Repo == "" {
			return fmt.Errorf("%w: expected owner/repo, got %q", ErrInvalidNamespace, c.Namespace)
		}
		if c.Token == "" {
			return fmt.Errorf("%w: a GitHub token is required", ErrMissingCredentials)
		}
		if c.PageSize > github.MaxPageSize {
			return fmt.Errorf("%w: GitHub serves at most %d per page, got %d", ErrInvalidPageSize, github.MaxPageSize, c.PageSize)
		}
	case BackendS3:
		if c.Namespace.Owner == "" {
			return fmt.Errorf("%w: expected bucket[/prefix], got %q", ErrInvalidNamespace, c.Namespace)
		}
	case BackendLocal:
		if c.LocalRoot == "" {
			return fmt.Errorf("%w: the local backend needs a root directory", ErrMissingCredentials)
		}
		if c.Namespace.Owner == "" {
			return fmt.Errorf("%w: expected owner[/repo], got %q", ErrInvalidNamespace, c.Namespace)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	return nil
}

// ParseNamespace splits "owner/repo" (or "bucket/prefix/...") at the first
// slash.
func ParseNamespace(s string) (artifact.Namespace, error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if s == "" {
		return artifact.Namespace{}, fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	owner, repo, _ := strings.Cut(s, "/")
	return artifact.Namespace{Owner: owner, Repo: repo}, nil
}

// ParsePaths parses a list of pending paths. A Structured Field list
// (`"a", "b c"`) is decoded as such; anything else is read one path per
// line.
func ParsePaths(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if strings.HasPrefix(s, `"`) {
		list, err := sfv.DecodeList([]string{s})
		if err != nil {
			return nil, fmt.Errorf("failed to parse path list: %w", err)
		}
		var paths []string
		for _, item := range list {
			if p, ok := item.Value.(string); ok && p != "" {
				paths = append(paths, p)
			}
		}
		return paths, nil
	}

	var paths []string
	for _, line := range strings.Split(s, "\n") {
		if p := strings.TrimSpace(line); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
