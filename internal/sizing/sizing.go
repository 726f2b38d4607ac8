// Package sizing determines how many bytes a pending upload will occupy once
// stored.
package sizing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/artifactquota/internal/errutil"
)

var (
	// ErrInvalidCompressionLevel is returned for levels that are not an integer in 0-9.
	ErrInvalidCompressionLevel = errors.New("invalid compression level, must be an integer between 0 and 9")

	// ErrNegativeSize is returned when a declared or fixed size is negative.
	ErrNegativeSize = errors.New("size must not be negative")

	// ErrInvalidSize is returned when a human-readable size cannot be parsed.
	ErrInvalidSize = errors.New("invalid size")
)

// Mode is the way the pending size was obtained.
type Mode int

const (
	ModeDeclared Mode = iota
	ModeFixed
	ModeMeasured
)

func (m Mode) String() string {
	switch m {
	case ModeDeclared:
		return "declared"
	case ModeFixed:
		return "fixed"
	case ModeMeasured:
		return "measured"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// PathSize is the archived size of one pending path.
type PathSize struct {
	Path  string
	Bytes int64
}

type Estimate struct {
	Bytes    int64
	Mode     Mode
	Measured []PathSize
	// Missing lists pending paths that did not exist and were left out.
	Missing []string
}

// Estimator computes the pending size. The first input present wins:
// Declared, then Fixed, then measuring Paths by archiving them at Level.
type Estimator struct {
	Declared *int64
	Fixed    *int64
	Paths    []string
	Level    int

	// TempDir holds the transient archives; empty means os.TempDir.
	TempDir  string
	Archiver Archiver
}

func (e *Estimator) Estimate(ctx context.Context) (*Estimate, error) {
	switch {
	case e.Declared != nil:
		return fixedEstimate(*e.Declared, ModeDeclared)
	case e.Fixed != nil:
		return fixedEstimate(*e.Fixed, ModeFixed)
	default:
		return e.measure(ctx)
	}
}

func fixedEstimate(size int64, mode Mode) (*Estimate, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %s size %d", ErrNegativeSize, mode, size)
	}
	return &Estimate{Bytes: size, Mode: mode}, nil
}

func (e *Estimator) measure(ctx context.Context) (*Estimate, error) {
	if err := ValidateLevel(e.Level); err != nil {
		return nil, err
	}
	archiver := e.Archiver
	if archiver == nil {
		archiver = ZipArchiver{}
	}

	est := &Estimate{Mode: ModeMeasured}

	var existing []string
	for _, p := range e.Paths {
		_, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Pending path does not exist, skipping", "path", p)
			est.Missing = append(est.Missing, p)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return est, nil
	}

	dir, err := os.MkdirTemp(e.TempDir, "artifactquota-estimate-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate dir: %w", err)
	}
	defer func() {
		errutil.LogMsg(os.RemoveAll(dir), "Failed to remove estimate dir", "path", dir)
	}()

	for i, p := range existing {
		dst := filepath.Join(dir, fmt.Sprintf("%d.zip", i))
		size, err := archiver.Archive(ctx, p, dst, e.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to measure %s: %w", p, err)
		}
		errutil.LogMsg(os.Remove(dst), "Failed to remove transient archive", "path", dst)

		slog.Debug("Measured pending path", "path", p, "size", humanize.IBytes(uint64(size)))
		est.Measured = append(est.Measured, PathSize{Path: p, Bytes: size})
		est.Bytes += size
	}
	return est, nil
}

// ValidateLevel checks that level is within 0-9.
func ValidateLevel(level int) error {
	if level < 0 || level > 9 {
		return fmt.Errorf("%w: %d", ErrInvalidCompressionLevel, level)
	}
	return nil
}

// ParseLevel parses a compression level. An empty string is level 0.
func ParseLevel(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	level, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCompressionLevel, s)
	}
	if err := ValidateLevel(level); err != nil {
		return 0, err
	}
	return level, nil
}

// ParseBytes parses a human-readable size such as "512MB", "1.5GiB" or a
// plain byte count.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: %q", ErrNegativeSize, s)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidSize, s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
	}
	return int64(n), nil
}
