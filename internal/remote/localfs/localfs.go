// Package localfs implements remote.Client over a directory tree laid out as
// {root}/{owner}/{repo}/{run}/{artifact}. An artifact is a file or a
// directory; its size is the sum of the regular files below it.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/remote"
	"golang.org/x/sync/errgroup"
)

// sizeWorkers bounds how many artifact trees are walked at once.
const sizeWorkers = 4

type Store struct {
	Root string
}

func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) namespacePath(ns artifact.Namespace) string {
	return filepath.Join(s.Root, ns.Owner, filepath.FromSlash(ns.Repo))
}

func (s *Store) runPath(scope artifact.Scope) (string, error) {
	if !validName(scope.RunID) {
		return "", remote.Permanent(fmt.Errorf("invalid run id %q", scope.RunID))
	}
	return filepath.Join(s.namespacePath(scope.Namespace), scope.RunID), nil
}

// validName rejects names that would escape their parent directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func (s *Store) ListRuns(ctx context.Context, ns artifact.Namespace, cursor string, pageSize int) (remote.Page[artifact.Run], error) {
	var page remote.Page[artifact.Run]

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return page, remote.Permanent(fmt.Errorf("invalid cursor %q", cursor))
		}
		offset = n
	}

	entries, err := os.ReadDir(s.namespacePath(ns))
	if errors.Is(err, fs.ErrNotExist) {
		return page, nil
	}
	if err != nil {
		return page, fmt.Errorf("failed to list runs in %s: %w", ns, err)
	}

	// ReadDir returns entries sorted by name, which keeps cursors stable.
	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	if offset >= len(runs) {
		return page, nil
	}
	end := min(offset+pageSize, len(runs))
	for _, id := range runs[offset:end] {
		page.Items = append(page.Items, artifact.Run{ID: id, Name: id})
	}
	if end < len(runs) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (s *Store) ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error) {
	dir, err := s.runPath(scope)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts of run %s: %w", scope.RunID, err)
	}

	artifacts := make([]artifact.Artifact, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sizeWorkers)
	for i, e := range entries {
		g.Go(func() error {
			info, err := e.Info()
			if err != nil {
				return err
			}
			size := info.Size()
			if e.IsDir() {
				if size, err = treeSize(gctx, filepath.Join(dir, e.Name())); err != nil {
					return err
				}
			}
			artifacts[i] = artifact.Artifact{
				ID:        scope.RunID + "/" + e.Name(),
				Name:      e.Name(),
				Size:      size,
				CreatedAt: info.ModTime(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to size artifacts of run %s: %w", scope.RunID, err)
	}
	return artifacts, nil
}

func treeSize(ctx context.Context, root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (s *Store) DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error {
	if !validName(name) {
		return remote.Permanent(fmt.Errorf("invalid artifact name %q", name))
	}
	dir, err := s.runPath(scope)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Artifact already gone", "run_id", scope.RunID, "name", name)
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
