package sizing

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/lucasew/artifactquota/internal/errutil"
)

// Archiver builds an archive of src at dst and returns its size in bytes.
type Archiver interface {
	Archive(ctx context.Context, src, dst string, level int) (int64, error)
}

// ZipArchiver writes zip archives. Level 0 stores entries uncompressed;
// levels 1-9 deflate them.
type ZipArchiver struct{}

func (ZipArchiver) Archive(ctx context.Context, src, dst string, level int) (int64, error) {
	if err := ValidateLevel(level); err != nil {
		return 0, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			errutil.LogMsg(f.Close(), "Failed to close archive", "path", dst)
		}
	}()

	zw := zip.NewWriter(f)
	if level > 0 {
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}

	if err := addPath(ctx, zw, src, level); err != nil {
		return 0, err
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize archive: %w", err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close archive: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return info.Size(), nil
}

func addPath(ctx context.Context, zw *zip.Writer, src string, level int) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return addFile(zw, src, filepath.Base(src), info, level)
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == src {
			return nil
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		// Follow symlinks the way an upload would.
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		switch {
		case d.IsDir():
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			_, err = zw.CreateHeader(hdr)
			return err
		case info.Mode().IsRegular():
			return addFile(zw, p, name, info, level)
		default:
			slog.Debug("Skipping non-regular file", "path", p)
			return nil
		}
	})
}

func addFile(zw *zip.Writer, p, name string, info fs.FileInfo, level int) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Store
	if level > 0 {
		hdr.Method = zip.Deflate
	}

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}

	in, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(in.Close(), "Failed to close file", "path", p)
	}()

	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
