package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
)

// DirSource copies files from a local checkout. Only the listed relative paths are
// copied; the source tree is never walked.
type DirSource struct {
	files []string
}

// NewDirSource creates a source that copies files (DefaultAllowedFiles when empty).
func NewDirSource(files []string) *DirSource {
	if len(files) == 0 {
		files = DefaultAllowedFiles
	}
	return &DirSource{files: files}
}

// Fetch copies the listed files that exist under locator into dir.
func (s *DirSource) Fetch(ctx context.Context, locator, dir string) error {
	info, err := os.Stat(locator)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", apperr.ErrAcquisition, locator, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", apperr.ErrAcquisition, locator)
	}

	copied := 0
	for _, name := range s.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := cleanRel(name)
		if err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
		}
		src := filepath.Join(locator, rel)
		dst := filepath.Join(dir, rel)

		ok, err := copyFile(src, dst)
		if err != nil {
			return fmt.Errorf("%w: failed to copy %s: %w", apperr.ErrAcquisition, name, err)
		}
		if ok {
			copied++
		}
	}

	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "directory copied", "dir", locator, "files", copied)
	return nil
}

// copyFile copies a regular file. ok is false when src does not exist.
func copyFile(src, dst string) (bool, error) {
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, err
	}
	return true, out.Close()
}
