package workspace

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_source.go -package=mocks repo-advisor/internal/workspace Source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/document"
)

// DefaultAllowedFiles are the repository files loaded when none are configured.
var DefaultAllowedFiles = []string{"README.md", "main.py", "requirements.txt"}

// DefaultMaxFileBytes skips files larger than 1 MiB.
const DefaultMaxFileBytes = 1 << 20

// ErrReleased is returned when a released workspace is used again.
var ErrReleased = errors.New("workspace already released")

// Source populates a workspace directory from a repository locator.
type Source interface {
	Fetch(ctx context.Context, locator, dir string) error
}

// Workspace is a private directory owned by exactly one run.
type Workspace struct {
	ID  string
	Dir string

	mu       sync.Mutex
	released bool
	err      error
}

// Released reports whether the workspace has been released.
func (w *Workspace) Released() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}

// Config controls where workspaces live and which files are loaded.
type Config struct {
	BaseDir      string   // Parent directory; empty means os.TempDir()
	AllowedFiles []string // Relative paths loaded by Materialize
	MaxFileBytes int64    // Files larger than this are skipped
}

// Manager creates, fills and removes ephemeral workspaces.
type Manager struct {
	baseDir      string
	allowed      []string
	maxFileBytes int64
	source       Source
}

// NewManager creates a new workspace manager.
func NewManager(cfg Config, source Source) *Manager {
	allowed := cfg.AllowedFiles
	if len(allowed) == 0 {
		allowed = DefaultAllowedFiles
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &Manager{
		baseDir:      cfg.BaseDir,
		allowed:      allowed,
		maxFileBytes: maxBytes,
		source:       source,
	}
}

// AllowedFiles returns the relative paths Materialize loads, in order.
func (m *Manager) AllowedFiles() []string {
	return m.allowed
}

// Acquire creates a new, empty workspace directory.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.baseDir != "" {
		if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create workspace base dir: %w", apperr.ErrAcquisition, err)
		}
	}

	id := uuid.NewString()
	dir, err := os.MkdirTemp(m.baseDir, "repo-advisor-"+id[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create workspace: %w", apperr.ErrAcquisition, err)
	}

	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "workspace acquired", "workspace_id", id, "dir", dir)
	return &Workspace{ID: id, Dir: dir}, nil
}

// Materialize fetches locator into ws and loads the allow-listed files that exist.
// Missing files are skipped; oversized, binary and non-UTF-8 files are skipped with
// a warning. The result follows the allow-list order.
func (m *Manager) Materialize(ctx context.Context, ws *Workspace, locator string) ([]document.Document, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if ws.Released() {
		return nil, ErrReleased
	}

	if err := m.source.Fetch(ctx, locator, ws.Dir); err != nil {
		if errors.Is(err, apperr.ErrAcquisition) || errors.Is(err, apperr.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrAcquisition, err)
	}

	docs := make([]document.Document, 0, len(m.allowed))
	for _, name := range m.allowed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, ok, err := m.load(ws.Dir, name)
		if err != nil {
			logger.WarnContext(ctx, "skipping file", "workspace_id", ws.ID, "path", name, "reason", err.Error())
			continue
		}
		if !ok {
			logger.DebugContext(ctx, "allow-listed file not present", "workspace_id", ws.ID, "path", name)
			continue
		}
		docs = append(docs, doc)
	}

	logger.InfoContext(ctx, "workspace materialized", "workspace_id", ws.ID, "documents", len(docs))
	return docs, nil
}

// load reads one allow-listed file. ok is false when the file does not exist.
func (m *Manager) load(root, name string) (document.Document, bool, error) {
	rel, err := cleanRel(name)
	if err != nil {
		return document.Document{}, false, err
	}
	path := filepath.Join(root, rel)

	// Intermediate symlinks are followed by Lstat, so check where the path really lands.
	resolved, err := filepath.EvalSymlinks(path)
	if errors.Is(err, fs.ErrNotExist) {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, err
	}
	if err := within(root, resolved); err != nil {
		return document.Document{}, false, fmt.Errorf("path %q escapes workspace", name)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return document.Document{}, false, err
	}
	if !info.Mode().IsRegular() {
		return document.Document{}, false, fmt.Errorf("not a regular file")
	}
	if info.Size() > m.maxFileBytes {
		return document.Document{}, false, fmt.Errorf("file has %d bytes, limit is %d", info.Size(), m.maxFileBytes)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return document.Document{}, false, err
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return document.Document{}, false, fmt.Errorf("binary content")
	}
	if !utf8.Valid(content) {
		return document.Document{}, false, fmt.Errorf("invalid UTF-8")
	}
	return document.New(filepath.ToSlash(rel), string(content)), true, nil
}

// cleanRel normalizes an allow-listed name and rejects paths that leave the root.
func cleanRel(name string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", name)
	}
	return rel, nil
}

// within reports an error unless resolved lies under root once root's own symlinks are resolved.
func within(root, resolved string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s is outside %s", resolved, realRoot)
	}
	return nil
}

// Release removes the workspace directory tree. Only the first call does any work;
// later calls return its result.
func (m *Manager) Release(ctx context.Context, ws *Workspace) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.released {
		return ws.err
	}
	ws.released = true

	if err := os.RemoveAll(ws.Dir); err != nil {
		ws.err = fmt.Errorf("failed to remove workspace %s: %w", ws.Dir, err)
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "workspace release failed", "workspace_id", ws.ID, "error", err)
		return ws.err
	}
	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "workspace released", "workspace_id", ws.ID)
	return nil
}
