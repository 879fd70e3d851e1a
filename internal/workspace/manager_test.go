package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/workspace/mocks"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// writeFiles returns a Fetch implementation that writes files into the workspace.
func writeFiles(files map[string]string) func(context.Context, string, string) error {
	return func(_ context.Context, _ string, dir string) error {
		for name, content := range files {
			path := filepath.Join(dir, filepath.FromSlash(name))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestManager_AcquireRelease(t *testing.T) {
	base := t.TempDir()
	m := NewManager(Config{BaseDir: filepath.Join(base, "runs")}, nil)
	ctx := context.Background()

	a, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if a.Dir == b.Dir || a.ID == b.ID {
		t.Errorf("Acquire() returned the same workspace twice: %s", a.Dir)
	}
	if !strings.HasPrefix(a.Dir, filepath.Join(base, "runs")) {
		t.Errorf("workspace %s is not under the base dir", a.Dir)
	}
	entries, err := os.ReadDir(a.Dir)
	if err != nil || len(entries) != 0 {
		t.Errorf("new workspace should be an empty directory, entries=%d err=%v", len(entries), err)
	}

	if err := m.Release(ctx, a); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(a.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("workspace still exists after Release(): %v", err)
	}
	if err := m.Release(ctx, a); err != nil {
		t.Errorf("second Release() error = %v, want nil", err)
	}
	if !a.Released() {
		t.Error("Released() = false after Release()")
	}

	if _, err := os.Stat(b.Dir); err != nil {
		t.Errorf("releasing one workspace removed another: %v", err)
	}
	_ = m.Release(ctx, b)
}

func TestManager_AcquireCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewManager(Config{BaseDir: t.TempDir()}, nil).Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestManager_Materialize(t *testing.T) {
	tests := []struct {
		name      string
		allowed   []string
		maxBytes  int64
		files     map[string]string
		wantPaths []string
	}{
		{
			name: "default allow-list in order",
			files: map[string]string{
				"requirements.txt": "requests\n",
				"README.md":        "# Tool\n",
				"main.py":          "print('hi')\n",
				"setup.py":         "setup()\n",
			},
			wantPaths: []string{"README.md", "main.py", "requirements.txt"},
		},
		{
			name:      "missing files are skipped",
			files:     map[string]string{"README.md": "# Tool\n"},
			wantPaths: []string{"README.md"},
		},
		{
			name:      "nothing present",
			files:     map[string]string{"LICENSE": "MIT"},
			wantPaths: []string{},
		},
		{
			name:      "custom allow-list with nested path",
			allowed:   []string{"docs/usage.md", "README.md"},
			files:     map[string]string{"README.md": "# Tool", "docs/usage.md": "Run it."},
			wantPaths: []string{"docs/usage.md", "README.md"},
		},
		{
			name:      "binary file skipped",
			files:     map[string]string{"README.md": "# Tool", "main.py": "abc\x00def"},
			wantPaths: []string{"README.md"},
		},
		{
			name:      "invalid UTF-8 skipped",
			files:     map[string]string{"README.md": "caf\xe9", "main.py": "pass"},
			wantPaths: []string{"main.py"},
		},
		{
			name:      "oversized file skipped",
			maxBytes:  10,
			files:     map[string]string{"README.md": "0123456789ABC", "main.py": "pass"},
			wantPaths: []string{"main.py"},
		},
		{
			name:      "escaping path skipped",
			allowed:   []string{"../outside.md", "README.md"},
			files:     map[string]string{"README.md": "# Tool"},
			wantPaths: []string{"README.md"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			source := mocks.NewMockSource(ctrl)
			source.EXPECT().
				Fetch(gomock.Any(), "https://github.com/acme/tool", gomock.Any()).
				DoAndReturn(writeFiles(tt.files))

			m := NewManager(Config{BaseDir: t.TempDir(), AllowedFiles: tt.allowed, MaxFileBytes: tt.maxBytes}, source)
			ctx := context.Background()
			ws, err := m.Acquire(ctx)
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			defer m.Release(ctx, ws)

			docs, err := m.Materialize(ctx, ws, "https://github.com/acme/tool")
			if err != nil {
				t.Fatalf("Materialize() error = %v", err)
			}

			gotPaths := make([]string, len(docs))
			for i, doc := range docs {
				gotPaths[i] = doc.Path
				if doc.Text != tt.files[doc.Path] {
					t.Errorf("doc %s text = %q, want %q", doc.Path, doc.Text, tt.files[doc.Path])
				}
				if doc.Size != len(doc.Text) {
					t.Errorf("doc %s size = %d, want %d", doc.Path, doc.Size, len(doc.Text))
				}
			}
			if strings.Join(gotPaths, ",") != strings.Join(tt.wantPaths, ",") {
				t.Errorf("Materialize() paths = %v, want %v", gotPaths, tt.wantPaths)
			}
		})
	}
}

func TestManager_MaterializeSourceError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "plain error wrapped", err: errors.New("network down"), wantErr: apperr.ErrAcquisition},
		{name: "acquisition kept", err: apperr.ErrAcquisition, wantErr: apperr.ErrAcquisition},
		{name: "invalid input kept", err: apperr.ErrInvalidInput, wantErr: apperr.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			source := mocks.NewMockSource(ctrl)
			source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(tt.err)

			m := NewManager(Config{BaseDir: t.TempDir()}, source)
			ws, err := m.Acquire(context.Background())
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			defer m.Release(context.Background(), ws)

			docs, err := m.Materialize(context.Background(), ws, "https://example.com/repo")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Materialize() error = %v, want %v", err, tt.wantErr)
			}
			if docs != nil {
				t.Errorf("Materialize() docs = %v, want nil", docs)
			}
		})
	}
}

func TestManager_MaterializeAfterRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := NewManager(Config{BaseDir: t.TempDir()}, mocks.NewMockSource(ctrl))
	ws, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	_ = m.Release(context.Background(), ws)

	if _, err := m.Materialize(context.Background(), ws, "https://example.com/repo"); !errors.Is(err, ErrReleased) {
		t.Errorf("Materialize() error = %v, want ErrReleased", err)
	}
}

func TestManager_SymlinkSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	source := mocks.NewMockSource(ctrl)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, dir string) error {
			return os.Symlink(outside, filepath.Join(dir, "README.md"))
		})

	m := NewManager(Config{BaseDir: t.TempDir()}, source)
	ws, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer m.Release(context.Background(), ws)

	docs, err := m.Materialize(context.Background(), ws, "https://example.com/repo")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Materialize() followed a symlink: %+v", docs)
	}
}

func TestManager_SymlinkedDirectory(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, dir string) error
		wantPaths []string
	}{
		{
			name: "directory pointing outside the workspace is skipped",
			setup: func(t *testing.T, dir string) error {
				outside := t.TempDir()
				if err := os.WriteFile(filepath.Join(outside, "README.md"), []byte("secret"), 0o644); err != nil {
					return err
				}
				return os.Symlink(outside, filepath.Join(dir, "docs"))
			},
			wantPaths: []string{"README.md"},
		},
		{
			name: "directory pointing inside the workspace is read",
			setup: func(t *testing.T, dir string) error {
				handbook := filepath.Join(dir, "handbook")
				if err := os.Mkdir(handbook, 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Join(handbook, "README.md"), []byte("# Handbook"), 0o644); err != nil {
					return err
				}
				return os.Symlink(handbook, filepath.Join(dir, "docs"))
			},
			wantPaths: []string{"README.md", "docs/README.md"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			source := mocks.NewMockSource(ctrl)
			source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, _ string, dir string) error {
					if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Project"), 0o644); err != nil {
						return err
					}
					return tt.setup(t, dir)
				})

			m := NewManager(Config{
				BaseDir:      t.TempDir(),
				AllowedFiles: []string{"README.md", "docs/README.md"},
			}, source)
			ws, err := m.Acquire(context.Background())
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			defer m.Release(context.Background(), ws)

			docs, err := m.Materialize(context.Background(), ws, "https://example.com/repo")
			if err != nil {
				t.Fatalf("Materialize() error = %v", err)
			}
			if len(docs) != len(tt.wantPaths) {
				t.Fatalf("Materialize() returned %d docs, want %d: %+v", len(docs), len(tt.wantPaths), docs)
			}
			for i, doc := range docs {
				if doc.Path != tt.wantPaths[i] {
					t.Errorf("docs[%d].Path = %s, want %s", i, doc.Path, tt.wantPaths[i])
				}
				if doc.Text == "secret" {
					t.Errorf("docs[%d] read content from outside the workspace", i)
				}
			}
		})
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{}, nil)
	if strings.Join(m.AllowedFiles(), ",") != "README.md,main.py,requirements.txt" {
		t.Errorf("AllowedFiles() = %v", m.AllowedFiles())
	}
	if m.maxFileBytes != DefaultMaxFileBytes {
		t.Errorf("maxFileBytes = %d, want %d", m.maxFileBytes, DefaultMaxFileBytes)
	}
}
