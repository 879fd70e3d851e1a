package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"repo-advisor/internal/apperr"
)

func TestDirSource_Fetch(t *testing.T) {
	src := t.TempDir()
	for name, content := range map[string]string{
		"README.md":     "# Tool",
		"docs/usage.md": "Run it.",
		"secret.env":    "TOKEN=1",
	} {
		path := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	dst := t.TempDir()
	s := NewDirSource([]string{"README.md", "docs/usage.md", "main.py"})
	if err := s.Fetch(context.Background(), src, dst); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	for name, want := range map[string]string{"README.md": "# Tool", "docs/usage.md": "Run it."} {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("%s not copied: %v", name, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, "secret.env")); !errors.Is(err, os.ErrNotExist) {
		t.Error("Fetch() copied a file outside the list")
	}
}

func TestDirSource_Errors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "README.md")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		files   []string
		locator string
		wantErr error
	}{
		{name: "missing directory", locator: filepath.Join(t.TempDir(), "missing"), wantErr: apperr.ErrAcquisition},
		{name: "locator is a file", locator: file, wantErr: apperr.ErrAcquisition},
		{name: "escaping name", files: []string{"../x"}, locator: t.TempDir(), wantErr: apperr.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDirSource(tt.files).Fetch(context.Background(), tt.locator, t.TempDir())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDirSource_WithManager(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "README.md"), []byte("# Local"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(Config{BaseDir: t.TempDir()}, NewDirSource(nil))
	ctx := context.Background()
	ws, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer m.Release(ctx, ws)

	docs, err := m.Materialize(ctx, ws, src)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "README.md" || docs[0].Text != "# Local" {
		t.Errorf("Materialize() = %+v", docs)
	}
}
