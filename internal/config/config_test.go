package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"LLM_PROVIDER", "LLM_BASE_URL", "LLM_MODEL", "LLM_API_KEY", "OPENROUTER_API_KEY",
	"LLM_TIMEOUT", "LLM_TEMPERATURE",
	"EMBEDDING_PROVIDER", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL_NAME", "EMBEDDING_API_KEY",
	"EMBEDDING_DIMENSION", "EMBEDDING_TIMEOUT", "EMBEDDING_WORKERS", "EMBEDDING_AUTOLOAD",
	"INDEX_BACKEND", "QDRANT_URL",
	"PIPELINE_CONFIG", "CHUNK_SIZE", "CHUNK_OVERLAP", "RETRIEVAL_K", "ALLOWED_FILES",
	"WORKSPACE_DIR", "MAX_FILE_BYTES", "GIT_PATH", "ACQUISITION_TIMEOUT",
	"API_PORT", "LOG_LEVEL", "LOG_FORMAT", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
}

// clearEnv blanks every variable FromEnv reads; empty values fall back to defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantErr     string
		checkConfig func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{"EMBEDDING_DIMENSION": "768"},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.LLMProvider != ProviderLlamaCpp || cfg.LLMBaseURL != "http://localhost:8080" {
					t.Errorf("LLM = %s %s", cfg.LLMProvider, cfg.LLMBaseURL)
				}
				if cfg.EmbeddingBaseURL != "http://localhost:8081" || cfg.EmbeddingDimension != 768 {
					t.Errorf("embedding = %s %d", cfg.EmbeddingBaseURL, cfg.EmbeddingDimension)
				}
				if cfg.IndexBackend != BackendMemory || cfg.QdrantURL != "http://localhost:6333" {
					t.Errorf("index = %s %s", cfg.IndexBackend, cfg.QdrantURL)
				}
				if !reflect.DeepEqual(cfg.Pipeline, DefaultPipelineConfig()) {
					t.Errorf("Pipeline = %+v", cfg.Pipeline)
				}
				if cfg.APIPort != "9000" || cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "text" {
					t.Errorf("server = %s %v %s", cfg.APIPort, cfg.LogLevel, cfg.LogFormat)
				}
				if cfg.LLMTimeout != 60*time.Second || cfg.AcquisitionTimeout != 2*time.Minute {
					t.Errorf("timeouts = %v %v", cfg.LLMTimeout, cfg.AcquisitionTimeout)
				}
				if cfg.MaxFileBytes != 1<<20 || cfg.GitPath != "git" {
					t.Errorf("workspace = %d %s", cfg.MaxFileBytes, cfg.GitPath)
				}
			},
		},
		{
			name: "openai provider defaults",
			env: map[string]string{
				"EMBEDDING_DIMENSION": "1536",
				"LLM_PROVIDER":        "OpenAI",
				"OPENROUTER_API_KEY":  "sk-or",
				"EMBEDDING_PROVIDER":  "openai",
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.LLMBaseURL != "https://openrouter.ai/api/v1" || cfg.LLMModelName != "openai/gpt-4o-mini" {
					t.Errorf("LLM = %s %s", cfg.LLMBaseURL, cfg.LLMModelName)
				}
				if cfg.LLMAPIKey != "sk-or" || cfg.EmbeddingAPIKey != "sk-or" {
					t.Errorf("keys = %q %q", cfg.LLMAPIKey, cfg.EmbeddingAPIKey)
				}
				if cfg.EmbeddingModelName != "text-embedding-3-small" {
					t.Errorf("EmbeddingModelName = %s", cfg.EmbeddingModelName)
				}
			},
		},
		{
			name: "overrides",
			env: map[string]string{
				"EMBEDDING_DIMENSION": "32",
				"EMBEDDING_PROVIDER":  "hash",
				"INDEX_BACKEND":       "qdrant",
				"CHUNK_SIZE":          "500",
				"CHUNK_OVERLAP":       "50",
				"RETRIEVAL_K":         "6",
				"EMBEDDING_WORKERS":   "2",
				"EMBEDDING_AUTOLOAD":  "true",
				"ALLOWED_FILES":       "README.md, setup.py ,,",
				"LLM_TIMEOUT":         "90",
				"EMBEDDING_TIMEOUT":   "5s",
				"LLM_TEMPERATURE":     "0.2",
				"LOG_LEVEL":           "DEBUG",
				"LOG_FORMAT":          "json",
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				want := PipelineConfig{ChunkSize: 500, ChunkOverlap: 50, RetrievalK: 6, EmbedWorkers: 2, AllowedFiles: []string{"README.md", "setup.py"}}
				if !reflect.DeepEqual(cfg.Pipeline, want) {
					t.Errorf("Pipeline = %+v, want %+v", cfg.Pipeline, want)
				}
				if cfg.LLMTimeout != 90*time.Second || cfg.EmbeddingTimeout != 5*time.Second {
					t.Errorf("timeouts = %v %v", cfg.LLMTimeout, cfg.EmbeddingTimeout)
				}
				if !cfg.EmbeddingAutoload || cfg.LLMTemperature != 0.2 {
					t.Errorf("autoload=%v temperature=%v", cfg.EmbeddingAutoload, cfg.LLMTemperature)
				}
				if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "json" {
					t.Errorf("log = %v %s", cfg.LogLevel, cfg.LogFormat)
				}
			},
		},
		{
			name:    "missing EMBEDDING_DIMENSION",
			env:     map[string]string{},
			wantErr: "EMBEDDING_DIMENSION is required",
		},
		{
			name:    "invalid EMBEDDING_DIMENSION",
			env:     map[string]string{"EMBEDDING_DIMENSION": "abc"},
			wantErr: "EMBEDDING_DIMENSION must be a valid integer",
		},
		{
			name:    "negative EMBEDDING_DIMENSION",
			env:     map[string]string{"EMBEDDING_DIMENSION": "-1"},
			wantErr: "EMBEDDING_DIMENSION must be greater than 0",
		},
		{
			name:    "openai without key",
			env:     map[string]string{"EMBEDDING_DIMENSION": "8", "LLM_PROVIDER": "openai"},
			wantErr: "LLM_API_KEY",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"EMBEDDING_DIMENSION": "8", "EMBEDDING_PROVIDER": "bert"},
			wantErr: "EMBEDDING_PROVIDER",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"EMBEDDING_DIMENSION": "8", "INDEX_BACKEND": "faiss"},
			wantErr: "INDEX_BACKEND",
		},
		{
			name:    "overlap not below size",
			env:     map[string]string{"EMBEDDING_DIMENSION": "8", "CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"},
			wantErr: "CHUNK_OVERLAP",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"EMBEDDING_DIMENSION": "8", "LLM_TIMEOUT": "soon"},
			wantErr: "LLM_TIMEOUT",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"EMBEDDING_DIMENSION": "8", "LOG_LEVEL": "loud"},
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "zero retrieval k",
			env:     map[string]string{"EMBEDDING_DIMENSION": "8", "RETRIEVAL_K": "0"},
			wantErr: "RETRIEVAL_K",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := FromEnv()
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("FromEnv() error = nil, want %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("FromEnv() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromEnv() error = %v", err)
			}
			tt.checkConfig(t, cfg)
		})
	}
}

func TestFromEnv_ReportsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("INDEX_BACKEND", "faiss")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("FromEnv() error = nil")
	}
	for _, want := range []string{"EMBEDDING_DIMENSION", "INDEX_BACKEND", "LOG_FORMAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestFromEnv_PipelineFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := "chunk_size: 400\nchunk_overlap: 40\nretrieval_k: 3\nallowed_files:\n  - README.md\n  - docs/usage.md\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("EMBEDDING_DIMENSION", "8")
	t.Setenv("RETRIEVAL_K", "5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	want := PipelineConfig{
		ChunkSize:    400,
		ChunkOverlap: 40,
		RetrievalK:   5, // env wins over the file
		EmbedWorkers: 4,
		AllowedFiles: []string{"README.md", "docs/usage.md"},
	}
	if !reflect.DeepEqual(cfg.Pipeline, want) {
		t.Errorf("Pipeline = %+v, want %+v", cfg.Pipeline, want)
	}
}

func TestFromEnv_PipelineFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
		wantErr string
	}{
		{name: "missing file", missing: true, wantErr: "failed to read PIPELINE_CONFIG"},
		{name: "invalid yaml", content: "chunk_size: [", wantErr: "failed to parse PIPELINE_CONFIG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "pipeline.yaml")
			if !tt.missing {
				if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			t.Setenv("PIPELINE_CONFIG", path)
			t.Setenv("EMBEDDING_DIMENSION", "8")

			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("FromEnv() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, so unset them.
	for _, key := range []string{"EMBEDDING_DIMENSION", "API_PORT"} {
		_ = os.Unsetenv(key)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("EMBEDDING_DIMENSION")
		_ = os.Unsetenv("API_PORT")
	})

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("EMBEDDING_DIMENSION=384\nAPI_PORT=9100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EmbeddingDimension != 384 || cfg.APIPort != "9100" {
		t.Errorf("Load() dimension = %d, port = %s", cfg.EmbeddingDimension, cfg.APIPort)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
