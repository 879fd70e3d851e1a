package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider and backend names.
const (
	ProviderLlamaCpp = "llamacpp"
	ProviderOpenAI   = "openai"
	ProviderHash     = "hash"

	BackendMemory = "memory"
	BackendQdrant = "qdrant"
)

// Config holds all configuration for the application.
type Config struct {
	LLMProvider    string
	LLMBaseURL     string
	LLMModelName   string
	LLMAPIKey      string
	LLMTimeout     time.Duration
	LLMTemperature float32

	EmbeddingProvider  string
	EmbeddingBaseURL   string
	EmbeddingModelName string
	EmbeddingAPIKey    string
	EmbeddingDimension int
	EmbeddingTimeout   time.Duration
	EmbeddingAutoload  bool

	IndexBackend string
	QdrantURL    string

	Pipeline PipelineConfig

	WorkspaceDir       string
	MaxFileBytes       int64
	GitPath            string
	AcquisitionTimeout time.Duration

	APIPort      string
	LogLevel     slog.Level
	LogFormat    string
	OTLPEndpoint string
	ServiceName  string
}

// PipelineConfig tunes chunking, retrieval and indexing. It can be loaded from the
// YAML file named by PIPELINE_CONFIG; environment variables override the file.
type PipelineConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	RetrievalK   int      `yaml:"retrieval_k"`
	EmbedWorkers int      `yaml:"embed_workers"`
	AllowedFiles []string `yaml:"allowed_files"`
}

// DefaultPipelineConfig returns the pipeline settings used when nothing is configured.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		RetrievalK:   4,
		EmbedWorkers: 4,
		AllowedFiles: []string{"README.md", "main.py", "requirements.txt"},
	}
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or up to five parents, it is loaded first.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	loadDotEnv()
	return FromEnv()
}

// loadDotEnv loads the nearest .env file, searching at most five directories up.
func loadDotEnv() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return // Reached filesystem root
		}
		dir = parent
	}
}

// FromEnv builds and validates a Config from the process environment only.
func FromEnv() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	llmProvider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderLlamaCpp))
	llmBaseURL, llmModel := "http://localhost:8080", "Llama-3.1-8B-Instruct"
	if llmProvider == ProviderOpenAI {
		llmBaseURL, llmModel = "https://openrouter.ai/api/v1", "openai/gpt-4o-mini"
	}

	embeddingProvider := strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderLlamaCpp))
	embeddingBaseURL, embeddingModel := "http://localhost:8081", "granite-embedding-278m-multilingual"
	if embeddingProvider == ProviderOpenAI {
		embeddingBaseURL, embeddingModel = "https://api.openai.com/v1", "text-embedding-3-small"
	}

	llmAPIKey := getEnv("LLM_API_KEY", os.Getenv("OPENROUTER_API_KEY"))

	cfg := &Config{
		LLMProvider:  llmProvider,
		LLMBaseURL:   getEnv("LLM_BASE_URL", llmBaseURL),
		LLMModelName: getEnv("LLM_MODEL", llmModel),
		LLMAPIKey:    llmAPIKey,

		EmbeddingProvider:  embeddingProvider,
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", embeddingBaseURL),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", embeddingModel),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", llmAPIKey),

		IndexBackend: strings.ToLower(getEnv("INDEX_BACKEND", BackendMemory)),
		QdrantURL:    getEnv("QDRANT_URL", "http://localhost:6333"),

		WorkspaceDir: getEnv("WORKSPACE_DIR", filepath.Join(os.TempDir(), "repo-advisor")),
		GitPath:      getEnv("GIT_PATH", "git"),

		APIPort:      getEnv("API_PORT", "9000"),
		LogFormat:    strings.ToLower(getEnv("LOG_FORMAT", "text")),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "repo-advisor"),
	}

	var err error
	cfg.LLMTimeout, err = getDuration("LLM_TIMEOUT", 60*time.Second)
	collect(err)
	cfg.EmbeddingTimeout, err = getDuration("EMBEDDING_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.AcquisitionTimeout, err = getDuration("ACQUISITION_TIMEOUT", 2*time.Minute)
	collect(err)
	cfg.EmbeddingAutoload, err = getBool("EMBEDDING_AUTOLOAD", false)
	collect(err)

	temperature, err := strconv.ParseFloat(getEnv("LLM_TEMPERATURE", "0"), 32)
	if err != nil {
		collect(fmt.Errorf("LLM_TEMPERATURE must be a number: %w", err))
	}
	cfg.LLMTemperature = float32(temperature)

	maxBytes, err := getInt("MAX_FILE_BYTES", 1<<20)
	collect(err)
	cfg.MaxFileBytes = int64(maxBytes)

	// EMBEDDING_DIMENSION must match the output vector size of the embeddings model.
	// For granite-embedding-278m-multilingual this is typically 768.
	if dimStr := getEnv("EMBEDDING_DIMENSION", ""); dimStr != "" {
		dim, err := strconv.Atoi(dimStr)
		if err != nil {
			collect(fmt.Errorf("EMBEDDING_DIMENSION must be a valid integer: %w", err))
			dim = -1
		}
		cfg.EmbeddingDimension = dim
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	collect(err)
	cfg.LogLevel = level

	pipeline, err := loadPipeline()
	collect(err)
	cfg.Pipeline = pipeline

	collect(cfg.Validate())
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPipeline applies the YAML file named by PIPELINE_CONFIG, then environment overrides.
func loadPipeline() (PipelineConfig, error) {
	p := DefaultPipelineConfig()

	if path := getEnv("PIPELINE_CONFIG", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("failed to read PIPELINE_CONFIG: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("failed to parse PIPELINE_CONFIG %s: %w", path, err)
		}
	}

	var errs []error
	var err error
	if p.ChunkSize, err = getInt("CHUNK_SIZE", p.ChunkSize); err != nil {
		errs = append(errs, err)
	}
	if p.ChunkOverlap, err = getInt("CHUNK_OVERLAP", p.ChunkOverlap); err != nil {
		errs = append(errs, err)
	}
	if p.RetrievalK, err = getInt("RETRIEVAL_K", p.RetrievalK); err != nil {
		errs = append(errs, err)
	}
	if p.EmbedWorkers, err = getInt("EMBEDDING_WORKERS", p.EmbedWorkers); err != nil {
		errs = append(errs, err)
	}
	if files := getList("ALLOWED_FILES"); len(files) > 0 {
		p.AllowedFiles = files
	}
	return p, errors.Join(errs...)
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case ProviderLlamaCpp:
	case ProviderOpenAI:
		if c.LLMAPIKey == "" {
			errs = append(errs, fmt.Errorf("LLM_API_KEY (or OPENROUTER_API_KEY) is required when LLM_PROVIDER=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderLlamaCpp, ProviderOpenAI, c.LLMProvider))
	}

	switch c.EmbeddingProvider {
	case ProviderLlamaCpp, ProviderHash:
	case ProviderOpenAI:
		if c.EmbeddingAPIKey == "" {
			errs = append(errs, fmt.Errorf("EMBEDDING_API_KEY is required when EMBEDDING_PROVIDER=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_PROVIDER must be one of llamacpp, openai, hash, got %q", c.EmbeddingProvider))
	}

	switch c.IndexBackend {
	case BackendMemory:
	case BackendQdrant:
		if c.QdrantURL == "" {
			errs = append(errs, fmt.Errorf("QDRANT_URL is required when INDEX_BACKEND=qdrant"))
		}
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND must be %q or %q, got %q", BackendMemory, BackendQdrant, c.IndexBackend))
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	switch {
	case c.EmbeddingDimension == 0:
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION is required"))
	case c.EmbeddingDimension < 0:
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be greater than 0"))
	}
	if c.MaxFileBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_BYTES must be greater than 0"))
	}
	for name, d := range map[string]time.Duration{
		"LLM_TIMEOUT":         c.LLMTimeout,
		"EMBEDDING_TIMEOUT":   c.EmbeddingTimeout,
		"ACQUISITION_TIMEOUT": c.AcquisitionTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	p := c.Pipeline
	if p.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be greater than 0"))
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", p.ChunkOverlap))
	}
	if p.RetrievalK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_K must be greater than 0"))
	}
	if p.EmbedWorkers <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_WORKERS must be greater than 0"))
	}
	if len(p.AllowedFiles) == 0 {
		errs = append(errs, fmt.Errorf("ALLOWED_FILES must name at least one file"))
	}

	return errors.Join(errs...)
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return v, nil
}

// getDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a duration like 30s: %w", key, err)
	}
	return d, nil
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
}
