// Package config provides YAML-based configuration for coursechat.
// Configuration is layered: defaults, then the YAML file, then env vars.
// Environment variables always win.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. COURSECHAT_CONFIG environment variable
//  3. ~/.coursechat/config.yaml
//  4. ./coursechat.yaml
//
// A .env file in the working directory is loaded first (see LoadDotEnv) so
// its values count as environment and override YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for retrieval.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Storage configures the relational database.
	Storage StorageConfig `yaml:"storage"`

	// Vectors selects and configures the chunk vector store.
	Vectors VectorConfig `yaml:"vectors"`

	// Objects selects and configures uploaded-file storage.
	Objects ObjectConfig `yaml:"objects"`

	// Ingestion configures chunking and the background queue.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Retrieval configures similarity search.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Chat configures answer generation.
	Chat ChatConfig `yaml:"chat"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Auth configures bearer token verification.
	Auth AuthConfig `yaml:"auth"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness.
	Temperature float32 `yaml:"temperature"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	// RequestsPerSecond paces embedding calls. Zero is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// StorageConfig holds relational store settings.
type StorageConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
}

// VectorConfig selects the chunk vector store.
type VectorConfig struct {
	// Backend is sqlite, qdrant or pgvector.
	Backend  string         `yaml:"backend"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	PgVector PgVectorConfig `yaml:"pgvector"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// PgVectorConfig holds PostgreSQL pgvector settings.
type PgVectorConfig struct {
	// DSN is the connection string. Prefer env var PGVECTOR_DSN.
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// ObjectConfig selects uploaded-file storage.
type ObjectConfig struct {
	// Backend is local or gcs.
	Backend string `yaml:"backend"`
	// Dir is the root directory of the local backend.
	Dir                string `yaml:"dir"`
	GCSBucket          string `yaml:"gcs_bucket"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
}

// IngestionConfig holds chunking and queue settings.
type IngestionConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	// Queue is memory or redis.
	Queue    string `yaml:"queue"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
	Workers  int    `yaml:"workers"`
}

// RetrievalConfig holds similarity search settings.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float32 `yaml:"min_score"`
}

// ChatConfig holds answer generation settings.
type ChatConfig struct {
	TopK             int `yaml:"top_k"`
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimit is the sustained chat/search requests per second per caller.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// MaxUploadMB caps multipart upload bodies.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	// JWTSecret is the HS256 signing key. Prefer env var COURSECHAT_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return floatStr(float64(c.Model.Temperature)) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_RPS", func(c *Config) string { return floatStr(c.Embedding.RequestsPerSecond) }},
	{"COURSECHAT_DB", func(c *Config) string { return c.Storage.DBPath }},
	{"VECTOR_STORE", func(c *Config) string { return c.Vectors.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Vectors.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Vectors.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Vectors.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Vectors.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Vectors.Qdrant.TLS) }},
	{"PGVECTOR_DSN", func(c *Config) string { return c.Vectors.PgVector.DSN }},
	{"PGVECTOR_TABLE", func(c *Config) string { return c.Vectors.PgVector.Table }},
	{"OBJECT_STORE", func(c *Config) string { return c.Objects.Backend }},
	{"OBJECT_STORE_DIR", func(c *Config) string { return c.Objects.Dir }},
	{"GCS_BUCKET", func(c *Config) string { return c.Objects.GCSBucket }},
	{"GCS_CREDENTIALS_FILE", func(c *Config) string { return c.Objects.GCSCredentialsFile }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingestion.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Ingestion.ChunkOverlap) }},
	{"INGEST_QUEUE", func(c *Config) string { return c.Ingestion.Queue }},
	{"REDIS_URL", func(c *Config) string { return c.Ingestion.RedisURL }},
	{"REDIS_QUEUE_KEY", func(c *Config) string { return c.Ingestion.RedisKey }},
	{"INGEST_WORKERS", func(c *Config) string { return intStr(c.Ingestion.Workers) }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RETRIEVAL_MIN_SCORE", func(c *Config) string { return floatStr(float64(c.Retrieval.MinScore)) }},
	{"CHAT_TOP_K", func(c *Config) string { return intStr(c.Chat.TopK) }},
	{"CHAT_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Chat.MaxContextTokens) }},
	{"COURSECHAT_HOST", func(c *Config) string { return c.Server.Host }},
	{"COURSECHAT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"COURSECHAT_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"COURSECHAT_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"COURSECHAT_MAX_UPLOAD_MB", func(c *Config) string { return intStr(c.Server.MaxUploadMB) }},
	{"COURSECHAT_JWT_SECRET", func(c *Config) string { return c.Auth.JWTSecret }},
	{"COURSECHAT_JWT_ISSUER", func(c *Config) string { return c.Auth.Issuer }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads path (".env" when empty) into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return true, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return "", err
	}
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists. An
// explicit path that does not exist is an error rather than a silent
// fallback to env-only configuration.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %s: %w", explicit, err)
		}
		return explicit, nil
	}

	if envPath := os.Getenv("COURSECHAT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".coursechat", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if _, err := os.Stat("coursechat.yaml"); err == nil {
		return "coursechat.yaml", nil
	}

	return "", nil
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
