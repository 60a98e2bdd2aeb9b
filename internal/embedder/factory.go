package embedder

import (
	"fmt"
	"os"
	"strconv"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Config selects and configures an embedding backend.
type Config struct {
	// Provider is one of "ollama", "openai", "azure".
	Provider string
	// Model is the embedding model or Azure deployment name.
	Model string
	// APIKey authenticates against OpenAI or Azure. Unused for Ollama.
	APIKey string
	// Endpoint is the backend base URL. For Ollama it is the host.
	Endpoint string
	// APIVersion is the Azure OpenAI api-version query parameter.
	APIVersion string
	// Dimensions is the requested vector length (0 = model default).
	Dimensions int
}

// DefaultDimensions returns the embedding vector size for cfg. Vector stores
// that need a fixed size at creation time (Qdrant collections, pgvector
// columns) call this rather than hardcoding a value.
func DefaultDimensions(cfg Config) int {
	if cfg.Dimensions > 0 {
		return cfg.Dimensions
	}
	if cfg.Provider == "ollama" {
		return defaultOllamaDimensions
	}
	return defaultOpenAIDimensions
}

// ConfigFromEnv resolves an embedding Config using cascading defaults that
// inherit from the chat provider configuration when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER, else ollama
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
func ConfigFromEnv() Config {
	backend := getEnv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnvOrDefault("MODEL_PROVIDER", "ollama")
	}
	cfg := Config{
		Provider:   backend,
		Model:      getEnv("EMBEDDING_MODEL"),
		APIKey:     getEnv("EMBEDDING_API_KEY"),
		Endpoint:   getEnv("EMBEDDING_ENDPOINT"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
	}

	switch backend {
	case "ollama":
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		if cfg.Model == "" {
			cfg.Model = defaultOllamaModel
		}
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = getEnv("OPENAI_API_KEY")
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = "https://api.openai.com/v1"
		}
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
	case "azure":
		if cfg.APIKey == "" {
			cfg.APIKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
	}
	return cfg
}

// New constructs the backend selected by cfg. It returns a
// ConfigurationError when cfg lacks a required credential.
func New(cfg Config) (Embedder, error) {
	if err := CheckConfigured(cfg); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model}), nil
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	case "azure":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai/deployments/" + cfg.Model,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
		}), nil
	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure", cfg.Provider)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
