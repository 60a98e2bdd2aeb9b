package embedder

import (
	"log/slog"
	"strings"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// CheckConfigured returns a ConfigurationError when cfg cannot produce
// embeddings: an unknown backend, or a hosted backend with no credential.
// Every ingestion and retrieval entrypoint calls it before chunking or
// touching a store, so a missing key never leaves partial state behind.
func CheckConfigured(cfg Config) error {
	const op = "embedder.CheckConfigured"
	switch cfg.Provider {
	case "ollama":
		if cfg.Endpoint == "" {
			return apperr.Configuration(op, "ollama embedding host is not set; set OLLAMA_HOST or EMBEDDING_ENDPOINT")
		}
	case "openai":
		if cfg.APIKey == "" {
			return apperr.Configuration(op, "no OpenAI API key found; set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if cfg.APIKey == "" {
			return apperr.Configuration(op, "no Azure API key found; set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if cfg.Endpoint == "" {
			return apperr.Configuration(op, "no Azure endpoint found; set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "":
		return apperr.Configuration(op, "no embedding provider configured")
	default:
		return apperr.Configuration(op, "unknown embedding provider "+cfg.Provider+"; use ollama, openai or azure")
	}
	return nil
}

// WarnIfChatModel logs a warning when cfg.Model looks like a chat model.
// Called once at startup.
func WarnIfChatModel(log *slog.Logger, cfg Config) {
	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: model looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}
}
