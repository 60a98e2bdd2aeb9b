// Package provider selects and constructs the language-model backend that
// answers student questions. Backends are cloudwego/eino chat models:
// Ollama, OpenAI, Azure OpenAI, Volcengine Ark and Google Gemini.
package provider

import (
	"fmt"
	"strings"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings. BaseURL is optional and points the
// client at an OpenAI-compatible gateway.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning applies to every backend that accepts it.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per answer.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config selects a backend and carries the settings of every backend.
// Only the block of the selected backend is read.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate checks that the selected backend has what it needs. Failures are
// ConfigurationErrors naming the missing environment variable.
func (c *Config) Validate() error {
	missing := func(v string) error {
		return apperr.Configuration("provider", fmt.Sprintf("%s is required for %s backend", v, c.Backend))
	}
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return missing("OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return missing("OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return missing("OPENAI_MODEL")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return missing("AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return missing("AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			return missing("AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return missing("ARK_API_KEY")
		}
		if c.Ark.Model == "" {
			return missing("ARK_MODEL")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return missing("GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return missing("GEMINI_MODEL")
		}
	default:
		return apperr.Configuration("provider",
			fmt.Sprintf("unknown backend %q, valid values: ollama, openai, azure, ark, gemini", c.Backend))
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series
// or codex reasoning model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if d == p || strings.HasPrefix(d, p+"-") {
			return true
		}
	}
	return false
}
