package provider

import (
	"strings"
	"testing"
)

// providerEnv lists every variable ConfigFromEnv reads, so each case starts
// from a clean environment.
var providerEnv = []string{
	"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
	"ARK_API_KEY", "ARK_MODEL", "ARK_BASE_URL",
	"GOOGLE_API_KEY", "GEMINI_MODEL",
	"MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
}

func setProviderEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range providerEnv {
		t.Setenv(k, env[k])
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	setProviderEnv(t, nil)
	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOllama {
		t.Errorf("Backend = %q, want ollama", cfg.Backend)
	}
	if cfg.Ollama.Host != "http://localhost:11434" || cfg.Ollama.Model != "llama3" {
		t.Errorf("Ollama = %+v", cfg.Ollama)
	}
	if cfg.Tuning.MaxTokens != 1000 || cfg.Tuning.Temperature != 0.2 {
		t.Errorf("Tuning = %+v", cfg.Tuning)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigFromEnv_Tuning(t *testing.T) {
	setProviderEnv(t, map[string]string{"MODEL_MAX_TOKENS": "512", "MODEL_TEMPERATURE": "0.7"})
	cfg := ConfigFromEnv()
	if cfg.Tuning.MaxTokens != 512 || cfg.Tuning.Temperature != 0.7 {
		t.Errorf("Tuning = %+v", cfg.Tuning)
	}

	// Unparseable values fall back to the defaults.
	setProviderEnv(t, map[string]string{"MODEL_MAX_TOKENS": "lots", "MODEL_TEMPERATURE": "warm"})
	cfg = ConfigFromEnv()
	if cfg.Tuning.MaxTokens != 1000 || cfg.Tuning.Temperature != 0.2 {
		t.Errorf("Tuning = %+v", cfg.Tuning)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "ollama", env: map[string]string{"MODEL_PROVIDER": "ollama", "OLLAMA_MODEL": "mistral"}},
		{name: "openai", env: map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk-test"}},
		{name: "openai without key", env: map[string]string{"MODEL_PROVIDER": "openai"}, wantErr: "OPENAI_API_KEY"},
		{
			name: "azure",
			env: map[string]string{
				"MODEL_PROVIDER":          "azure",
				"AZURE_OPENAI_API_KEY":    "key",
				"AZURE_OPENAI_ENDPOINT":   "https://campus.openai.azure.com",
				"AZURE_OPENAI_DEPLOYMENT": "tutor-gpt4o",
			},
		},
		{
			name: "azure without endpoint",
			env: map[string]string{
				"MODEL_PROVIDER":          "azure",
				"AZURE_OPENAI_API_KEY":    "key",
				"AZURE_OPENAI_DEPLOYMENT": "tutor-gpt4o",
			},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name: "azure without deployment",
			env: map[string]string{
				"MODEL_PROVIDER":        "azure",
				"AZURE_OPENAI_API_KEY":  "key",
				"AZURE_OPENAI_ENDPOINT": "https://campus.openai.azure.com",
			},
			wantErr: "AZURE_OPENAI_DEPLOYMENT",
		},
		{name: "ark", env: map[string]string{"MODEL_PROVIDER": "ark", "ARK_API_KEY": "ark-test", "ARK_MODEL": "doubao-pro-32k"}},
		{name: "ark without model", env: map[string]string{"MODEL_PROVIDER": "ark", "ARK_API_KEY": "ark-test"}, wantErr: "ARK_MODEL"},
		{name: "gemini", env: map[string]string{"MODEL_PROVIDER": "gemini", "GOOGLE_API_KEY": "AIza-test"}},
		{name: "gemini without key", env: map[string]string{"MODEL_PROVIDER": "gemini"}, wantErr: "GOOGLE_API_KEY"},
		{name: "unknown backend", env: map[string]string{"MODEL_PROVIDER": "claude-local"}, wantErr: "unknown backend"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setProviderEnv(t, tc.env)
			err := ConfigFromEnv().Validate()
			switch {
			case tc.wantErr == "" && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tc.wantErr != "" && err == nil:
				t.Errorf("expected an error naming %s", tc.wantErr)
			case tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr):
				t.Errorf("error %q does not name %s", err, tc.wantErr)
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	reasoning := []string{"o1", "o1-mini", "o3-pro", "o4-mini", "O3-Mini", "codex", "codex-mini"}
	standard := []string{"gpt-4o", "gpt-4.1", "gpt-35-turbo", "gpt-5.2-codex", "tutor-deployment", ""}

	for _, d := range reasoning {
		if !isAzureReasoningModel(d) {
			t.Errorf("%q should be treated as a reasoning deployment", d)
		}
	}
	for _, d := range standard {
		if isAzureReasoningModel(d) {
			t.Errorf("%q should not be treated as a reasoning deployment", d)
		}
	}
}
