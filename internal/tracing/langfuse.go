// Package tracing wires optional Langfuse tracing into the eino callback
// system so chat model calls made while answering questions are traced.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

const defaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup builds the Langfuse callback handler for cfg. The returned flush
// function must be called before process exit so buffered traces are sent.
// When cfg is not enabled it returns nil, nil, false.
func Setup(cfg Config) (callbacks.Handler, func(), bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})

	return handler, flusher, true
}

// Install registers the handler globally when cfg is enabled and returns the
// flush function (a no-op when disabled).
func Install(cfg Config) (flush func(), enabled bool) {
	handler, flusher, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
