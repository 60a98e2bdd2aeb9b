// Package audit logs CLI command invocations with the operational settings
// in effect, so operators can trace what a run was configured to do.
//
// Secrets are logged as presence only ("set"/"unset"). Connection strings
// are logged with their password removed.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// valueKind says how an env var's value is rendered in the audit record.
type valueKind int

const (
	plain valueKind = iota
	secret
	connString
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	key  string
	kind valueKind
}

// auditKeys is the ordered list of env vars included in every audit entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", plain},
	{"OLLAMA_HOST", plain},
	{"OLLAMA_MODEL", plain},
	{"OPENAI_API_KEY", secret},
	{"OPENAI_MODEL", plain},
	{"AZURE_OPENAI_API_KEY", secret},
	{"AZURE_OPENAI_ENDPOINT", plain},
	{"AZURE_OPENAI_DEPLOYMENT", plain},
	{"ARK_API_KEY", secret},
	{"ARK_MODEL", plain},
	{"GOOGLE_API_KEY", secret},
	{"GEMINI_MODEL", plain},
	{"EMBEDDING_PROVIDER", plain},
	{"EMBEDDING_MODEL", plain},
	{"EMBEDDING_API_KEY", secret},
	{"COURSECHAT_DB", plain},
	{"VECTOR_STORE", plain},
	{"QDRANT_HOST", plain},
	{"QDRANT_PORT", plain},
	{"QDRANT_COLLECTION", plain},
	{"QDRANT_API_KEY", secret},
	{"PGVECTOR_DSN", connString},
	{"OBJECT_STORE", plain},
	{"GCS_BUCKET", plain},
	{"INGEST_QUEUE", plain},
	{"REDIS_URL", connString},
	{"COURSECHAT_JWT_SECRET", secret},
	{"COURSECHAT_JWT_ISSUER", plain},
	{"LOG_LEVEL", plain},
	{"LOG_FORMAT", plain},
	{"LANGFUSE_PUBLIC_KEY", secret},
	{"LANGFUSE_SECRET_KEY", secret},
}

// kindOf indexes auditKeys by name.
var kindOf = func() map[string]valueKind {
	m := make(map[string]valueKind, len(auditKeys))
	for _, e := range auditKeys {
		m[e.key] = e.kind
	}
	return m
}()

// LogCommandStart emits a structured audit record when a CLI command begins.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, render(entry.kind, os.Getenv(entry.key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value the way the audit log would for key. Unknown
// keys are treated as plain.
func SanitiseKey(key, value string) string {
	return render(kindOf[key], value)
}

func render(kind valueKind, v string) string {
	switch kind {
	case secret:
		return presence(v)
	case connString:
		return redactConnString(v)
	default:
		return valOrUnset(v)
	}
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// redactConnString drops the password from URL-form connection strings.
// Key/value DSNs ("host=... password=...") and unparseable values are
// reduced to presence.
func redactConnString(v string) string {
	if v == "" {
		return "unset"
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "set"
	}
	return u.Redacted()
}

// sanitiseConfigPath returns the config path with the home directory
// shortened to "~", or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
