package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Runtime is the resolved, typed view of the environment that the binary
// wires its components from. Call FromEnv after Load so YAML values are
// already present as env vars.
type Runtime struct {
	DBPath string

	VectorBackend    string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool
	PgVectorDSN      string
	PgVectorTable    string

	ObjectBackend      string
	ObjectDir          string
	GCSBucket          string
	GCSCredentialsFile string

	ChunkSize     int
	ChunkOverlap  int
	Queue         string
	RedisURL      string
	RedisKey      string
	IngestWorkers int

	EmbeddingRPS float64

	RetrievalTopK     int
	RetrievalMinScore float32
	ChatTopK          int
	ChatMaxTokens     int

	Host           string
	Port           int
	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64

	JWTSecret string
	JWTIssuer string
}

// Defaults applied by FromEnv when the corresponding variable is unset.
const (
	DefaultVectorBackend    = "sqlite"
	DefaultObjectBackend    = "local"
	DefaultQueue            = "memory"
	DefaultQdrantHost       = "localhost"
	DefaultQdrantPort       = 6334
	DefaultQdrantCollection = "coursechat-chunks"
	DefaultIngestWorkers    = 2
	DefaultRetrievalTopK    = 5
	DefaultMinScore         = 0.5
	DefaultChatTopK         = 3
	DefaultJWTIssuer        = "coursechat"
)

// FromEnv resolves a Runtime from environment variables.
func FromEnv() *Runtime {
	return &Runtime{
		DBPath: getEnvOrDefault("COURSECHAT_DB", defaultDataPath("coursechat.db")),

		VectorBackend:    strings.ToLower(getEnvOrDefault("VECTOR_STORE", DefaultVectorBackend)),
		QdrantHost:       getEnvOrDefault("QDRANT_HOST", DefaultQdrantHost),
		QdrantPort:       getEnvInt("QDRANT_PORT", DefaultQdrantPort),
		QdrantCollection: getEnvOrDefault("QDRANT_COLLECTION", DefaultQdrantCollection),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        os.Getenv("QDRANT_TLS") == "true",
		PgVectorDSN:      os.Getenv("PGVECTOR_DSN"),
		PgVectorTable:    os.Getenv("PGVECTOR_TABLE"),

		ObjectBackend:      strings.ToLower(getEnvOrDefault("OBJECT_STORE", DefaultObjectBackend)),
		ObjectDir:          getEnvOrDefault("OBJECT_STORE_DIR", defaultDataPath("objects")),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),

		ChunkSize:     getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 0),
		Queue:         strings.ToLower(getEnvOrDefault("INGEST_QUEUE", DefaultQueue)),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisKey:      os.Getenv("REDIS_QUEUE_KEY"),
		IngestWorkers: getEnvInt("INGEST_WORKERS", DefaultIngestWorkers),

		EmbeddingRPS: getEnvFloat("EMBEDDING_RPS", 0),

		RetrievalTopK:     getEnvInt("RETRIEVAL_TOP_K", DefaultRetrievalTopK),
		RetrievalMinScore: float32(getEnvFloat("RETRIEVAL_MIN_SCORE", DefaultMinScore)),
		ChatTopK:          getEnvInt("CHAT_TOP_K", DefaultChatTopK),
		ChatMaxTokens:     getEnvInt("CHAT_MAX_CONTEXT_TOKENS", 0),

		Host:           getEnvOrDefault("COURSECHAT_HOST", "127.0.0.1"),
		Port:           getEnvInt("COURSECHAT_PORT", 8080),
		RateLimit:      getEnvFloat("COURSECHAT_RATE_LIMIT", 0),
		RateBurst:      getEnvInt("COURSECHAT_RATE_BURST", 0),
		MaxUploadBytes: int64(getEnvInt("COURSECHAT_MAX_UPLOAD_MB", 0)) << 20,

		JWTSecret: os.Getenv("COURSECHAT_JWT_SECRET"),
		JWTIssuer: getEnvOrDefault("COURSECHAT_JWT_ISSUER", DefaultJWTIssuer),
	}
}

// defaultDataPath returns ~/.coursechat/<name>, or ./<name> when the home
// directory cannot be resolved.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".coursechat", name)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
