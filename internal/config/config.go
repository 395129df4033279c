// Package config loads the worker's environment-driven configuration into
// a typed, validated struct at process start (spec §6). There is no file
// based configuration and no hot reload.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the fully resolved worker configuration.
type Config struct {
	// Stream (C1)
	StreamURL         string        `validate:"required"`
	StreamName        string        `validate:"required"`
	ConsumerGroup     string        `validate:"required"`
	DLQStreamName     string        `validate:"required"`
	BatchSize         int           `validate:"min=1"`
	BlockTimeout      time.Duration `validate:"min=0"`
	MaxRetries        int           `validate:"min=0"`
	MaxParallelJobs   int           `validate:"min=1"`
	PendingIdleWindow time.Duration `validate:"min=0"`

	// Object store (C3)
	ObjectStoreEndpoint  string `validate:"required"`
	ObjectStoreAccessKey string `validate:"required"`
	ObjectStoreSecretKey string `validate:"required"`
	ObjectStoreUseSSL    bool

	// Integrity (C4)
	RequireManifestSelfListing bool

	// Relational store (C7)
	DatabaseURL string `validate:"required"`

	// Vector store (C6)
	VectorStoreURL string `validate:"required"`
	VectorCollection string `validate:"required"`

	// Embedding (C6)
	EmbeddingProvider string `validate:"required,oneof=ollama openai"`
	EmbeddingModel    string `validate:"required"`
	EmbeddingDim      int    `validate:"min=1"`
	EmbeddingBatch    int    `validate:"min=1"`
	EmbeddingBaseURL  string
	EmbeddingAPIKey   string

	// NLP (C6)
	NLPEnableLocal bool
	NLPProvider    string `validate:"omitempty,oneof=lexicon llm"`

	// Knowledge graph supplement (C7 addendum)
	Neo4jURL      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jEnabled  bool

	// Ambient
	MetricsPort      int      `validate:"min=1,max=65535"`
	KnownSchemaMajors map[int]bool
	ServiceName      string `validate:"required"`
	OTelEndpoint     string
}

// Load reads the environment and returns a validated Config. Errors name
// every failing field so a misconfigured deployment fails fast and loud
// at startup rather than on the first event.
func Load() (Config, error) {
	cfg := Config{
		StreamURL:         getenv("REDIS_URL", "nats://localhost:4222"),
		StreamName:        getenv("REDIS_STREAM_NAME", "audio.ingestion"),
		ConsumerGroup:     getenv("REDIS_CONSUMER_GROUP", "rag-ingestion"),
		DLQStreamName:     getenv("REDIS_DLQ_STREAM", "audio.ingestion.deadletter"),
		BatchSize:         getenvInt("REDIS_BATCH_SIZE", 16),
		BlockTimeout:      getenvDurationMS("REDIS_BLOCK_MS", 2*time.Second),
		MaxRetries:        getenvInt("MAX_RETRIES", 3),
		MaxParallelJobs:   getenvInt("MAX_PARALLEL_JOBS", defaultParallelism()),
		PendingIdleWindow: 15 * time.Minute,

		ObjectStoreEndpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
		ObjectStoreAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		ObjectStoreSecretKey: getenv("MINIO_SECRET_KEY", ""),
		ObjectStoreUseSSL:    getenvBool("MINIO_USE_SSL", false),

		RequireManifestSelfListing: getenvBool("REQUIRE_MANIFEST_SELF_LISTING", true),

		DatabaseURL: getenv("DATABASE_URL", ""),

		VectorStoreURL:   getenv("QDRANT_URL", "localhost:6334"),
		VectorCollection: getenv("QDRANT_COLLECTION", "conversations"),

		EmbeddingProvider: getenv("EMBEDDING_PROVIDER", "ollama"),
		EmbeddingModel:    getenv("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDim:      getenvInt("EMBEDDING_DIM", 768),
		EmbeddingBatch:    getenvInt("EMBEDDING_BATCH", 32),
		EmbeddingBaseURL:  getenv("EMBEDDING_BASE_URL", "http://localhost:11434"),
		EmbeddingAPIKey:   getenv("EMBEDDING_API_KEY", ""),

		NLPEnableLocal: getenvBool("NLP_ENABLE_LOCAL", true),
		NLPProvider:    getenv("NLP_PROVIDER", "lexicon"),

		Neo4jURL:      getenv("NEO4J_URL", ""),
		Neo4jUser:     getenv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getenv("NEO4J_PASSWORD", ""),
		Neo4jEnabled:  getenv("NEO4J_URL", "") != "",

		MetricsPort:       getenvInt("METRICS_PORT", 9091),
		KnownSchemaMajors: parseKnownMajors(getenv("KNOWN_SCHEMA_MAJORS", "1")),
		ServiceName:       getenv("SERVICE_NAME", "rag-ingestion-worker"),
		OTelEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.NLPProvider == "" {
		cfg.NLPProvider = "lexicon"
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaultParallelism() int {
	if n := runtime.NumCPU(); n < 4 {
		return n
	}
	return 4
}

func parseKnownMajors(raw string) map[int]bool {
	out := map[int]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out[n] = true
		}
	}
	return out
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDurationMS(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
