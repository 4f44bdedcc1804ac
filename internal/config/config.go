package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string

	CacheDir     string
	LogsDir      string
	KnowledgeDir string

	QdrantURL        string
	QdrantCollection string

	ExtractionBaseURL string
	ExtractionAPIKey  string
	OCRModel          string
	EmbedModel        string
	FieldModel        string
	ExtractionRPS     float64

	OCRCallTimeout   time.Duration
	FieldCallTimeout time.Duration

	EmbedBatchSize  int
	IngestBatchSize int

	MaxConcurrentJobs int
	OrphanThreshold   time.Duration
	GracePeriod       time.Duration

	RasterDPI    int
	PdftoppmPath string

	// PostgresDSN is optional; without it the structured-extraction
	// stage and the export surface are disabled.
	PostgresDSN    string
	SeedFieldsPath string

	// NATSURL is optional; without it the worker only serves local
	// submissions.
	NATSURL           string
	NATSSubmitSubject string
	NATSEventSubject  string

	MetricsPort string
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment.
	_ = godotenv.Load()

	return Config{
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		CacheDir:     mustEnv("CACHE_DIR", "./data/cache"),
		LogsDir:      mustEnv("LOGS_DIR", "./data/logs"),
		KnowledgeDir: mustEnv("KNOWLEDGE_DIR", "./data/knowledge"),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "contracts"),

		ExtractionBaseURL: mustEnv("EXTRACTION_BASE_URL", ""),
		ExtractionAPIKey:  mustEnv("EXTRACTION_API_KEY", ""),
		OCRModel:          mustEnv("OCR_MODEL", "qwen2.5-vl-72b-instruct"),
		EmbedModel:        mustEnv("EMBED_MODEL", "text-embedding-3-large"),
		FieldModel:        mustEnv("FIELD_MODEL", "qwen2.5-72b-instruct"),
		ExtractionRPS:     mustEnvFloat("EXTRACTION_RPS", 0),

		OCRCallTimeout:   mustEnvSeconds("OCR_CALL_TIMEOUT_SECONDS", 700),
		FieldCallTimeout: mustEnvSeconds("FIELD_CALL_TIMEOUT_SECONDS", 60),

		EmbedBatchSize:  mustEnvInt("EMBED_BATCH_SIZE", 64),
		IngestBatchSize: mustEnvInt("INGEST_BATCH_SIZE", 64),

		MaxConcurrentJobs: mustEnvInt("MAX_CONCURRENT_JOBS", 4),
		OrphanThreshold:   mustEnvSeconds("ORPHAN_THRESHOLD_SECONDS", 3600),
		GracePeriod:       mustEnvSeconds("GRACE_PERIOD_SECONDS", 300),

		RasterDPI:    mustEnvInt("RASTER_DPI", 200),
		PdftoppmPath: mustEnv("PDFTOPPM_PATH", "pdftoppm"),

		PostgresDSN:    mustEnv("POSTGRES_DSN", ""),
		SeedFieldsPath: mustEnv("SEED_FIELDS_PATH", ""),

		NATSURL:           mustEnv("NATS_URL", ""),
		NATSSubmitSubject: mustEnv("NATS_SUBMIT_SUBJECT", "contracts.process"),
		NATSEventSubject:  mustEnv("NATS_EVENT_SUBJECT", "contracts.events"),

		MetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(mustEnvInt(key, fallbackSeconds)) * time.Second
}
