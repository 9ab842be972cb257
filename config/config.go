package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// VisionProvider selects the backend used for figure descriptions
type VisionProvider string

const (
	ProviderNone   VisionProvider = "none"
	ProviderOllama VisionProvider = "ollama"
	ProviderOpenAI VisionProvider = "openai"
	ProviderGemini VisionProvider = "gemini"
)

// Config holds all runtime settings, loaded from environment variables
// with an optional .env file
type Config struct {
	HTTPAddr    string
	DataDir     string
	DatabaseURL string
	LogLevel    logrus.Level

	VisionProvider VisionProvider
	OpenAIAPIKey   string
	OpenAIModel    string
	OllamaBaseURL  string
	OllamaModel    string
	GeminiAPIKey   string
	GeminiModel    string

	MaxUploadBytes     int64
	JobTimeout         time.Duration
	MaxConcurrentJobs  int
	QueueBacklogFactor int
	HeadingScale       float64
	EnrichFanout       int
	EnableTableVision  bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:    getEnvString("PAPERMD_ADDR", ":8080"),
		DataDir:     getEnvString("PAPERMD_DATA_DIR", ".data"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		VisionProvider: VisionProvider(getEnvString("VISION_PROVIDER", string(ProviderNone))),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    getEnvString("OPENAI_MODEL", "gpt-4o"),
		OllamaBaseURL:  getEnvString("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:    getEnvString("OLLAMA_MODEL", "llava"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnvString("GEMINI_MODEL", "gemini-1.5-flash"),

		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 50)) * 1024 * 1024,
		JobTimeout:         time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 300)) * time.Second,
		MaxConcurrentJobs:  getEnvInt("MAX_CONCURRENT_JOBS", 4),
		QueueBacklogFactor: getEnvInt("QUEUE_BACKLOG_FACTOR", 8),
		HeadingScale:       getEnvFloat("HEADING_SCALE", 1.15),
		EnrichFanout:       getEnvInt("ENRICH_FANOUT", 4),
		EnableTableVision:  getEnvBool("ENABLE_TABLE_VISION", false),
	}

	level, err := logrus.ParseLevel(getEnvString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	switch cfg.VisionProvider {
	case ProviderNone, ProviderOllama, ProviderOpenAI, ProviderGemini:
	default:
		return nil, fmt.Errorf("unknown VISION_PROVIDER %q", cfg.VisionProvider)
	}

	if cfg.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}
	if cfg.EnrichFanout < 1 {
		cfg.EnrichFanout = 1
	}
	if cfg.QueueBacklogFactor < 1 {
		cfg.QueueBacklogFactor = 1
	}

	return cfg, nil
}

// getEnvString gets a string environment variable with a default value
func getEnvString(envVar string, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(envVar string, defaultValue int) int {
	if value := os.Getenv(envVar); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(envVar string, defaultValue float64) float64 {
	if value := os.Getenv(envVar); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(envVar string, defaultValue bool) bool {
	if value := os.Getenv(envVar); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
