package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"kgraph/backend/internal/constants"
	apperrors "kgraph/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string `validate:"required,numeric"`
	Env      string `validate:"oneof=development production test"`
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`

	// Store
	StoreBackend  string `validate:"oneof=neo4j memory"`
	Neo4jURI      string `validate:"required_if=StoreBackend neo4j"`
	Neo4jUser     string `validate:"required_if=StoreBackend neo4j"`
	Neo4jPassword string `validate:"required_if=StoreBackend neo4j"`

	// Reasoning provider (any OpenAI-compatible endpoint, e.g. LiteLLM)
	LLMBaseURL string `validate:"required,url"`
	LLMAPIKey  string
	ModelID    string `validate:"required"`

	// Expansion
	ExpansionDeadline time.Duration `validate:"gt=0"`
	MaxIterations     int           `validate:"gte=1"`
	IterationPause    time.Duration `validate:"gte=0"`

	// Consistency
	LowCoherenceThreshold float64 `validate:"gte=0,lte=1"`

	// Provider circuit breaker
	BreakerFailureRatio float64       `validate:"gt=0,lte=1"`
	BreakerMinRequests  uint32        `validate:"gte=1"`
	BreakerOpenTimeout  time.Duration `validate:"gt=0"`
}

var validate = validator.New()

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", ""),
		StoreBackend:          getEnv("STORE_BACKEND", "neo4j"),
		Neo4jURI:              getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:             getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:         getEnv("NEO4J_PASSWORD", "password"),
		LLMBaseURL:            getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:             getEnv("LLM_API_KEY", ""),
		ModelID:               getEnv("MODEL_ID", "gpt-4o"),
		ExpansionDeadline:     getEnvDuration("EXPANSION_DEADLINE", constants.DefaultExpansionDeadline),
		MaxIterations:         getEnvInt("MAX_ITERATIONS", constants.DefaultMaxIterations),
		IterationPause:        getEnvDuration("ITERATION_PAUSE", constants.DefaultIterationPause),
		LowCoherenceThreshold: getEnvFloat("LOW_COHERENCE_THRESHOLD", constants.LowCoherenceThreshold),
		BreakerFailureRatio:   getEnvFloat("BREAKER_FAILURE_RATIO", 0.6),
		BreakerMinRequests:    uint32(getEnvInt("BREAKER_MIN_REQUESTS", 5)),
		BreakerOpenTimeout:    getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the struct tags and reports the first offending field
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperrors.NewConfigValidationFailed(fe.Field(), describeTag(fe))
	}
	return err
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "numeric":
		return "must be numeric"
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMemoryStore reports whether the in-process store is selected
func (c *Config) UsesMemoryStore() bool {
	return strings.EqualFold(c.StoreBackend, "memory")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
