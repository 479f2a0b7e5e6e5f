package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the orchestrator.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Workflow WorkflowConfig
	Streams  StreamsConfig
}

// AppConfig controls daemon level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values for the result writer.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// WorkflowConfig holds the engine tunables.
type WorkflowConfig struct {
	PassThreshold       float64
	MaxQualityRetries   int
	StageAttempts       int
	StageTimeoutSeconds int
	RetryBackoffMillis  int
	LeaseTTLSeconds     int
	SweepIntervalSec    int
	Workers             int
	CheckpointTTLSec    int
	StatusTTLSec        int
}

// StreamsConfig names the event streams and the consumer group identity.
type StreamsConfig struct {
	Submissions string
	Results     string
	DeadLetter  string
	Group       string
	ResultGroup string
}

// Load reads configuration from environment variables, applying defaults
// where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-orchestrator"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8081"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Workflow: WorkflowConfig{
			PassThreshold:       getEnvAsFloat("WORKFLOW_PASS_THRESHOLD", 0.7),
			MaxQualityRetries:   getEnvAsInt("WORKFLOW_MAX_QUALITY_RETRIES", 3),
			StageAttempts:       getEnvAsInt("WORKFLOW_STAGE_ATTEMPTS", 3),
			StageTimeoutSeconds: getEnvAsInt("WORKFLOW_STAGE_TIMEOUT_SECONDS", 30),
			RetryBackoffMillis:  getEnvAsInt("WORKFLOW_RETRY_BACKOFF_MILLIS", 500),
			LeaseTTLSeconds:     getEnvAsInt("WORKFLOW_LEASE_TTL_SECONDS", 900),
			SweepIntervalSec:    getEnvAsInt("WORKFLOW_SWEEP_INTERVAL_SECONDS", 60),
			Workers:             getEnvAsInt("WORKFLOW_WORKERS", 4),
			CheckpointTTLSec:    getEnvAsInt("WORKFLOW_CHECKPOINT_TTL_SECONDS", 3600),
			StatusTTLSec:        getEnvAsInt("WORKFLOW_STATUS_TTL_SECONDS", 3600),
		},
		Streams: StreamsConfig{
			Submissions: getEnv("STREAM_SUBMISSIONS", "ticket-events"),
			Results:     getEnv("STREAM_RESULTS", "agent-results"),
			DeadLetter:  getEnv("STREAM_DEAD_LETTER", "dead-letter"),
			Group:       getEnv("STREAM_GROUP", "orchestrator-group"),
			ResultGroup: getEnv("STREAM_RESULT_GROUP", "result-writer-group"),
		},
	}

	if err := cfg.Workflow.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the documented lease minimum: the lease must outlast
// the worst-case sequential stage work of one execution, i.e. every
// stage run (including the quality retry loop re-entering Generate and
// Validate) at its full transient attempt cap.
func (w WorkflowConfig) validate() error {
	if w.PassThreshold <= 0 || w.PassThreshold > 1 {
		return fmt.Errorf("WORKFLOW_PASS_THRESHOLD must be in (0,1], got %v", w.PassThreshold)
	}
	if w.MaxQualityRetries < 0 {
		return fmt.Errorf("WORKFLOW_MAX_QUALITY_RETRIES must be >= 0")
	}
	worstStageRuns := 3 + 2*w.MaxQualityRetries
	minLease := time.Duration(worstStageRuns*w.StageAttempts*w.StageTimeoutSeconds) * time.Second
	if w.LeaseTTL() < minLease {
		return fmt.Errorf("WORKFLOW_LEASE_TTL_SECONDS too small: %s is below the minimum %s for the configured stage timeouts", w.LeaseTTL(), minLease)
	}
	return nil
}

// StageTimeout returns the per-attempt stage timeout.
func (w WorkflowConfig) StageTimeout() time.Duration {
	return time.Duration(w.StageTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base backoff between transient attempts.
func (w WorkflowConfig) RetryBackoff() time.Duration {
	return time.Duration(w.RetryBackoffMillis) * time.Millisecond
}

// LeaseTTL returns the exclusive execution lease duration.
func (w WorkflowConfig) LeaseTTL() time.Duration {
	return time.Duration(w.LeaseTTLSeconds) * time.Second
}

// SweepInterval returns the recovery sweep period.
func (w WorkflowConfig) SweepInterval() time.Duration {
	return time.Duration(w.SweepIntervalSec) * time.Second
}

// CheckpointTTL returns how long abandoned checkpoints are retained.
func (w WorkflowConfig) CheckpointTTL() time.Duration {
	return time.Duration(w.CheckpointTTLSec) * time.Second
}

// StatusTTL returns how long status records are retained.
func (w WorkflowConfig) StatusTTL() time.Duration {
	return time.Duration(w.StatusTTLSec) * time.Second
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
