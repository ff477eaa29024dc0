package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration, loaded from the environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Transport TransportConfig
	Clinic    ClinicConfig
	Pipeline  PipelineConfig
	Booking   BookingConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresDSN string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ProviderConfig configures the LLM backend (OpenAI-compatible).
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// TransportConfig configures the WhatsApp gateway client.
type TransportConfig struct {
	BaseURL      string
	Token        string
	InstanceName string
	// SendsPerSecond caps global outbound throughput across all workers.
	SendsPerSecond float64
}

// ClinicConfig configures the external scheduling system client.
// Enabled is derived from the token: without credentials, sync is
// skipped rather than attempted.
type ClinicConfig struct {
	BaseURL  string
	AppToken string
	Enabled  bool
}

type PipelineConfig struct {
	DebounceWindow  time.Duration
	MaxIterations   int
	RateLimitMax    int
	RateLimitWindow time.Duration
	FollowUpDelay   time.Duration
	AgentName       string
}

// TracingConfig points span export at an OTLP collector. Empty
// endpoint leaves spans unexported.
type TracingConfig struct {
	OTLPEndpoint string
}

type BookingConfig struct {
	BaseURL          string // public prefix for self-service booking links
	LinkTTL          time.Duration
	StaffNotifyPhone string
	ClinicName       string
	ClinicAddress    string
}

// Load reads configuration from the environment, applying defaults and
// validating required keys. All problems are reported at once.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresDSN: requireEnv("POSTGRES_DSN", &errs),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0, &errs),
		},
		Provider: ProviderConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   getEnv("LLM_MODEL", "gpt-4o"),
		},
		Transport: TransportConfig{
			BaseURL:        getEnv("WA_GATEWAY_URL", "http://localhost:8085"),
			Token:          os.Getenv("WA_GATEWAY_TOKEN"),
			InstanceName:   getEnv("WA_INSTANCE", "primary"),
			SendsPerSecond: getEnvFloat("WA_SENDS_PER_SECOND", 5, &errs),
		},
		Clinic: ClinicConfig{
			BaseURL:  getEnv("CLINIC_API_URL", "https://api.clinic.example.com"),
			AppToken: os.Getenv("CLINIC_APP_TOKEN"),
		},
		Pipeline: PipelineConfig{
			DebounceWindow:  time.Duration(getEnvInt("DEBOUNCE_MS", 4000, &errs)) * time.Millisecond,
			MaxIterations:   getEnvInt("MAX_TOOL_ITERATIONS", 8, &errs),
			RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 20, &errs),
			RateLimitWindow: time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60, &errs)) * time.Second,
			FollowUpDelay:   time.Duration(getEnvInt("FOLLOW_UP_HOURS", 24, &errs)) * time.Hour,
			AgentName:       getEnv("AGENT_NAME", "Sofia"),
		},
		Booking: BookingConfig{
			BaseURL:          getEnv("BOOKING_BASE_URL", "https://agenda.vitacare.com.br/b"),
			LinkTTL:          time.Duration(getEnvInt("BOOKING_LINK_HOURS", 48, &errs)) * time.Hour,
			StaffNotifyPhone: os.Getenv("STAFF_NOTIFY_PHONE"),
			ClinicName:       getEnv("CLINIC_NAME", "Clínica VitaCare"),
			ClinicAddress:    getEnv("CLINIC_ADDRESS", "Rua Boa Vista, 99 - Centro, São Paulo"),
		},
		Tracing: TracingConfig{
			OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		},
	}
	cfg.Clinic.Enabled = cfg.Clinic.AppToken != ""

	if cfg.Pipeline.DebounceWindow <= 0 {
		errs = append(errs, errors.New("DEBOUNCE_MS must be positive"))
	}
	if cfg.Pipeline.MaxIterations <= 0 {
		errs = append(errs, errors.New("MAX_TOOL_ITERATIONS must be positive"))
	}
	if cfg.Pipeline.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if cfg.Booking.LinkTTL <= 0 {
		errs = append(errs, errors.New("BOOKING_LINK_HOURS must be positive"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func requireEnv(key string, errs *[]error) string {
	v := os.Getenv(key)
	if v == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", key))
	}
	return v
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func getEnvFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}
