package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig points at the remote crew backend
type BackendConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	APIToken string        `yaml:"api_token"`
	// Circuit breaker
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// CloneConfig tunes crew imports
type CloneConfig struct {
	Concurrency int  `yaml:"concurrency"`
	Compensate  bool `yaml:"compensate"`
}

// TrackerConfig tunes execution status tracking
type TrackerConfig struct {
	SafetyTimeout time.Duration `yaml:"safety_timeout"`
	StatusTTL     time.Duration `yaml:"status_ttl"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// SessionConfig controls tab session persistence
type SessionConfig struct {
	ID       string        `yaml:"id"`
	Table    string        `yaml:"table"`
	Debounce time.Duration `yaml:"debounce"`
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"server_address"`
	Environment   string `yaml:"environment"`
	LogLevel      string `yaml:"log_level"`

	Backend         BackendConfig `yaml:"backend"`
	Clone           CloneConfig   `yaml:"clone"`
	Tracker         TrackerConfig `yaml:"tracker"`
	Session         SessionConfig `yaml:"session"`
	SecretsCacheTTL time.Duration `yaml:"secrets_cache_ttl"`

	// AWS configuration
	AWSRegion             string `yaml:"aws_region"`
	EventBusName          string `yaml:"event_bus_name"`
	EnableEventForwarding bool   `yaml:"enable_event_forwarding"`

	// Lambda configuration
	IsLambda bool `yaml:"-"`

	// Feature flags
	EnableMetrics      bool     `yaml:"enable_metrics"`
	EnableTracing      bool     `yaml:"enable_tracing"`
	OTLPEndpoint       string   `yaml:"otlp_endpoint"`
	EnableCORS         bool     `yaml:"enable_cors"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// ConfigFile is the optional YAML overlay
	ConfigFile string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		ServerAddress: ":8080",
		Environment:   "development",
		LogLevel:      "info",
		Backend: BackendConfig{
			BaseURL:         "http://localhost:8000",
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Clone: CloneConfig{Concurrency: 4},
		Tracker: TrackerConfig{
			SafetyTimeout: 5 * time.Minute,
			StatusTTL:     5 * time.Minute,
			PollInterval:  15 * time.Second,
		},
		Session: SessionConfig{
			ID:       "default",
			Debounce: 500 * time.Millisecond,
		},
		SecretsCacheTTL:    time.Minute,
		AWSRegion:          "us-west-2",
		EventBusName:       "crewcanvas-events",
		EnableCORS:         true,
		CORSAllowedOrigins: []string{"*"},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// CONFIG_FILE and then environment variables, in that order of precedence
func LoadConfig() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

// LoadFile is LoadConfig with an explicit overlay path. An empty path skips
// the overlay.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Backend.BaseURL = getEnv("BACKEND_BASE_URL", c.Backend.BaseURL)
	c.Backend.Timeout = getEnvDuration("BACKEND_TIMEOUT", c.Backend.Timeout)
	c.Backend.APIToken = getEnv("BACKEND_API_TOKEN", c.Backend.APIToken)
	c.Backend.BreakerFailures = uint32(getEnvInt("BACKEND_BREAKER_FAILURES", int(c.Backend.BreakerFailures)))
	c.Backend.BreakerTimeout = getEnvDuration("BACKEND_BREAKER_TIMEOUT", c.Backend.BreakerTimeout)

	c.Clone.Concurrency = getEnvInt("CLONE_CONCURRENCY", c.Clone.Concurrency)
	c.Clone.Compensate = getEnvBool("CLONE_COMPENSATE", c.Clone.Compensate)

	c.Tracker.SafetyTimeout = getEnvDuration("TRACKER_SAFETY_TIMEOUT", c.Tracker.SafetyTimeout)
	c.Tracker.StatusTTL = getEnvDuration("TRACKER_STATUS_TTL", c.Tracker.StatusTTL)
	c.Tracker.PollInterval = getEnvDuration("TRACKER_POLL_INTERVAL", c.Tracker.PollInterval)

	c.Session.ID = getEnv("SESSION_ID", c.Session.ID)
	c.Session.Table = getEnv("SESSION_TABLE", c.Session.Table)
	c.Session.Debounce = getEnvDuration("SESSION_SAVE_DEBOUNCE", c.Session.Debounce)
	c.SecretsCacheTTL = getEnvDuration("SECRETS_CACHE_TTL", c.SecretsCacheTTL)

	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.EventBusName = getEnv("EVENT_BUS_NAME", c.EventBusName)
	c.EnableEventForwarding = getEnvBool("ENABLE_EVENT_FORWARDING", c.EnableEventForwarding)

	c.IsLambda = getEnvBool("IS_LAMBDA", getEnv("AWS_LAMBDA_FUNCTION_NAME", "") != "")

	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTracing = getEnvBool("ENABLE_TRACING", c.EnableTracing)
	c.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.CORSAllowedOrigins = splitList(origins)
	}
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.Clone.Concurrency < 1 {
		return fmt.Errorf("CLONE_CONCURRENCY must be at least 1")
	}
	if c.Tracker.SafetyTimeout <= 0 || c.Tracker.StatusTTL <= 0 || c.Tracker.PollInterval <= 0 {
		return fmt.Errorf("tracker durations must be positive")
	}
	if c.Session.ID == "" {
		return fmt.Errorf("SESSION_ID is required")
	}
	if c.EnableTracing && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP_ENDPOINT is required when tracing is enabled")
	}

	if c.Environment == "production" {
		if c.Session.Table == "" {
			return fmt.Errorf("SESSION_TABLE is required in production")
		}
		if c.EnableEventForwarding && c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
