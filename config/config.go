package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds relay configuration.
type Config struct {
	// Port is the TCP port the HTTP/WebSocket listener binds to.
	Port string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is text or json.
	LogFormat string

	// MaxFrameBytes caps the size of a single inbound WebSocket frame.
	MaxFrameBytes int64

	// SendQueueSize bounds the outbound envelope queue of each connection.
	SendQueueSize int

	// RateLimitPerSecond is the inbound frame refill rate per connection (0 disables limiting).
	RateLimitPerSecond int

	// RateLimitBurst is the token bucket size used when rate limiting is enabled.
	RateLimitBurst int

	// AllowedOrigins is the comma-separated CORS origin list for the REST endpoints.
	AllowedOrigins string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:               "3000",
		LogLevel:           "info",
		LogFormat:          "text",
		MaxFrameBytes:      64 * 1024,
		SendQueueSize:      256,
		RateLimitPerSecond: 0,
		RateLimitBurst:     20,
		AllowedOrigins:     "http://localhost:3000,http://localhost:8080",
		ShutdownTimeout:    30 * time.Second,
	}
}

// Option is a function that modifies Config.
type Option func(*Config)

// WithPort sets the listen port.
func WithPort(port string) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithLogging sets the log level and format.
func WithLogging(level, format string) Option {
	return func(c *Config) {
		c.LogLevel = level
		c.LogFormat = format
	}
}

// WithMaxFrameBytes sets the inbound frame size cap.
func WithMaxFrameBytes(n int64) Option {
	return func(c *Config) {
		c.MaxFrameBytes = n
	}
}

// WithSendQueueSize sets the per-connection outbound queue bound.
func WithSendQueueSize(n int) Option {
	return func(c *Config) {
		c.SendQueueSize = n
	}
}

// WithRateLimit enables per-connection inbound rate limiting.
func WithRateLimit(perSecond, burst int) Option {
	return func(c *Config) {
		c.RateLimitPerSecond = perSecond
		c.RateLimitBurst = burst
	}
}

// Load reads configuration from environment variables on top of the defaults.
// A .env file in the working directory is loaded first if present.
func Load(opts ...Option) Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.MaxFrameBytes = int64(getEnvInt("MAX_FRAME_BYTES", int(cfg.MaxFrameBytes)))
	cfg.SendQueueSize = getEnvInt("SEND_QUEUE_SIZE", cfg.SendQueueSize)
	cfg.RateLimitPerSecond = getEnvInt("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()
	return cfg
}

// Addr returns the listen address for the configured port.
func (c Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Port == "" {
		c.Port = d.Port
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.RateLimitPerSecond < 0 {
		c.RateLimitPerSecond = 0
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = d.RateLimitBurst
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
