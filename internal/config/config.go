package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"almcli/internal/alm"
)

// EnvPrefix namespaces every environment variable, e.g. ALM_SERVER_PORT.
const EnvPrefix = "ALM"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Model     ModelConfig     `yaml:"model" envconfig:"MODEL"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	ReportTimeout   time.Duration `yaml:"report_timeout" envconfig:"REPORT_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir          string `yaml:"data_dir" envconfig:"DATA_DIR"`
	ExportDir        string `yaml:"export_dir" envconfig:"EXPORT_DIR"`
	LogsDir          string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
	DefaultMortality bool   `yaml:"default_mortality" envconfig:"DEFAULT_MORTALITY"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// CacheConfig selects the report cache backend
type CacheConfig struct {
	Backend  string        `yaml:"backend" envconfig:"BACKEND"` // memory, redis or none
	RedisURL string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL"`
}

// TelemetryConfig selects the OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`   // stdout or none
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"` // prometheus or none
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// ModelConfig configures the calculation engine
type ModelConfig struct {
	DefaultMaturity string            `yaml:"default_maturity" envconfig:"DEFAULT_MATURITY"`
	CurvePolicy     string            `yaml:"curve_policy" envconfig:"CURVE_POLICY"`
	Overrides       map[string]string `yaml:"overrides" envconfig:"OVERRIDES"`
}

// Load builds the configuration from defaults, the first config file found
// and ALM_* environment variables, in that order of precedence.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file. An empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}
	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.Paths.LogsDir, "alm.log")
	}

	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache backend redis requires redis_url")
		}
	default:
		return fmt.Errorf("invalid cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}

	switch c.Telemetry.TraceExporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("invalid trace exporter %q", c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "none":
	default:
		return fmt.Errorf("invalid metric exporter %q", c.Telemetry.MetricExporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0, 1]")
	}

	if _, err := alm.ParseMaturity(c.Model.DefaultMaturity); err != nil {
		return fmt.Errorf("model default maturity: %w", err)
	}
	if _, err := alm.ParseCurvePolicy(c.Model.CurvePolicy); err != nil {
		return fmt.Errorf("model curve policy: %w", err)
	}
	if _, err := c.Model.Parameters(); err != nil {
		return fmt.Errorf("model overrides: %w", err)
	}
	return nil
}

// Parameters applies the configured overrides to the default parameter set.
// Values are parsed as numbers; unknown keys are rejected by the engine.
func (m ModelConfig) Parameters() (alm.Parameters, error) {
	partial := make(map[string]interface{}, len(m.Overrides))
	for k, v := range m.Overrides {
		key := strings.TrimSpace(k)
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			partial[key] = i
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return alm.Parameters{}, fmt.Errorf("parameter %s: %q is not a number: %w", key, v, alm.ErrInvalidConfiguration)
		}
		partial[key] = f
	}
	return alm.DefaultParameters().WithOverrides(partial)
}

// EngineOptions translates the model configuration into engine options.
func (m ModelConfig) EngineOptions() ([]alm.Option, error) {
	maturity, err := alm.ParseMaturity(m.DefaultMaturity)
	if err != nil {
		return nil, fmt.Errorf("model default_maturity: %w", err)
	}
	policy, err := alm.ParseCurvePolicy(m.CurvePolicy)
	if err != nil {
		return nil, fmt.Errorf("model curve_policy: %w", err)
	}
	return []alm.Option{
		alm.WithDefaultMaturity(maturity),
		alm.WithCurvePolicy(policy),
	}, nil
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			ReportTimeout:   20 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/alm.log",
		},
		Paths: PathsConfig{
			DataDir:          "data",
			ExportDir:        "data/exports",
			LogsDir:          "logs",
			DefaultMortality: true,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     15 * time.Minute,
		},
		Model: ModelConfig{
			DefaultMaturity: string(alm.DefaultMaturity),
			CurvePolicy:     string(alm.CurveStrict),
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
