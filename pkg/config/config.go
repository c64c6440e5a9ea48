package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Workbook    WorkbookConfig    `yaml:"workbook"`
	Cache       CacheConfig       `yaml:"cache"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Healthcheck HealthcheckConfig `yaml:"healthcheck"`
}

type ServerConfig struct {
	Host                string        `yaml:"host" validate:"required"`
	Port                int           `yaml:"port" validate:"min=1,max=65535"`
	MaxFileSize         string        `yaml:"max_file_size" validate:"required,size"`
	MaxConcurrentReqs   int           `yaml:"max_concurrent_requests" validate:"min=1"`
	RequestTimeout      time.Duration `yaml:"request_timeout" validate:"gt=0"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

type WorkbookConfig struct {
	OutputFilename     string `yaml:"output_filename" validate:"required"`
	TemplateFilename   string `yaml:"template_filename" validate:"required"`
	DefaultCommentText string `yaml:"default_comment_text"`
	// TemplatePath points at a YAML template structure; empty means the
	// built-in TORG-12 header.
	TemplatePath     string `yaml:"template_path"`
	CompressionLevel int    `yaml:"compression_level" validate:"min=0,max=11"`
}

type CacheConfig struct {
	MaxMemory       string        `yaml:"max_memory" validate:"required,size"`
	MaxSessions     int           `yaml:"max_sessions" validate:"min=1"`
	DefaultTTL      time.Duration `yaml:"default_ttl" validate:"gt=0"`
	HotDataTTL      time.Duration `yaml:"hot_data_ttl" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
}

type MonitoringConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" validate:"oneof=debug info warn error"`
	Format    string `yaml:"format" validate:"oneof=json console"`
	Output    string `yaml:"output"`
	ErrorFile string `yaml:"error_file"`
}

type HealthcheckConfig struct {
	Endpoint string `yaml:"endpoint" validate:"startswith=/"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("size", func(fl validator.FieldLevel) bool {
		_, err := ParseSize(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads .env (if any), then the YAML file named by CONFIG_PATH
// (default config.yaml).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	return LoadFromPath(configPath)
}

func LoadFromPath(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Fields missing from the file keep their defaults.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TORG12_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TORG12_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TORG12_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("TORG12_LOG_LEVEL"); v != "" {
		cfg.Monitoring.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxFileBytes returns server.max_file_size in bytes.
func (c *Config) MaxFileBytes() int64 {
	n, _ := ParseSize(c.Server.MaxFileSize)
	return n
}

// MaxCacheBytes returns cache.max_memory in bytes.
func (c *Config) MaxCacheBytes() int64 {
	n, _ := ParseSize(c.Cache.MaxMemory)
	return n
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize turns "20MB", "64KB" or a bare byte count into bytes.
func ParseSize(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(v, u.suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(n * float64(mult)), nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			MaxFileSize:         "20MB",
			MaxConcurrentReqs:   8,
			RequestTimeout:      30 * time.Second,
			ShutdownGracePeriod: 10 * time.Second,
		},
		Workbook: WorkbookConfig{
			OutputFilename:     "modified-document.xlsx",
			TemplateFilename:   "template-TORG-12.xlsx",
			DefaultCommentText: "",
			CompressionLevel:   5,
		},
		Cache: CacheConfig{
			MaxMemory:       "256MB",
			MaxSessions:     100,
			DefaultTTL:      30 * time.Minute,
			HotDataTTL:      2 * time.Hour,
			CleanupInterval: 1 * time.Minute,
		},
		Monitoring: MonitoringConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
		},
		Healthcheck: HealthcheckConfig{
			Endpoint: "/health",
		},
	}
}
