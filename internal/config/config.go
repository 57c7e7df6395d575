package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/aryan-thawkar/minipr2/internal/device"
	"github.com/aryan-thawkar/minipr2/internal/protocol"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT, default=8080"`
	LogLevel   string `env:"LOG_LEVEL, default=info"`

	LedgerBackend string `env:"LEDGER_BACKEND, default=file"`
	LedgerPath    string `env:"LEDGER_PATH, default=./data/bank_data.json"`

	DBHost     string `env:"DB_HOST, default=localhost"`
	DBPort     string `env:"DB_PORT, default=5432"`
	DBUser     string `env:"DB_USER, default=postgres"`
	DBPassword string `env:"DB_PASSWORD, default=password"`
	DBName     string `env:"DB_NAME, default=fingerpay"`
	DBSSLMode  string `env:"DB_SSLMODE, default=disable"`

	AdminName string `env:"ADMIN_NAME, default=Admin"`

	Sensor SensorConfig
}

type SensorConfig struct {
	Port          string        `env:"SENSOR_PORT"`
	BaudRate      int           `env:"SENSOR_BAUD, default=9600"`
	ResetPulse    time.Duration `env:"SENSOR_RESET_PULSE, default=100ms"`
	BootDelay     time.Duration `env:"SENSOR_BOOT_DELAY, default=2s"`
	PollInterval  time.Duration `env:"SENSOR_POLL_INTERVAL, default=100ms"`
	Terminator    string        `env:"SENSOR_COMMAND_TERMINATOR"`
	VerifyTimeout time.Duration `env:"SENSOR_VERIFY_TIMEOUT, default=10s"`
	EnrollTimeout time.Duration `env:"SENSOR_ENROLL_TIMEOUT, default=30s"`
	// MaxConfidence is the highest match score accepted from the sensor.
	// 0 accepts any score.
	MaxConfidence int           `env:"SENSOR_MAX_CONFIDENCE, default=100"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	cfg, err := LoadContext(context.Background())
	if err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return cfg
}

func LoadContext(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerBackend {
	case BackendFile, BackendPostgres:
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if c.Sensor.VerifyTimeout <= 0 || c.Sensor.EnrollTimeout <= 0 {
		return fmt.Errorf("config: sensor timeouts must be positive")
	}
	if c.Sensor.MaxConfidence < 0 {
		return fmt.Errorf("config: SENSOR_MAX_CONFIDENCE must not be negative")
	}
	return nil
}

// GetDBConnectionString returns the lib/pq connection string.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Device() device.Config {
	return device.Config{
		Port:         c.Sensor.Port,
		BaudRate:     c.Sensor.BaudRate,
		ResetPulse:   c.Sensor.ResetPulse,
		BootDelay:    c.Sensor.BootDelay,
		PollInterval: c.Sensor.PollInterval,
	}
}

func (c *Config) Timeouts() protocol.Timeouts {
	return protocol.Timeouts{
		Verify: c.Sensor.VerifyTimeout,
		Enroll: c.Sensor.EnrollTimeout,
	}
}

// Protocol builds the sensor command protocol from the sensor settings.
func (c *Config) Protocol(logger *slog.Logger) *protocol.Protocol {
	return protocol.New(c.Terminator(), logger, protocol.WithMaxConfidence(c.Sensor.MaxConfidence))
}

// Terminator decodes escapes such as "\n" or "\r\n" in the configured
// command terminator.
func (c *Config) Terminator() string {
	r := strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t")
	return r.Replace(c.Sensor.Terminator)
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
