package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

const (
	CycleModeLoop    = "loop"
	CycleModeOneshot = "oneshot"

	SensorDriverDS18B20 = "ds18b20"
	SensorDriverDummy   = "dummy"

	TimeSourceNTP    = "ntp"
	TimeSourceSystem = "system"

	WarmStoreSQLite = "sqlite"
	WarmStoreMemory = "memory"
)

type Config struct {
	AppEnv   string     `env:"APP_ENV" envDefault:"dev"`
	LogLevel slog.Level `env:"-"`
	NodeID   string     `env:"NODE_ID" envDefault:"templogger"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":80"`
	// StaticDir overrides the embedded dashboard assets when set.
	// Relative paths are resolved against the working directory at startup.
	StaticDir string `env:"STATIC_DIR"`

	CyclePeriod time.Duration `env:"CYCLE_PERIOD" envDefault:"10s"`
	CycleMode   string        `env:"CYCLE_MODE" envDefault:"loop"`

	SensorDriver         string `env:"SENSOR_DRIVER" envDefault:"ds18b20"`
	SensorBus            string `env:"SENSOR_BUS"`
	SensorAddress        uint64 `env:"-"`
	SensorResolutionBits int    `env:"SENSOR_RESOLUTION_BITS" envDefault:"12"`

	TimeSource        string        `env:"TIME_SOURCE" envDefault:"ntp"`
	NTPServer         string        `env:"NTP_SERVER" envDefault:"pool.ntp.org"`
	NTPTimeout        time.Duration `env:"NTP_TIMEOUT" envDefault:"5s"`
	NTPUpdateInterval time.Duration `env:"NTP_UPDATE_INTERVAL" envDefault:"60s"`
	TimeOffset        time.Duration `env:"TIME_OFFSET" envDefault:"2h"`
	TimeRetryInitial  time.Duration `env:"TIME_RETRY_INITIAL" envDefault:"500ms"`
	TimeRetryMax      time.Duration `env:"TIME_RETRY_MAX" envDefault:"30s"`
	TimeEscalateAfter int           `env:"TIME_ESCALATE_AFTER" envDefault:"10"`
	// TimeMaxAttempts bounds the resolver loop. 0 keeps it unbounded.
	TimeMaxAttempts int `env:"TIME_MAX_ATTEMPTS" envDefault:"0"`

	StorageMount string `env:"STORAGE_MOUNT" envDefault:"/mnt/sd"`
	LogFile      string `env:"LOG_FILE" envDefault:"data.txt"`

	WarmStore     string `env:"WARM_STORE" envDefault:"sqlite"`
	WarmStorePath string `env:"WARM_STORE_PATH" envDefault:"/run/templogger/warm.db"`

	MQTTBroker   string `env:"MQTT_BROKER"`
	MQTTPort     int    `env:"MQTT_PORT" envDefault:"1883"`
	MQTTClientID string `env:"MQTT_CLIENT_ID" envDefault:"templogger"`
}

// MQTTEnabled reports whether the telemetry uplink should be started.
func (c Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

type rawEnv struct {
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	SensorAddress string `env:"SENSOR_ADDRESS" envDefault:"0"`
}

func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.AppEnv = strings.TrimSpace(cfg.AppEnv)
	if cfg.AppEnv == "" {
		cfg.AppEnv = "dev"
	}
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	if strings.TrimSpace(raw.LogLevel) == "" {
		raw.LogLevel = "info"
	}
	level, err := parseLogLevel(raw.LogLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if strings.TrimSpace(raw.SensorAddress) == "" {
		raw.SensorAddress = "0"
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(raw.SensorAddress), 0, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_ADDRESS %q: %w", raw.SensorAddress, err)
	}
	cfg.SensorAddress = addr

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.StaticDir != "" {
		abs, err := filepath.Abs(cfg.StaticDir)
		if err != nil {
			return Config{}, fmt.Errorf("STATIC_DIR %q: %w", cfg.StaticDir, err)
		}
		cfg.StaticDir = abs
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.CyclePeriod <= 0 {
		return fmt.Errorf("CYCLE_PERIOD must be positive, got %v", c.CyclePeriod)
	}
	switch c.CycleMode {
	case CycleModeLoop, CycleModeOneshot:
	default:
		return fmt.Errorf("invalid CYCLE_MODE %q (allowed: loop, oneshot)", c.CycleMode)
	}

	switch c.SensorDriver {
	case SensorDriverDS18B20, SensorDriverDummy:
	default:
		return fmt.Errorf("invalid SENSOR_DRIVER %q (allowed: ds18b20, dummy)", c.SensorDriver)
	}
	if c.SensorResolutionBits < 9 || c.SensorResolutionBits > 12 {
		return fmt.Errorf("SENSOR_RESOLUTION_BITS must be between 9 and 12, got %d", c.SensorResolutionBits)
	}

	switch c.TimeSource {
	case TimeSourceNTP:
		if strings.TrimSpace(c.NTPServer) == "" {
			return fmt.Errorf("NTP_SERVER is required when TIME_SOURCE=ntp")
		}
		if c.NTPTimeout <= 0 {
			return fmt.Errorf("NTP_TIMEOUT must be positive, got %v", c.NTPTimeout)
		}
	case TimeSourceSystem:
	default:
		return fmt.Errorf("invalid TIME_SOURCE %q (allowed: ntp, system)", c.TimeSource)
	}
	if c.TimeRetryInitial <= 0 || c.TimeRetryMax < c.TimeRetryInitial {
		return fmt.Errorf("TIME_RETRY_INITIAL (%v) must be positive and <= TIME_RETRY_MAX (%v)", c.TimeRetryInitial, c.TimeRetryMax)
	}
	if c.TimeEscalateAfter < 1 {
		return fmt.Errorf("TIME_ESCALATE_AFTER must be >= 1, got %d", c.TimeEscalateAfter)
	}
	if c.TimeMaxAttempts < 0 {
		return fmt.Errorf("TIME_MAX_ATTEMPTS must be >= 0, got %d", c.TimeMaxAttempts)
	}

	if strings.TrimSpace(c.StorageMount) == "" {
		return fmt.Errorf("STORAGE_MOUNT is required")
	}
	if strings.TrimSpace(c.LogFile) == "" || strings.ContainsAny(c.LogFile, `/\`) {
		return fmt.Errorf("invalid LOG_FILE %q (must be a plain file name)", c.LogFile)
	}

	switch c.WarmStore {
	case WarmStoreSQLite:
		if strings.TrimSpace(c.WarmStorePath) == "" {
			return fmt.Errorf("WARM_STORE_PATH is required when WARM_STORE=sqlite")
		}
	case WarmStoreMemory:
	default:
		return fmt.Errorf("invalid WARM_STORE %q (allowed: sqlite, memory)", c.WarmStore)
	}

	if c.MQTTEnabled() && (c.MQTTPort <= 0 || c.MQTTPort > 65535) {
		return fmt.Errorf("invalid MQTT_PORT %d", c.MQTTPort)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
