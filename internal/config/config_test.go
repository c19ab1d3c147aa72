package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_ENV", "LOG_LEVEL", "NODE_ID", "HTTP_ADDR", "STATIC_DIR",
	"CYCLE_PERIOD", "CYCLE_MODE",
	"SENSOR_DRIVER", "SENSOR_BUS", "SENSOR_ADDRESS", "SENSOR_RESOLUTION_BITS",
	"TIME_SOURCE", "NTP_SERVER", "NTP_TIMEOUT", "NTP_UPDATE_INTERVAL", "TIME_OFFSET",
	"TIME_RETRY_INITIAL", "TIME_RETRY_MAX", "TIME_ESCALATE_AFTER", "TIME_MAX_ATTEMPTS",
	"STORAGE_MOUNT", "LOG_FILE", "WARM_STORE", "WARM_STORE_PATH",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID",
}

// clearEnv unsets every variable LoadFromEnv reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unsetenv %s: %v", k, err)
		}
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.HTTPAddr != ":80" {
		t.Errorf("HTTPAddr = %q, want %q", got.HTTPAddr, ":80")
	}
	if got.CyclePeriod != 10*time.Second {
		t.Errorf("CyclePeriod = %v, want 10s", got.CyclePeriod)
	}
	if got.CycleMode != CycleModeLoop {
		t.Errorf("CycleMode = %q, want %q", got.CycleMode, CycleModeLoop)
	}
	if got.SensorDriver != SensorDriverDS18B20 {
		t.Errorf("SensorDriver = %q, want %q", got.SensorDriver, SensorDriverDS18B20)
	}
	if got.SensorAddress != 0 {
		t.Errorf("SensorAddress = %#x, want 0", got.SensorAddress)
	}
	if got.TimeOffset != 2*time.Hour {
		t.Errorf("TimeOffset = %v, want 2h", got.TimeOffset)
	}
	if got.TimeMaxAttempts != 0 {
		t.Errorf("TimeMaxAttempts = %d, want 0 (unbounded)", got.TimeMaxAttempts)
	}
	if got.StorageMount != "/mnt/sd" || got.LogFile != "data.txt" {
		t.Errorf("storage = %q/%q, want /mnt/sd/data.txt", got.StorageMount, got.LogFile)
	}
	if got.WarmStore != WarmStoreSQLite {
		t.Errorf("WarmStore = %q, want %q", got.WarmStore, WarmStoreSQLite)
	}
	if got.MQTTEnabled() {
		t.Error("MQTTEnabled() = true, want false without MQTT_BROKER")
	}
	if got.StaticDir != "" {
		t.Errorf("StaticDir = %q, want empty", got.StaticDir)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "  prod ")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("CYCLE_PERIOD", "1m")
	t.Setenv("CYCLE_MODE", "oneshot")
	t.Setenv("SENSOR_DRIVER", "dummy")
	t.Setenv("SENSOR_ADDRESS", "0x28ff4a1c21170412")
	t.Setenv("TIME_SOURCE", "system")
	t.Setenv("TIME_MAX_ATTEMPTS", "5")
	t.Setenv("WARM_STORE", "memory")
	t.Setenv("MQTT_BROKER", "broker.local")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("STATIC_DIR", "assets")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.AppEnv != "prod" {
		t.Errorf("AppEnv = %q, want prod", got.AppEnv)
	}
	if got.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelWarn)
	}
	if got.CyclePeriod != time.Minute {
		t.Errorf("CyclePeriod = %v, want 1m", got.CyclePeriod)
	}
	if got.CycleMode != CycleModeOneshot {
		t.Errorf("CycleMode = %q, want oneshot", got.CycleMode)
	}
	if got.SensorAddress != 0x28ff4a1c21170412 {
		t.Errorf("SensorAddress = %#x, want 0x28ff4a1c21170412", got.SensorAddress)
	}
	if got.TimeMaxAttempts != 5 {
		t.Errorf("TimeMaxAttempts = %d, want 5", got.TimeMaxAttempts)
	}
	if !got.MQTTEnabled() || got.MQTTPort != 8883 {
		t.Errorf("mqtt = %v:%d, want enabled on 8883", got.MQTTBroker, got.MQTTPort)
	}
	if got.StaticDir == "assets" || got.StaticDir == "" {
		t.Errorf("StaticDir = %q, want absolute path", got.StaticDir)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "app env", key: "APP_ENV", val: "staging"},
		{name: "app env uppercase", key: "APP_ENV", val: "DEV"},
		{name: "log level", key: "LOG_LEVEL", val: "verbose"},
		{name: "cycle period zero", key: "CYCLE_PERIOD", val: "0s"},
		{name: "cycle period garbage", key: "CYCLE_PERIOD", val: "soon"},
		{name: "cycle mode", key: "CYCLE_MODE", val: "sometimes"},
		{name: "sensor driver", key: "SENSOR_DRIVER", val: "bme280"},
		{name: "sensor address", key: "SENSOR_ADDRESS", val: "zz"},
		{name: "resolution too low", key: "SENSOR_RESOLUTION_BITS", val: "8"},
		{name: "resolution too high", key: "SENSOR_RESOLUTION_BITS", val: "13"},
		{name: "time source", key: "TIME_SOURCE", val: "gps"},
		{name: "retry initial", key: "TIME_RETRY_INITIAL", val: "0s"},
		{name: "retry max below initial", key: "TIME_RETRY_MAX", val: "100ms"},
		{name: "escalate after", key: "TIME_ESCALATE_AFTER", val: "0"},
		{name: "max attempts", key: "TIME_MAX_ATTEMPTS", val: "-1"},
		{name: "log file with dir", key: "LOG_FILE", val: "logs/data.txt"},
		{name: "warm store", key: "WARM_STORE", val: "eeprom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q error = nil, want non-nil", tt.key, tt.val)
			}
		})
	}
}

func TestLoadFromEnv_InvalidMQTTPortOnlyWhenEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_PORT", "0")
	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() without broker error = %v, want nil", err)
	}

	t.Setenv("MQTT_BROKER", "localhost")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() with broker and port 0 error = nil, want non-nil")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: " Info ", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "ERROR", want: slog.LevelError},
		{in: "trace", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
