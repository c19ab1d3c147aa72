// Package sensor takes one temperature sample per call from the attached probe.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"templogger/internal/config"
)

// Reader returns a single temperature in degrees Celsius. Faults are reported
// in-band as types.DisconnectedC, never as an error.
type Reader interface {
	Read(ctx context.Context) float64
}

// New builds the reader selected by SENSOR_DRIVER.
func New(cfg config.Config, logger *slog.Logger) (Reader, func() error, error) {
	switch cfg.SensorDriver {
	case config.SensorDriverDS18B20:
		s := NewDS18B20(Options{
			Bus:            cfg.SensorBus,
			Address:        cfg.SensorAddress,
			ResolutionBits: cfg.SensorResolutionBits,
		}, logger)
		return s, s.Close, nil
	case config.SensorDriverDummy:
		return NewDummy(21.5), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sensor driver %q", cfg.SensorDriver)
	}
}

// Dummy wanders around a base temperature. Used for development without a probe.
type Dummy struct {
	mu      sync.Mutex
	base    float64
	current float64
}

func NewDummy(base float64) *Dummy {
	return &Dummy{base: base, current: base}
}

func (d *Dummy) Read(_ context.Context) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current += (rand.Float64() - 0.5) * 0.25
	// stay within a couple of degrees of the base
	if d.current > d.base+2 || d.current < d.base-2 {
		d.current = d.base
	}
	return d.current
}
