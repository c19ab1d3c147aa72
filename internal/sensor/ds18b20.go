package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ds18b20"
	"periph.io/x/host/v3"

	"templogger/internal/types"
)

const ds18b20Family = 0x28

var errNoProbe = errors.New("no DS18B20 on bus")

type Options struct {
	// Bus is the 1-Wire bus name; empty opens the first registered bus.
	Bus string
	// Address of the probe. Zero selects the first DS18B20 found by search.
	Address        uint64
	ResolutionBits int
}

type probe interface {
	Sense(e *physic.Env) error
}

// DS18B20 reads a Dallas DS18B20 over a 1-Wire bus. The bus and the probe are
// attached lazily so a missing probe at boot only yields sentinel readings.
type DS18B20 struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	bus    onewire.BusCloser
	dev    probe
	attach func() (onewire.BusCloser, probe, error)
}

func NewDS18B20(opts Options, logger *slog.Logger) *DS18B20 {
	s := &DS18B20{opts: opts, logger: logger}
	s.attach = s.attachPeriph
	return s
}

// Read triggers a conversion and blocks until the probe reports. Any bus or
// conversion failure returns types.DisconnectedC.
func (s *DS18B20) Read(_ context.Context) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		bus, dev, err := s.attach()
		if err != nil {
			s.logger.Warn("sensor probe unavailable", "bus", s.opts.Bus, "err", err)
			return types.DisconnectedC
		}
		s.bus, s.dev = bus, dev
	}

	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		s.logger.Warn("sensor conversion failed", "err", err)
		// drop the device so the next cycle searches the bus again
		s.dev = nil
		_ = s.closeBus()
		return types.DisconnectedC
	}

	value := env.Temperature.Celsius()
	s.logger.Debug("sensor read", "celsius", value)
	return value
}

func (s *DS18B20) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dev = nil
	return s.closeBus()
}

func (s *DS18B20) closeBus() error {
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus = nil
	return err
}

func (s *DS18B20) attachPeriph() (onewire.BusCloser, probe, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("host.Init: %w", err)
	}

	bus, err := onewirereg.Open(s.opts.Bus)
	if err != nil {
		return nil, nil, fmt.Errorf("onewirereg.Open(%q): %w", s.opts.Bus, err)
	}

	addr := onewire.Address(s.opts.Address)
	if addr == 0 {
		addr, err = findProbe(bus)
		if err != nil {
			_ = bus.Close()
			return nil, nil, err
		}
	}

	dev, err := ds18b20.New(bus, addr, s.opts.ResolutionBits)
	if err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("ds18b20.New(%#016x): %w", uint64(addr), err)
	}
	s.logger.Info("sensor probe attached", "bus", bus.String(), "address", fmt.Sprintf("%#016x", uint64(addr)))
	return bus, dev, nil
}

func findProbe(bus onewire.Bus) (onewire.Address, error) {
	addrs, err := bus.Search(false)
	if err != nil {
		return 0, fmt.Errorf("1-wire search: %w", err)
	}
	for _, a := range addrs {
		if a&0xff == ds18b20Family {
			return a, nil
		}
	}
	return 0, errNoProbe
}
