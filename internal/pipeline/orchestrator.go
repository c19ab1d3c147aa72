// Package pipeline drives the acquire, timestamp, persist and notify cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"templogger/internal/types"
)

type Sensor interface {
	Read(ctx context.Context) float64
}

type TimeResolver interface {
	Resolve(ctx context.Context) (date, timeOfDay string, err error)
}

type LogAppender interface {
	Append(r types.Reading) error
}

type Sequencer interface {
	Next(ctx context.Context) int64
}

// Notifier must not block.
type Notifier interface {
	Broadcast(value float64)
}

type Uplink interface {
	PublishReading(ctx context.Context, r types.Reading) error
}

type Deps struct {
	Sequencer Sequencer
	Sensor    Sensor
	Clock     TimeResolver
	Log       LogAppender
	Notifier  Notifier
	// Uplink is optional.
	Uplink Uplink
}

type Options struct {
	Period  time.Duration
	Oneshot bool
}

// Orchestrator owns the per-cycle state. It is not safe for concurrent use.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Sequencer == nil:
		return nil, errors.New("pipeline: sequencer is required")
	case deps.Sensor == nil:
		return nil, errors.New("pipeline: sensor is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: time resolver is required")
	case deps.Log == nil:
		return nil, errors.New("pipeline: log appender is required")
	case deps.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("pipeline: period must be positive, got %v", opts.Period)
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger}, nil
}

// Run executes cycles separated by the configured delay until ctx is
// cancelled. In oneshot mode it returns after the first cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline started", "period", o.opts.Period, "oneshot", o.opts.Oneshot)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("cycle dropped", "err", err)
		}
		if o.opts.Oneshot {
			return nil
		}

		// fixed delay after the pass, not a fixed rate
		idle := time.NewTimer(o.opts.Period)
		select {
		case <-ctx.Done():
			idle.Stop()
			return ctx.Err()
		case <-idle.C:
		}
	}
}

// RunCycle performs one pass. It returns an error only when no timestamp
// could be resolved, in which case nothing was persisted or broadcast.
// Storage and uplink failures are logged and do not stop the pass.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	id := o.deps.Sequencer.Next(ctx)

	value := o.deps.Sensor.Read(ctx)
	if types.IsDisconnected(value) {
		o.logger.Warn("sensor disconnected", "reading_id", id, "temperature_c", value)
	}

	date, tod, err := o.deps.Clock.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve time for reading %d: %w", id, err)
	}

	r := types.Reading{ID: id, Date: date, Time: tod, Value: value}

	persisted := true
	if err := o.deps.Log.Append(r); err != nil {
		persisted = false
		o.logger.Error("append failed", "reading_id", id, "err", err)
	}

	o.deps.Notifier.Broadcast(value)

	if o.deps.Uplink != nil {
		if err := o.deps.Uplink.PublishReading(ctx, r); err != nil {
			o.logger.Warn("uplink publish failed", "reading_id", id, "err", err)
		}
	}

	o.logger.Info("reading",
		"reading_id", id,
		"date", date,
		"time", tod,
		"temperature_c", types.FormatTemperature(value),
		"persisted", persisted,
	)
	return nil
}
