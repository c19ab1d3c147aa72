package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"templogger/internal/clock"
	"templogger/internal/config"
	"templogger/internal/datalog"
	"templogger/internal/httpapi"
	"templogger/internal/live"
	"templogger/internal/mqtt"
	"templogger/internal/pipeline"
	"templogger/internal/sensor"
	"templogger/internal/sequence"
)

func Run(ctx context.Context, cfg config.Config) error {
	return run(ctx, cfg, afero.NewOsFs(), slog.Default())
}

func run(parent context.Context, cfg config.Config, fs afero.Fs, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"staticDir", cfg.StaticDir,
		"cyclePeriod", cfg.CyclePeriod,
		"cycleMode", cfg.CycleMode,
		"sensorDriver", cfg.SensorDriver,
		"timeSource", cfg.TimeSource,
		"timeOffset", cfg.TimeOffset,
		"storageMount", cfg.StorageMount,
		"logFile", cfg.LogFile,
		"warmStore", cfg.WarmStore,
		"mqttBroker", cfg.MQTTBroker,
	)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writer := datalog.NewWriter(fs, cfg.StorageMount, cfg.LogFile, logger)
	if err := writer.Init(); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	store, health, err := openWarmStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("warm store close", "err", err)
		}
	}()

	seq, err := sequence.New(ctx, store, logger)
	if err != nil {
		return fmt.Errorf("sequencer: %w", err)
	}

	reader, closeSensor, err := sensor.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSensor(); err != nil {
			logger.Error("sensor close", "err", err)
		}
	}()

	resolver := clock.NewResolver(newTimeSource(cfg), clock.RetryOptions{
		InitialInterval: cfg.TimeRetryInitial,
		MaxInterval:     cfg.TimeRetryMax,
		EscalateAfter:   cfg.TimeEscalateAfter,
		MaxAttempts:     cfg.TimeMaxAttempts,
	}, logger)

	hub := live.NewHub(live.Options{}, logger)
	defer hub.Close()

	deps := pipeline.Deps{
		Sequencer: seq,
		Sensor:    reader,
		Clock:     resolver,
		Log:       writer,
		Notifier:  hub,
	}

	if cfg.MQTTEnabled() {
		publisher, err := mqtt.NewPublisher(cfg, logger)
		if err != nil {
			return err
		}
		// the uplink is optional: the pipeline starts without waiting for the broker
		go func() {
			if err := publisher.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("mqtt connect failed (continuing without uplink)", "err", err)
			}
		}()
		defer publisher.Disconnect()
		deps.Uplink = publisher
	}

	orchestrator, err := pipeline.New(deps, pipeline.Options{
		Period:  cfg.CyclePeriod,
		Oneshot: cfg.CycleMode == config.CycleModeOneshot,
	}, logger)
	if err != nil {
		return err
	}

	if cfg.CycleMode == config.CycleModeOneshot {
		logger.Info("oneshot mode: running a single cycle without the http server")
		return orchestrator.Run(ctx)
	}

	mux, err := httpapi.NewMux(httpapi.Deps{
		StaticDir: cfg.StaticDir,
		Live:      hub,
		Health:    health,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)

	// the first cycle must not run when the port is unavailable
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", ln.Addr().String())
		httpErr <- srv.Serve(ln)
	}()

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- orchestrator.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
		httpErr <- nil
	case err := <-pipelineErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("pipeline: %w", err)
		}
		pipelineErr <- nil
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("pipeline stopping")
	<-pipelineErr

	hub.Close()
	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if err := <-httpErr; err != nil && !errors.Is(err, http.ErrServerClosed) && runErr == nil {
		runErr = err
	}

	if runErr != nil {
		return runErr
	}
	return parent.Err()
}

func openWarmStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (sequence.WarmStore, func(context.Context) error, error) {
	switch cfg.WarmStore {
	case config.WarmStoreMemory:
		return sequence.NewMemoryStore(), nil, nil
	case config.WarmStoreSQLite:
		store, err := sequence.OpenSQLiteStore(ctx, cfg.WarmStorePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("warm store: %w", err)
		}
		return store, store.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown warm store %q", cfg.WarmStore)
	}
}

func newTimeSource(cfg config.Config) clock.Source {
	if cfg.TimeSource == config.TimeSourceSystem {
		return clock.NewSystemSource(cfg.TimeOffset)
	}
	return clock.NewNTPSource(clock.NTPOptions{
		Server:         cfg.NTPServer,
		Timeout:        cfg.NTPTimeout,
		UpdateInterval: cfg.NTPUpdateInterval,
		Offset:         cfg.TimeOffset,
	})
}
