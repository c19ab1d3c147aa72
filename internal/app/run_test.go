package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"templogger/internal/config"
	"templogger/internal/datalog"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		AppEnv:               "dev",
		NodeID:               "test-node",
		HTTPAddr:             "127.0.0.1:0",
		CyclePeriod:          10 * time.Millisecond,
		CycleMode:            config.CycleModeLoop,
		SensorDriver:         config.SensorDriverDummy,
		SensorResolutionBits: 12,
		TimeSource:           config.TimeSourceSystem,
		TimeOffset:           2 * time.Hour,
		TimeRetryInitial:     time.Millisecond,
		TimeRetryMax:         10 * time.Millisecond,
		TimeEscalateAfter:    10,
		StorageMount:         "/mnt/sd",
		LogFile:              "data.txt",
		WarmStore:            config.WarmStoreMemory,
	}
}

func mountedFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/mnt/sd", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return fs
}

func logLines(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	b, err := afero.ReadFile(fs, "/mnt/sd/data.txt")
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(b), "\r\n"), "\r\n")
}

var record = regexp.MustCompile(`^(\d+),\d{4}-\d{2}-\d{2},\d{2}:\d{2}:\d{2},-?\d+\.\d{2}$`)

func TestRun_Oneshot(t *testing.T) {
	fs := mountedFs(t)
	cfg := testConfig(t)
	cfg.CycleMode = config.CycleModeOneshot

	if err := run(context.Background(), cfg, fs, discard()); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	lines := logLines(t, fs)
	if len(lines) != 2 {
		t.Fatalf("log has %d lines, want header + 1", len(lines))
	}
	if lines[0]+"\r\n" != datalog.Header {
		t.Errorf("header = %q", lines[0])
	}
	if m := record.FindStringSubmatch(lines[1]); m == nil || m[1] != "0" {
		t.Errorf("record = %q, want reading 0", lines[1])
	}
}

func TestRun_OneshotResumesFromWarmStore(t *testing.T) {
	fs := mountedFs(t)
	cfg := testConfig(t)
	cfg.CycleMode = config.CycleModeOneshot
	cfg.WarmStore = config.WarmStoreSQLite
	cfg.WarmStorePath = filepath.Join(t.TempDir(), "run", "warm.db")

	for i := 0; i < 3; i++ {
		if err := run(context.Background(), cfg, fs, discard()); err != nil {
			t.Fatalf("run() #%d error = %v", i, err)
		}
	}

	lines := logLines(t, fs)
	if len(lines) != 4 {
		t.Fatalf("log has %d lines, want header + 3", len(lines))
	}
	for i, l := range lines[1:] {
		m := record.FindStringSubmatch(l)
		if m == nil {
			t.Fatalf("line %q does not match the record schema", l)
		}
		if want := []string{"0", "1", "2"}[i]; m[1] != want {
			t.Errorf("wake %d logged id %s, want %s", i, m[1], want)
		}
	}
}

func TestRun_LoopUntilCancelled(t *testing.T) {
	fs := mountedFs(t)
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, fs, discard()) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		b, _ := afero.ReadFile(fs, "/mnt/sd/data.txt")
		if strings.Count(string(b), "\r\n") >= 4 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("pipeline did not log three readings")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not shut down")
	}

	lines := logLines(t, fs)
	for i, l := range lines[1:] {
		m := record.FindStringSubmatch(l)
		if m == nil || m[1] != strconv.Itoa(i) {
			t.Errorf("line %d = %q", i+1, l)
		}
	}
}

func TestRun_StartupFaults(t *testing.T) {
	tests := []struct {
		name   string
		fs     afero.Fs
		mutate func(c *config.Config)
	}{
		{name: "storage not mounted", fs: afero.NewMemMapFs()},
		{name: "warm store unopenable", fs: mountedFs(t), mutate: func(c *config.Config) {
			// a regular file where the store directory should be
			blocker := filepath.Join(t.TempDir(), "blocker")
			if err := os.WriteFile(blocker, nil, 0o644); err != nil {
				t.Fatalf("write blocker: %v", err)
			}
			c.WarmStore = config.WarmStoreSQLite
			c.WarmStorePath = filepath.Join(blocker, "warm.db")
		}},
		{name: "missing static dir", fs: mountedFs(t), mutate: func(c *config.Config) {
			c.StaticDir = filepath.Join(t.TempDir(), "nope")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := run(ctx, cfg, tt.fs, discard())
			if err == nil || errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("run() error = %v, want a startup fault", err)
			}
		})
	}
}

func TestRun_PortInUseWritesNothing(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	fs := mountedFs(t)
	cfg := testConfig(t)
	cfg.HTTPAddr = taken.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = run(ctx, cfg, fs, discard())
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run() error = %v, want a listen failure", err)
	}

	lines := logLines(t, fs)
	if len(lines) != 1 {
		t.Errorf("log has %d lines, want the header only", len(lines))
	}
}
