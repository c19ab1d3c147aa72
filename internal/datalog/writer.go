// Package datalog appends readings to the CSV log on the storage volume.
// The file is opened, written and closed on every call; no handle is kept
// between cycles.
package datalog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"templogger/internal/types"
)

// Header is written once, when the log file is created.
const Header = "Reading ID, Date, Hour, Temperature\r\n"

// ErrVolumeUnavailable means the storage mount point is missing or not a directory.
var ErrVolumeUnavailable = errors.New("storage volume unavailable")

type Writer struct {
	fs     afero.Fs
	mount  string
	path   string
	logger *slog.Logger
}

func NewWriter(fs afero.Fs, mount, name string, logger *slog.Logger) *Writer {
	return &Writer{
		fs:     fs,
		mount:  mount,
		path:   filepath.Join(mount, name),
		logger: logger,
	}
}

func (w *Writer) Path() string {
	return w.path
}

// Init checks the volume and creates the log file with its header if it does
// not exist yet.
func (w *Writer) Init() error {
	if err := w.checkVolume(); err != nil {
		return err
	}
	exists, err := afero.Exists(w.fs, w.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", w.path, err)
	}
	if exists {
		w.logger.Info("log file already exists", "path", w.path)
		return nil
	}
	w.logger.Info("creating log file", "path", w.path)
	return w.create()
}

// Append writes one CSV record. The file is recreated with its header first
// if it has disappeared since Init.
func (w *Writer) Append(r types.Reading) error {
	if err := w.checkVolume(); err != nil {
		return err
	}
	exists, err := afero.Exists(w.fs, w.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", w.path, err)
	}
	if !exists {
		w.logger.Warn("log file missing, recreating", "path", w.path)
		if err := w.create(); err != nil {
			return err
		}
	}

	f, err := w.fs.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", w.path, err)
	}
	line := FormatRecord(r)
	if err := writeAll(f, line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}

	w.logger.Debug("record appended", "path", w.path, "reading_id", r.ID)
	return nil
}

func (w *Writer) create() error {
	f, err := w.fs.OpenFile(w.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	if err := writeAll(f, Header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) checkVolume() error {
	info, err := w.fs.Stat(w.mount)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVolumeUnavailable, w.mount, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrVolumeUnavailable, w.mount)
	}
	return nil
}

func writeAll(f afero.File, s string) error {
	n, err := f.WriteString(s)
	if err != nil {
		return err
	}
	if n < len(s) {
		return io.ErrShortWrite
	}
	return nil
}

// FormatRecord renders "<id>,<date>,<time>,<temperature>\r\n".
func FormatRecord(r types.Reading) string {
	return strconv.FormatInt(r.ID, 10) + "," + r.Date + "," + r.Time + "," +
		types.FormatTemperature(r.Value) + "\r\n"
}
