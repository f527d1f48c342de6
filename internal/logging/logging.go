// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
)

// timeFormat names the per-run log directory.
const timeFormat = "2006-01-02T15-04-05"

// New creates a text logger writing to stderr at the configured level.
// With a file directory set, every level is also written to its own file
// in a directory named after the start time.
func New(cfg config.LogConfig) (*log.Logger, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LogConfig, out io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	logger := &log.Logger{
		Out:       out,
		Formatter: &log.TextFormatter{FullTimestamp: true},
		Hooks:     make(log.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}

	if cfg.FileDir != "" {
		if err := addFileLogger(logger, cfg.FileDir); err != nil {
			return nil, fmt.Errorf("failed to set up file logging: %w", err)
		}
	}
	return logger, nil
}

func addFileLogger(logger *log.Logger, dir string) error {
	logPath := filepath.Join(dir, time.Now().Format(timeFormat))
	if err := os.MkdirAll(logPath, 0o755); err != nil {
		return err
	}

	logger.Hooks.Add(lfshook.NewHook(lfshook.PathMap{
		log.DebugLevel: filepath.Join(logPath, "debug.log"),
		log.InfoLevel:  filepath.Join(logPath, "info.log"),
		log.WarnLevel:  filepath.Join(logPath, "warn.log"),
		log.ErrorLevel: filepath.Join(logPath, "error.log"),
		log.FatalLevel: filepath.Join(logPath, "fatal.log"),
		log.PanicLevel: filepath.Join(logPath, "panic.log"),
	}, &log.JSONFormatter{}))
	return nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() *log.Logger {
	logger := log.New()
	logger.Out = io.Discard
	return logger
}
