// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/babyfoot-reservation/internal/config"
)

// Setup applies cfg to the standard logrus logger and returns it.  When
// cfg.Dir is set, output also goes to <Dir>/<service>.log; the returned
// closer closes that file and is a no-op otherwise.
func Setup(cfg config.LogConfig, service string) (*log.Logger, io.Closer, error) {
	logger := log.StandardLogger()
	if err := Configure(logger, cfg, os.Stdout); err != nil {
		return nil, nil, err
	}
	if cfg.Dir == "" {
		return logger, io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log folder: %w", err)
	}
	path := filepath.Join(cfg.Dir, service+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	logger.Infof("log to file started for service: %s", service)
	return logger, file, nil
}

// Configure sets level, formatter and output on logger.
func Configure(logger *log.Logger, cfg config.LogConfig, out io.Writer) error {
	level, err := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)
	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", cfg.Format)
	}
	logger.SetOutput(out)
	return nil
}
