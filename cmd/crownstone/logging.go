package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	l, ok := logLevels[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return l, nil
}

// newLoggerFactory builds the factory shared by every component. With a
// log file configured, output goes to a rotating file instead of stderr.
// The returned func releases the file.
func newLoggerFactory(cfg LogConfig) (*logging.DefaultLoggerFactory, func() error, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level

	if cfg.File == "" {
		lf.Writer = os.Stderr
		return lf, func() error { return nil }, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	lf.Writer = rotator
	return lf, rotator.Close, nil
}
