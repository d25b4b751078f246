// Package logging installs the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func ParseLevel(s string) (log.Level, error) {
	lvl, ok := logLevelMap[strings.ToLower(s)]
	if !ok {
		return log.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup sets the default logger: colored tint output on stdout, plus a
// rotating plain-text file when file is not empty. The returned closer
// releases the file.
func Setup(level, file string) (io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	if file == "" {
		log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})))
		return nopCloser{}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
	}

	log.SetDefault(log.New(tint.NewHandler(io.MultiWriter(os.Stdout, rotator), &tint.Options{
		Level:      lvl,
		TimeFormat: time.DateTime,
		NoColor:    true,
	})))
	return rotator, nil
}
