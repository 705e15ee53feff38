package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	goulog "github.com/julianstephens/go-utils/logger"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ConsoleLogger writes one line per message: warnings and below to out,
// errors to err.
type ConsoleLogger struct {
	mu       sync.Mutex
	minLevel Level
	out      io.Writer
	err      io.Writer
}

// NewConsoleLogger creates a logger that writes to stdout and stderr.
func NewConsoleLogger(level Level) Logger {
	return &ConsoleLogger{
		minLevel: level,
		out:      os.Stdout,
		err:      os.Stderr,
	}
}

func (cl *ConsoleLogger) Debug(msg string, fields ...interface{}) {
	cl.log(LevelDebug, msg, fields...)
}

func (cl *ConsoleLogger) Info(msg string, fields ...interface{}) {
	cl.log(LevelInfo, msg, fields...)
}

func (cl *ConsoleLogger) Warn(msg string, fields ...interface{}) {
	cl.log(LevelWarn, msg, fields...)
}

// Error is logged at every level.
func (cl *ConsoleLogger) Error(msg string, err error, fields ...interface{}) {
	cl.log(LevelError, msg, append([]interface{}{"error", err}, fields...)...)
}

func (cl *ConsoleLogger) log(level Level, msg string, fields ...interface{}) {
	if level < cl.minLevel {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", time.Now().Format(consoleTimeFormat), strings.ToUpper(level.String()), msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteByte('\n')

	cl.mu.Lock()
	defer cl.mu.Unlock()
	w := cl.out
	if level == LevelError {
		w = cl.err
	}
	_, _ = io.WriteString(w, b.String())
}

// FileConfig configures a rotating file logger.
type FileConfig struct {
	Dir        string
	FileName   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      Level
}

// FileLogger wraps go-utils/logger with rotating file output.
type FileLogger struct {
	underlying *goulog.Logger
	filePath   string
	minLevel   Level
}

// NewFileLogger creates a logger that writes JSON lines to a rotating file.
// Rotated files are compressed.
func NewFileLogger(cfg FileConfig) (Logger, error) {
	if cfg.Dir == "" || cfg.FileName == "" {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, nil, filepath.Join(cfg.Dir, cfg.FileName))
	}
	if err := helpers.Ensure(cfg.Dir, true); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, cfg.Dir)
	}

	logPath := filepath.Join(cfg.Dir, cfg.FileName)
	underlying := goulog.New()
	if err := underlying.SetFileOutputWithConfig(goulog.FileRotationConfig{
		Filename:   logPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, logPath)
	}

	return &FileLogger{
		underlying: underlying,
		filePath:   logPath,
		minLevel:   cfg.Level,
	}, nil
}

// Path returns the active log file.
func (fl *FileLogger) Path() string {
	return fl.filePath
}

func (fl *FileLogger) Debug(msg string, fields ...interface{}) {
	if LevelDebug < fl.minLevel {
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Debug(msg)
}

func (fl *FileLogger) Info(msg string, fields ...interface{}) {
	if LevelInfo < fl.minLevel {
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Info(msg)
}

func (fl *FileLogger) Warn(msg string, fields ...interface{}) {
	if LevelWarn < fl.minLevel {
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Warn(msg)
}

func (fl *FileLogger) Error(msg string, err error, fields ...interface{}) {
	fl.underlying.WithFields(fieldsToMap(append([]interface{}{"error", err}, fields...))).Error(msg)
}

// Close satisfies Closeable. go-utils/logger writes synchronously and has
// nothing to flush.
func (fl *FileLogger) Close() error {
	return nil
}

// fieldsToMap converts key/value pairs to a map. A trailing key without a
// value is dropped.
func fieldsToMap(fields []interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		v := fields[i+1]
		if err, ok := v.(error); ok && err != nil {
			v = err.Error()
		}
		result[fmt.Sprintf("%v", fields[i])] = v
	}
	return result
}

// MultiLogger writes to multiple outputs simultaneously.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger combines multiple loggers into a single logger.
func NewMultiLogger(loggers ...Logger) Logger {
	return &MultiLogger{
		loggers: loggers,
	}
}

func (ml *MultiLogger) Debug(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Debug(msg, fields...)
	}
}

func (ml *MultiLogger) Info(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Info(msg, fields...)
	}
}

func (ml *MultiLogger) Warn(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Warn(msg, fields...)
	}
}

func (ml *MultiLogger) Error(msg string, err error, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Error(msg, err, fields...)
	}
}

// Close closes every Closeable logger and reports the last failure.
func (ml *MultiLogger) Close() error {
	var lastErr error
	for _, lg := range ml.loggers {
		if c, ok := lg.(Closeable); ok {
			if err := c.Close(); err != nil {
				lastErr = err
			}
		}
	}
	if lastErr != nil {
		return wrapLoggerErr("close multi logger", ErrLogClose, lastErr, "")
	}
	return nil
}
