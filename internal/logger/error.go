package logger

import (
	"errors"
	"fmt"
)

var (
	ErrLogCreate    = errors.New("logger: create error")
	ErrLogClose     = errors.New("logger: close error")
	ErrInvalidLevel = errors.New("logger: invalid level")
)

type LoggerError struct {
	Op    string // operation being performed, e.g., "create file logger"
	Err   error  // sentinel
	Cause error  // optional cause error for more context
	Path  string // optional path or value related to the error
}

func (e *LoggerError) Error() string {
	msg := e.Op + " error: " + e.Err.Error()
	if e.Path != "" {
		msg = e.Op + " error on " + e.Path + ": " + e.Err.Error()
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *LoggerError) Unwrap() error {
	return e.Err
}

func (e *LoggerError) CauseErr() error { return e.Cause }

func wrapLoggerErr(op string, err, cause error, path string) error {
	return &LoggerError{
		Op:    op,
		Err:   err,
		Cause: cause,
		Path:  path,
	}
}
