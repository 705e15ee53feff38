package db

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDir      = errors.New("db: invalid dir")
	ErrAlreadyExists   = errors.New("db: already exists")
	ErrManifestMissing = errors.New("db: manifest missing")
	ErrManifestInvalid = errors.New("db: manifest invalid")
	ErrInitFailed      = errors.New("db: init failed")
	ErrClosed          = errors.New("db: closed")
	ErrCloseFailed     = errors.New("db: close failed")
	ErrReplayFailed    = errors.New("db: replay failed")
	ErrWALOpenFailed   = errors.New("db: wal open failed")
	ErrTableExists     = errors.New("db: table already exists")
	ErrTableNotFound   = errors.New("db: table not found")
	ErrInvalidTable    = errors.New("db: invalid table definition")
	ErrScanFailed      = errors.New("db: scan failed")
)

// DBError wraps DB-layer failures with stable sentinels for errors.Is,
// while preserving Cause for inspection/logging.
type DBError struct {
	Err error

	// Op describes the operation: "open", "init", "close", "create_table", etc.
	Op string

	// Path is the database directory.
	Path string

	Cause error
}

func (e *DBError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *DBError) Unwrap() error { return e.Err }

func (e *DBError) CauseErr() error { return e.Cause }

func wrapDBErr(op string, sentinel error, path string, cause error) error {
	return &DBError{
		Err:   sentinel,
		Op:    op,
		Path:  path,
		Cause: cause,
	}
}
