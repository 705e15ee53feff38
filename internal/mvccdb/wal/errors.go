package wal

import (
	"errors"
	"fmt"

	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

var (
	// Programmer / caller error
	ErrInvalidEntry = errors.New("wal: invalid entry")

	// I/O layer failures
	ErrAppendFailed   = errors.New("wal: append failed")
	ErrShortWrite     = errors.New("wal: short write")
	ErrFlushFailed    = errors.New("wal: flush failed")
	ErrSyncFailed     = errors.New("wal: fsync failed")
	ErrCloseFailed    = errors.New("wal: close failed")
	ErrTruncateFailed = errors.New("wal: truncate failed")

	// Construction / lifecycle errors
	ErrNilSegmentFile = errors.New("wal: nil segment file")
	ErrClosedWriter   = errors.New("wal: segment appender closed")
)

type SegmentAppendError struct {
	Err    error
	Cause  error // underlying error, if any
	Offset int64 // offset where write was attempted
	Kind   record.EntryKind
	Have   int // bytes written (if short write)
	Want   int // bytes expected
}

func (e *SegmentAppendError) Error() string {
	if e.Cause == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Err.Error(), e.Cause)
}
func (e *SegmentAppendError) Unwrap() error { return e.Err }

// CauseErr returns the underlying cause (not used by errors.Is).
func (e *SegmentAppendError) CauseErr() error { return e.Cause }

var (
	ErrLogClosed       = errors.New("wal: log closed")
	ErrNoSegments      = errors.New("wal: no segments")
	ErrSegmentNotFound = errors.New("wal: segment not found")
	ErrSegmentList     = errors.New("wal: list segments failed")
	ErrSegmentOpen     = errors.New("wal: open segment failed")
	ErrSegmentCreate   = errors.New("wal: create segment failed")
	ErrSegmentRotate   = errors.New("wal: rotate segment failed")
	ErrSegmentClose    = errors.New("wal: close segment failed")
	ErrSegmentFlush    = errors.New("wal: flush segment failed")
	ErrSegmentSync     = errors.New("wal: fsync segment failed")
	ErrSegmentOrder    = errors.New("wal: segment ids out of order")
	ErrSegmentCorrupt  = errors.New("wal: corrupt entry in sealed segment")
	ErrInvalidWALDir   = errors.New("wal: invalid wal dir")
)

// LogError wraps log-level failures with context.
// It preserves a stable sentinel in Err so callers can errors.Is against it.
type LogError struct {
	Err error

	Dir   string
	SegID uint64

	// Op is a short label for where the error occurred:
	// "open", "append", "flush", "fsync", "rotate", "close", "list", etc.
	Op string

	Cause error
}

func (e *LogError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *LogError) Unwrap() error {
	return e.Err
}

// CauseErr returns the underlying cause (not used by errors.Is).
func (e *LogError) CauseErr() error { return e.Cause }

func logClosed(dir string) error {
	return &LogError{
		Err: ErrLogClosed,
		Dir: dir,
		Op:  "log",
	}
}

func wrapLogErr(op string, sentinel error, dir string, segID uint64, cause error) error {
	return &LogError{
		Err:   sentinel,
		Dir:   dir,
		SegID: segID,
		Op:    op,
		Cause: cause,
	}
}
