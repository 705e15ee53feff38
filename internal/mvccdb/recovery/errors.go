package recovery

import (
	"errors"
	"fmt"

	"github.com/julianstephens/mvccdb/internal/mvccdb/errorutil"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

var (
	ErrSource       = errors.New("recovery: failed to read log")
	ErrDoubleBegin  = errors.New("recovery: begin while transaction active")
	ErrApply        = errors.New("recovery: failed to apply entry")
	ErrResolve      = errors.New("recovery: failed to resolve incomplete transaction")
	ErrInvalidInput = errors.New("recovery: invalid input")
)

// ReplayDecodeError reports a log entry that could not be read or decoded.
// Recovery stops at the first such entry.
type ReplayDecodeError struct {
	*errorutil.Coordinates
	SafeOffset  int64
	DeclaredLen uint32
	EntryKind   record.EntryKind
	Err         error
}

func (e *ReplayDecodeError) Error() string {
	coords := ""
	if e.Coordinates != nil {
		coords = e.FormatCoordinates()
	}
	return fmt.Sprintf("recovery: decode error %s safe_at=%d kind=%s declared_len=%d: %v",
		coords, e.SafeOffset, e.EntryKind, e.DeclaredLen, e.Err,
	)
}

// Unwrap exposes ErrSource alongside the reader's error.
func (e *ReplayDecodeError) Unwrap() []error { return []error{ErrSource, e.Err} }

type ReplayLogicErrorKind int

const (
	ReplayLogicUnknown ReplayLogicErrorKind = iota
	ReplayLogicBegin
	ReplayLogicInsert
	ReplayLogicDelete
	ReplayLogicCommit
	ReplayLogicRollback
	ReplayLogicResolve
)

func (k ReplayLogicErrorKind) String() string {
	switch k {
	case ReplayLogicBegin:
		return "begin"
	case ReplayLogicInsert:
		return "insert"
	case ReplayLogicDelete:
		return "delete"
	case ReplayLogicCommit:
		return "commit"
	case ReplayLogicRollback:
		return "rollback"
	case ReplayLogicResolve:
		return "resolve"
	default:
		return "unknown"
	}
}

func logicKind(k record.EntryKind) ReplayLogicErrorKind {
	switch k {
	case record.KindBegin:
		return ReplayLogicBegin
	case record.KindInsert:
		return ReplayLogicInsert
	case record.KindDelete:
		return ReplayLogicDelete
	case record.KindCommit:
		return ReplayLogicCommit
	case record.KindRollback:
		return ReplayLogicRollback
	default:
		return ReplayLogicUnknown
	}
}

// ReplayLogicError reports a well-formed entry that could not be applied.
type ReplayLogicError struct {
	*errorutil.Coordinates
	Kind  ReplayLogicErrorKind
	Err   error
	Cause error
}

func (e *ReplayLogicError) Error() string {
	coords := ""
	if e.Coordinates != nil {
		coords = e.FormatCoordinates()
	}
	msg := fmt.Sprintf("%v: %s %s", e.Err, e.Kind, coords)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns both the recovery sentinel and the cause so callers can
// match either.
func (e *ReplayLogicError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
