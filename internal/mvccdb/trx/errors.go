package trx

import (
	"errors"
	"fmt"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
)

var (
	// ErrInvalidArgument reports malformed caller input such as a missing
	// log sink or a table without stamp fields.
	ErrInvalidArgument = errors.New("trx: invalid argument")
	// ErrRecordInvisible means the record version is not visible to the
	// transaction. Read paths skip such records.
	ErrRecordInvisible = errors.New("trx: record invisible")
	// ErrConcurrencyConflict is a write-write conflict. The caller should
	// roll back and retry the whole transaction.
	ErrConcurrencyConflict = errors.New("trx: locked concurrency conflict")
	ErrDuplicateOperation  = errors.New("trx: duplicate operation")
	ErrTableNotFound       = errors.New("trx: table not found")
	ErrUnsupportedEntry    = errors.New("trx: unsupported log entry")
	ErrDuplicateTrxID      = errors.New("trx: duplicate transaction id")
	ErrLogAppend           = errors.New("trx: log append failed")
	ErrInternal            = errors.New("trx: internal error")
)

// TrxError wraps transaction failures with the transaction and record involved.
type TrxError struct {
	Err     error
	Op      string
	TrxID   int32
	TableID int32
	RID     *table.RID
	Cause   error
}

func (e *TrxError) Error() string {
	msg := fmt.Sprintf("%s: %s (trx=%d", e.Op, e.Err.Error(), e.TrxID)
	if e.RID != nil {
		msg += fmt.Sprintf(" table=%d rid=%s", e.TableID, e.RID)
	}
	msg += ")"
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *TrxError) Unwrap() error {
	return e.Err
}

// CauseErr returns the underlying cause (not used by errors.Is).
func (e *TrxError) CauseErr() error { return e.Cause }

func wrapTrxErr(op string, sentinel error, trxID int32, cause error) error {
	return &TrxError{Err: sentinel, Op: op, TrxID: trxID, Cause: cause}
}

func wrapRecordErr(op string, sentinel error, trxID int32, tableID int32, rid table.RID, cause error) error {
	return &TrxError{Err: sentinel, Op: op, TrxID: trxID, TableID: tableID, RID: &rid, Cause: cause}
}

// InvariantError is the panic value raised when in-memory stamps disagree
// with the journal during commit or rollback, or when a finalized commit
// cannot be logged. The process must not continue.
type InvariantError struct {
	Op      string
	TrxID   int32
	TableID int32
	RID     table.RID
	Field   string
	Want    int32
	Have    int32
	Cause   error
}

func (e *InvariantError) Error() string {
	if e.Cause != nil && e.TableID == 0 {
		return fmt.Sprintf("trx: invariant violated during %s: trx=%d: %v", e.Op, e.TrxID, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("trx: invariant violated during %s: trx=%d table=%d rid=%s: %v",
			e.Op, e.TrxID, e.TableID, e.RID, e.Cause)
	}
	return fmt.Sprintf("trx: invariant violated during %s: trx=%d table=%d rid=%s %s=%d want %d",
		e.Op, e.TrxID, e.TableID, e.RID, e.Field, e.Have, e.Want)
}

func (e *InvariantError) Unwrap() error { return ErrInternal }
