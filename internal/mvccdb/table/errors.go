package table

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound = errors.New("table: record not found")
	ErrRecordExists   = errors.New("table: record already exists")
	ErrRecordSize     = errors.New("table: record size mismatch")
	ErrInvalidRID     = errors.New("table: invalid rid")
)

// RecordError wraps record-level failures with the table and RID involved.
type RecordError struct {
	Err     error
	Op      string
	TableID int32
	RID     RID
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %s (table=%d rid=%s)", e.Op, e.Err.Error(), e.TableID, e.RID)
}

func (e *RecordError) Unwrap() error { return e.Err }
