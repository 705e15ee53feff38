package record

import (
	"fmt"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
)

// EntryKind tags a log entry.
type EntryKind uint8

const (
	KindUnknown EntryKind = iota
	KindBegin
	KindCommit
	KindRollback
	KindInsert
	KindDelete
)

func (k EntryKind) String() string {
	switch k {
	case KindBegin:
		return "BEGIN"
	case KindCommit:
		return "COMMIT"
	case KindRollback:
		return "ROLLBACK"
	case KindInsert:
		return "INSERT"
	case KindDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the five entry kinds.
func (k EntryKind) Valid() bool {
	return k >= KindBegin && k <= KindDelete
}

// IsRecord reports whether entries of this kind carry a RecordEntry.
func (k EntryKind) IsRecord() bool {
	return k == KindInsert || k == KindDelete
}

// Header is the fixed-size prefix of every frame.
type Header struct {
	PayloadLen uint32    `json:"payload_len"`
	Kind       EntryKind `json:"kind"`
	TrxID      int32     `json:"trx_id"`
}

// FramedEntry is a raw frame read from log storage.
type FramedEntry struct {
	Header  Header `json:"header"`
	Payload []byte `json:"payload"`
	CRC     uint32 `json:"crc"`
	// Offset is the byte offset of the frame within its segment
	Offset int64 `json:"offset"`
	// Size is the full encoded size of the frame
	Size int64 `json:"size"`
}

// RecordEntry is the payload of INSERT and DELETE entries.
type RecordEntry struct {
	TableID    int32     `json:"table_id"`
	RID        table.RID `json:"rid"`
	DataOffset uint32    `json:"data_offset"`
	Data       []byte    `json:"data"`
}

// RecordData returns the record image starting at DataOffset.
func (r RecordEntry) RecordData() []byte {
	if int(r.DataOffset) > len(r.Data) {
		return nil
	}
	return r.Data[r.DataOffset:]
}

// Entry is a decoded log entry. CommitXID is set only for KindCommit and
// Record only for KindInsert and KindDelete.
type Entry struct {
	Kind      EntryKind   `json:"kind"`
	TrxID     int32       `json:"trx_id"`
	CommitXID int32       `json:"commit_xid,omitempty"`
	Record    RecordEntry `json:"record"`
}

func (e Entry) String() string {
	switch e.Kind {
	case KindCommit:
		return fmt.Sprintf("%s trx=%d commit_xid=%d", e.Kind, e.TrxID, e.CommitXID)
	case KindInsert, KindDelete:
		return fmt.Sprintf("%s trx=%d table=%d rid=%s len=%d",
			e.Kind, e.TrxID, e.Record.TableID, e.Record.RID, len(e.Record.Data))
	default:
		return fmt.Sprintf("%s trx=%d", e.Kind, e.TrxID)
	}
}

// NewBegin builds a BEGIN entry.
func NewBegin(trxID int32) Entry {
	return Entry{Kind: KindBegin, TrxID: trxID}
}

// NewCommit builds a COMMIT entry.
func NewCommit(trxID, commitXID int32) Entry {
	return Entry{Kind: KindCommit, TrxID: trxID, CommitXID: commitXID}
}

// NewRollback builds a ROLLBACK entry.
func NewRollback(trxID int32) Entry {
	return Entry{Kind: KindRollback, TrxID: trxID}
}

// NewRecord builds an INSERT or DELETE entry carrying the full record image.
func NewRecord(kind EntryKind, trxID, tableID int32, rid table.RID, data []byte) Entry {
	return Entry{
		Kind:  kind,
		TrxID: trxID,
		Record: RecordEntry{
			TableID: tableID,
			RID:     rid,
			Data:    data,
		},
	}
}
