// Package table defines the record-level contract the transaction core
// consumes from the storage layer: record identifiers, records, the hidden
// stamp field descriptors, and the Table and Catalog collaborators.
package table

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// StampSize is the width of the two hidden stamp fields at the front of a record.
const StampSize = 8

// RID identifies a physical record by page and slot.
type RID struct {
	PageNum int32 `json:"page_num"`
	SlotNum int32 `json:"slot_num"`
}

// Compare orders RIDs by page then slot.
func (r RID) Compare(o RID) int {
	switch {
	case r.PageNum < o.PageNum:
		return -1
	case r.PageNum > o.PageNum:
		return 1
	case r.SlotNum < o.SlotNum:
		return -1
	case r.SlotNum > o.SlotNum:
		return 1
	}
	return 0
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageNum, r.SlotNum)
}

// ParseRID parses the "page:slot" form produced by RID.String.
func ParseRID(s string) (RID, error) {
	page, slot, ok := strings.Cut(s, ":")
	if !ok {
		return RID{}, fmt.Errorf("%w: %q", ErrInvalidRID, s)
	}
	p, err := strconv.ParseInt(page, 10, 32)
	if err != nil || p < 0 {
		return RID{}, fmt.Errorf("%w: %q", ErrInvalidRID, s)
	}
	n, err := strconv.ParseInt(slot, 10, 32)
	if err != nil || n < 0 {
		return RID{}, fmt.Errorf("%w: %q", ErrInvalidRID, s)
	}
	return RID{PageNum: int32(p), SlotNum: int32(n)}, nil
}

// Record is a copy of a physical record. Data includes the hidden stamp fields.
type Record struct {
	RID  RID
	Data []byte
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return &Record{RID: r.RID, Data: data}
}

// FieldMeta describes a fixed-width int32 field inside a record's data.
type FieldMeta struct {
	Name    string `json:"name"`
	Offset  int    `json:"offset"`
	Len     int    `json:"len"`
	Visible bool   `json:"visible"`
}

// Int reads the field from rec. Panics if the record is shorter than the field.
func (f FieldMeta) Int(rec *Record) int32 {
	return int32(binary.LittleEndian.Uint32(rec.Data[f.Offset : f.Offset+f.Len])) //nolint:gosec
}

// SetInt writes v into the field of rec.
func (f FieldMeta) SetInt(rec *Record, v int32) {
	binary.LittleEndian.PutUint32(rec.Data[f.Offset:f.Offset+f.Len], uint32(v)) //nolint:gosec
}

// Meta is the schema information the transaction core needs from a table.
type Meta struct {
	Name      string      `json:"name"`
	TableID   int32       `json:"table_id"`
	DataLen   int         `json:"data_len"`
	SysFields []FieldMeta `json:"sys_fields"`
}

// TrxFields returns the hidden stamp fields, begin first then end.
func (m *Meta) TrxFields() []FieldMeta {
	return m.SysFields
}

// RecordLen is the full record size: stamp fields followed by user data.
func (m *Meta) RecordLen() int {
	n := 0
	for _, f := range m.SysFields {
		if end := f.Offset + f.Len; end > n {
			n = end
		}
	}
	return n + m.DataLen
}

// StampLen is the number of bytes the hidden fields occupy at the front of a record.
func (m *Meta) StampLen() int {
	return m.RecordLen() - m.DataLen
}

// NewRecord builds a record holding payload after zeroed stamp fields.
func (m *Meta) NewRecord(payload []byte) *Record {
	n := m.StampLen()
	data := make([]byte, n+len(payload))
	copy(data[n:], payload)
	return &Record{Data: data}
}

// Payload returns the user data of rec without the stamp fields.
func (m *Meta) Payload(rec *Record) []byte {
	n := m.StampLen()
	if len(rec.Data) < n {
		return nil
	}
	return rec.Data[n:]
}

// RecordVisitor mutates a record in place while the table holds it.
type RecordVisitor func(rec *Record) error

// Table is the storage collaborator for a single table.
type Table interface {
	ID() int32
	Name() string
	Meta() *Meta

	// InsertRecord stores rec and assigns rec.RID.
	InsertRecord(rec *Record) error
	// DeleteRecord physically removes the record.
	DeleteRecord(rid RID) error
	// GetRecord returns a copy of the record.
	GetRecord(rid RID) (*Record, error)
	// RecoverInsertRecord stores rec at rec.RID, skipping normal validation.
	RecoverInsertRecord(rec *Record) error
	// VisitRecord runs visitor against the stored record. The visitor's error
	// is returned unchanged and its mutations are kept only when it succeeds.
	VisitRecord(rid RID, readonly bool, visitor RecordVisitor) error
	// Scan calls fn with a copy of each record in RID order until fn returns false.
	Scan(fn func(rec *Record) bool) error
}

// Catalog resolves tables by id.
type Catalog interface {
	FindTable(tableID int32) (Table, bool)
}
