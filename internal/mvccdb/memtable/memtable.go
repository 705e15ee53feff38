// Package memtable is an in-memory table.Table. Records are kept in a B-tree
// ordered by RID; slots are handed out sequentially, SlotsPerPage per page.
package memtable

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
)

const (
	SlotsPerPage  int32 = 64
	FirstPageNum  int32 = 1
	btreeDegree         = 32
	minRecordSize       = 1
)

type slot struct {
	rid  table.RID
	data []byte
}

func slotLess(a, b *slot) bool {
	return a.rid.Compare(b.rid) < 0
}

// Table is an in-memory table keyed by RID.
type Table struct {
	mu   sync.RWMutex
	meta *table.Meta
	tree *btree.BTreeG[*slot]

	// next RID to hand out
	next table.RID
}

var _ table.Table = (*Table)(nil)

// New creates an empty table with the given metadata.
func New(meta *table.Meta) *Table {
	return &Table{
		meta: meta,
		tree: btree.NewBTreeGOptions(slotLess, btree.Options{Degree: btreeDegree, NoLocks: true}),
		next: table.RID{PageNum: FirstPageNum, SlotNum: 0},
	}
}

func (t *Table) ID() int32         { return t.meta.TableID }
func (t *Table) Name() string      { return t.meta.Name }
func (t *Table) Meta() *table.Meta { return t.meta }

// Len returns the number of physical records, including invisible versions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

// InsertRecord stores a copy of rec at the next free RID and sets rec.RID.
func (t *Table) InsertRecord(rec *table.Record) error {
	if err := t.validateSize(rec); err != nil {
		return &table.RecordError{Err: err, Op: "insert", TableID: t.ID(), RID: rec.RID}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rid := t.allocLocked()
	t.tree.Set(&slot{rid: rid, data: cloneBytes(rec.Data)})
	rec.RID = rid
	return nil
}

// RecoverInsertRecord stores rec at rec.RID, replacing whatever is there.
func (t *Table) RecoverInsertRecord(rec *table.Record) error {
	if len(rec.Data) < minRecordSize {
		return &table.RecordError{Err: table.ErrRecordSize, Op: "recover_insert", TableID: t.ID(), RID: rec.RID}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.tree.Set(&slot{rid: rec.RID, data: cloneBytes(rec.Data)})
	if rec.RID.Compare(t.next) >= 0 {
		t.next = rec.RID
		t.advanceLocked()
	}
	return nil
}

// DeleteRecord physically removes the record at rid.
func (t *Table) DeleteRecord(rid table.RID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tree.Delete(&slot{rid: rid}); !ok {
		return &table.RecordError{Err: table.ErrRecordNotFound, Op: "delete", TableID: t.ID(), RID: rid}
	}
	return nil
}

// GetRecord returns a copy of the record at rid.
func (t *Table) GetRecord(rid table.RID) (*table.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.tree.Get(&slot{rid: rid})
	if !ok {
		return nil, &table.RecordError{Err: table.ErrRecordNotFound, Op: "get", TableID: t.ID(), RID: rid}
	}
	return &table.Record{RID: rid, Data: cloneBytes(s.data)}, nil
}

// VisitRecord runs visitor on a working copy of the record and stores the copy
// back if visitor succeeds and the visit is not readonly. The whole visit runs
// under the table lock, so a check-then-stamp visitor is atomic.
func (t *Table) VisitRecord(rid table.RID, readonly bool, visitor table.RecordVisitor) error {
	if readonly {
		t.mu.RLock()
		defer t.mu.RUnlock()
	} else {
		t.mu.Lock()
		defer t.mu.Unlock()
	}

	s, ok := t.tree.Get(&slot{rid: rid})
	if !ok {
		return &table.RecordError{Err: table.ErrRecordNotFound, Op: "visit", TableID: t.ID(), RID: rid}
	}

	work := &table.Record{RID: rid, Data: cloneBytes(s.data)}
	if err := visitor(work); err != nil {
		return err
	}
	if !readonly {
		s.data = work.Data
	}
	return nil
}

// Scan calls fn with a copy of each record in RID order.
func (t *Table) Scan(fn func(rec *table.Record) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.tree.Scan(func(s *slot) bool {
		return fn(&table.Record{RID: s.rid, Data: cloneBytes(s.data)})
	})
	return nil
}

func (t *Table) validateSize(rec *table.Record) error {
	want := t.meta.RecordLen()
	if len(rec.Data) < minRecordSize || len(rec.Data) < want {
		return table.ErrRecordSize
	}
	if t.meta.DataLen > 0 && len(rec.Data) != want {
		return table.ErrRecordSize
	}
	return nil
}

func (t *Table) allocLocked() table.RID {
	rid := t.next
	t.advanceLocked()
	return rid
}

func (t *Table) advanceLocked() {
	t.next.SlotNum++
	if t.next.SlotNum >= SlotsPerPage {
		t.next.PageNum++
		t.next.SlotNum = 0
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
