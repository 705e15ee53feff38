package trx

import (
	"errors"
	"slices"

	"github.com/julianstephens/mvccdb/internal/mvccdb/metrics"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

// Trx is a single transaction. It must be used from one goroutine at a time.
type Trx struct {
	mgr  *Manager
	sink LogSink

	id         int32
	started    bool
	recovering bool
	journal    journal
}

func (t *Trx) ID() int32        { return t.id }
func (t *Trx) Started() bool    { return t.started }
func (t *Trx) Recovering() bool { return t.recovering }

// Operations returns a copy of the journal in order.
func (t *Trx) Operations() []Operation {
	return slices.Clone(t.journal.ops)
}

// StartIfNeed allocates an id, logs BEGIN and registers the transaction.
// It does nothing if the transaction is already started.
func (t *Trx) StartIfNeed() error {
	if t.started {
		return nil
	}
	if t.journal.len() != 0 {
		panic(&InvariantError{Op: "start", TrxID: t.id, Cause: errors.New("journal not empty")})
	}
	if t.sink == nil {
		return wrapTrxErr("start", ErrInvalidArgument, t.id, errors.New("no log sink"))
	}

	oldID := t.id
	id := t.mgr.NextID()
	if err := t.sink.AppendBegin(id); err != nil {
		return wrapTrxErr("start", ErrLogAppend, id, err)
	}
	t.id = id
	if err := t.mgr.register(t, oldID); err != nil {
		return err
	}
	t.started = true
	t.mgr.lg.Debug("trx started", "trx", id)
	return nil
}

// Visit reports whether rec is visible to t. It returns nil,
// ErrRecordInvisible or, for a non-readonly visit of a record another
// transaction is deleting, ErrConcurrencyConflict.
func (t *Trx) Visit(tbl table.Table, rec *table.Record, readonly bool) error {
	fields, err := stampFields(tbl, rec)
	if err != nil {
		return wrapTrxErr("visit", ErrInvalidArgument, t.id, err)
	}
	return t.visit(fields, rec, readonly)
}

func (t *Trx) visit(fields []table.FieldMeta, rec *table.Record, readonly bool) error {
	begin := fields[0].Int(rec)
	end := fields[1].Int(rec)

	switch {
	case begin < 0:
		if begin != -t.id {
			return ErrRecordInvisible
		}
	case end < 0:
		if !readonly {
			return ErrConcurrencyConflict
		}
		if end == -t.id {
			return ErrRecordInvisible
		}
	default:
		if begin > t.id || (end != MaxXID && end <= t.id) {
			return ErrRecordInvisible
		}
	}
	return nil
}

// Insert stamps rec as an uncommitted insert by t and stores it. The table
// assigns rec.RID.
func (t *Trx) Insert(tbl table.Table, rec *table.Record) error {
	if err := t.StartIfNeed(); err != nil {
		return err
	}
	fields, err := stampFields(tbl, rec)
	if err != nil {
		return wrapTrxErr("insert", ErrInvalidArgument, t.id, err)
	}

	fields[0].SetInt(rec, -t.id)
	fields[1].SetInt(rec, MaxXID)

	if err := tbl.InsertRecord(rec); err != nil {
		sentinel := ErrInternal
		if errors.Is(err, table.ErrRecordSize) {
			sentinel = ErrInvalidArgument
		}
		return wrapRecordErr("insert", sentinel, t.id, tbl.ID(), rec.RID, err)
	}

	if !t.journal.add(Operation{Kind: OpInsert, Table: tbl, RID: rec.RID}) {
		return wrapRecordErr("insert", ErrDuplicateOperation, t.id, tbl.ID(), rec.RID, nil)
	}

	if !t.recovering {
		if err := t.sink.AppendRecord(record.KindInsert, t.id, tbl.ID(), rec.RID, rec.Data); err != nil {
			return wrapRecordErr("insert", ErrLogAppend, t.id, tbl.ID(), rec.RID, err)
		}
	}
	return nil
}

// Delete stamps the record at rec.RID as deleted by t. The visibility check
// and the stamp happen under the table's record visitor, so of two
// concurrent deleters exactly one succeeds. rec is updated with the stamped
// image.
func (t *Trx) Delete(tbl table.Table, rec *table.Record) error {
	if err := t.StartIfNeed(); err != nil {
		return err
	}
	fields := tbl.Meta().TrxFields()
	if len(fields) < 2 {
		return wrapRecordErr("delete", ErrInvalidArgument, t.id, tbl.ID(), rec.RID, errNoStampFields)
	}

	var image []byte
	err := tbl.VisitRecord(rec.RID, false, func(stored *table.Record) error {
		if err := checkStampLen(fields, stored); err != nil {
			return err
		}
		if err := t.visit(fields, stored, false); err != nil {
			return err
		}
		fields[1].SetInt(stored, -t.id)
		image = slices.Clone(stored.Data)
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrConcurrencyConflict):
		metrics.TrxTotal.WithLabelValues(metrics.OutcomeConflict).Inc()
		return wrapRecordErr("delete", ErrConcurrencyConflict, t.id, tbl.ID(), rec.RID, nil)
	case errors.Is(err, ErrRecordInvisible):
		return wrapRecordErr("delete", ErrRecordInvisible, t.id, tbl.ID(), rec.RID, nil)
	default:
		return wrapRecordErr("delete", ErrInvalidArgument, t.id, tbl.ID(), rec.RID, err)
	}
	rec.Data = image

	if !t.journal.add(Operation{Kind: OpDelete, Table: tbl, RID: rec.RID}) {
		return wrapRecordErr("delete", ErrDuplicateOperation, t.id, tbl.ID(), rec.RID, nil)
	}

	if !t.recovering {
		if err := t.sink.AppendRecord(record.KindDelete, t.id, tbl.ID(), rec.RID, image); err != nil {
			return wrapRecordErr("delete", ErrLogAppend, t.id, tbl.ID(), rec.RID, err)
		}
	}
	return nil
}

// Commit draws a commit id and finalizes every journaled stamp with it.
// Commit of a transaction that never started is a no-op. Commit panics with
// *InvariantError if the COMMIT entry cannot be made durable, since the
// finalized stamps cannot be taken back.
func (t *Trx) Commit() error {
	if !t.started {
		return nil
	}
	return t.commitWithXID(t.mgr.NextID())
}

func (t *Trx) commitWithXID(commitXID int32) error {
	t.started = false

	if t.recovering {
		t.mgr.UpdateID(commitXID)
	}

	for _, op := range t.journal.ops {
		fields := op.Table.Meta().TrxFields()
		field := fields[0]
		if op.Kind == OpDelete {
			field = fields[1]
		}
		err := op.Table.VisitRecord(op.RID, false, func(stored *table.Record) error {
			t.mustHaveStamp("commit", op, field, stored, -t.id)
			field.SetInt(stored, commitXID)
			return nil
		})
		if err != nil {
			panic(&InvariantError{Op: "commit", TrxID: t.id, TableID: op.Table.ID(), RID: op.RID, Cause: err})
		}
	}
	t.journal.clear()

	if !t.recovering {
		if err := t.sink.AppendCommit(t.id, commitXID); err != nil {
			panic(&InvariantError{Op: "commit", TrxID: t.id, Cause: wrapTrxErr("commit", ErrLogAppend, t.id, err)})
		}
		metrics.TrxTotal.WithLabelValues(metrics.OutcomeCommit).Inc()
	}
	t.mgr.lg.Debug("trx committed", "trx", t.id, "commit_xid", commitXID, "recovering", t.recovering)
	return nil
}

// Rollback undoes every journaled stamp: inserted records are removed and
// deleted records get their end stamp back.
func (t *Trx) Rollback() error {
	if !t.started && t.journal.len() == 0 {
		return nil
	}
	t.started = false

	removed := make(map[opKey]struct{})
	for _, op := range t.journal.ops {
		fields := op.Table.Meta().TrxFields()
		switch op.Kind {
		case OpInsert:
			stored, err := op.Table.GetRecord(op.RID)
			if err != nil {
				panic(&InvariantError{Op: "rollback", TrxID: t.id, TableID: op.Table.ID(), RID: op.RID, Cause: err})
			}
			t.mustHaveStamp("rollback", op, fields[0], stored, -t.id)
			if err := op.Table.DeleteRecord(op.RID); err != nil {
				panic(&InvariantError{Op: "rollback", TrxID: t.id, TableID: op.Table.ID(), RID: op.RID, Cause: err})
			}
			removed[opKey{kind: OpDelete, tableID: op.Table.ID(), rid: op.RID}] = struct{}{}
		case OpDelete:
			// the record was our own insert and is already gone
			if _, ok := removed[op.key()]; ok {
				continue
			}
			err := op.Table.VisitRecord(op.RID, false, func(stored *table.Record) error {
				t.mustHaveStamp("rollback", op, fields[1], stored, -t.id)
				fields[1].SetInt(stored, MaxXID)
				return nil
			})
			if err != nil {
				panic(&InvariantError{Op: "rollback", TrxID: t.id, TableID: op.Table.ID(), RID: op.RID, Cause: err})
			}
		}
	}
	t.journal.clear()

	if !t.recovering {
		if err := t.sink.AppendRollback(t.id); err != nil {
			return wrapTrxErr("rollback", ErrLogAppend, t.id, err)
		}
		metrics.TrxTotal.WithLabelValues(metrics.OutcomeRollback).Inc()
	}
	t.mgr.lg.Debug("trx rolled back", "trx", t.id, "recovering", t.recovering)
	return nil
}

// Redo re-applies one log entry during recovery. INSERT and DELETE rebuild
// the physical effect from the logged image and journal it; COMMIT and
// ROLLBACK finalize through the same paths used at runtime.
func (t *Trx) Redo(cat table.Catalog, e record.Entry) error {
	if !t.recovering {
		return wrapTrxErr("redo", ErrInvalidArgument, t.id, errors.New("transaction is not recovering"))
	}
	if e.TrxID != t.id {
		return wrapTrxErr("redo", ErrInvalidArgument, t.id, errors.New("entry belongs to another transaction"))
	}

	switch e.Kind {
	case record.KindInsert:
		tbl, ok := cat.FindTable(e.Record.TableID)
		if !ok {
			return wrapRecordErr("redo_insert", ErrTableNotFound, t.id, e.Record.TableID, e.Record.RID, nil)
		}
		rec := &table.Record{RID: e.Record.RID, Data: slices.Clone(e.Record.RecordData())}
		fields, err := stampFields(tbl, rec)
		if err != nil {
			return wrapRecordErr("redo_insert", ErrInternal, t.id, tbl.ID(), rec.RID, err)
		}
		fields[0].SetInt(rec, -t.id)
		fields[1].SetInt(rec, MaxXID)

		if err := tbl.RecoverInsertRecord(rec); err != nil {
			return wrapRecordErr("redo_insert", ErrInternal, t.id, tbl.ID(), rec.RID, err)
		}
		if !t.journal.add(Operation{Kind: OpInsert, Table: tbl, RID: rec.RID}) {
			return wrapRecordErr("redo_insert", ErrDuplicateOperation, t.id, tbl.ID(), rec.RID, nil)
		}

	case record.KindDelete:
		tbl, ok := cat.FindTable(e.Record.TableID)
		if !ok {
			return wrapRecordErr("redo_delete", ErrTableNotFound, t.id, e.Record.TableID, e.Record.RID, nil)
		}
		fields := tbl.Meta().TrxFields()
		if len(fields) < 2 {
			return wrapRecordErr("redo_delete", ErrInternal, t.id, tbl.ID(), e.Record.RID, errNoStampFields)
		}
		err := tbl.VisitRecord(e.Record.RID, false, func(stored *table.Record) error {
			if err := checkStampLen(fields, stored); err != nil {
				return err
			}
			fields[1].SetInt(stored, -t.id)
			return nil
		})
		if err != nil {
			return wrapRecordErr("redo_delete", ErrInternal, t.id, tbl.ID(), e.Record.RID, err)
		}
		if !t.journal.add(Operation{Kind: OpDelete, Table: tbl, RID: e.Record.RID}) {
			return wrapRecordErr("redo_delete", ErrDuplicateOperation, t.id, tbl.ID(), e.Record.RID, nil)
		}

	case record.KindCommit:
		return t.commitWithXID(e.CommitXID)

	case record.KindRollback:
		return t.Rollback()

	default:
		return wrapTrxErr("redo", ErrUnsupportedEntry, t.id, errors.New(e.Kind.String()))
	}
	return nil
}

func (t *Trx) mustHaveStamp(op string, jop Operation, field table.FieldMeta, rec *table.Record, want int32) {
	if have := field.Int(rec); have != want {
		panic(&InvariantError{
			Op:      op,
			TrxID:   t.id,
			TableID: jop.Table.ID(),
			RID:     jop.RID,
			Field:   field.Name,
			Want:    want,
			Have:    have,
		})
	}
}

var errNoStampFields = errors.New("table has no stamp fields")

func stampFields(tbl table.Table, rec *table.Record) ([]table.FieldMeta, error) {
	fields := tbl.Meta().TrxFields()
	if len(fields) < 2 {
		return nil, errNoStampFields
	}
	if err := checkStampLen(fields, rec); err != nil {
		return nil, err
	}
	return fields, nil
}

func checkStampLen(fields []table.FieldMeta, rec *table.Record) error {
	for _, f := range fields[:2] {
		if f.Offset+f.Len > len(rec.Data) {
			return &table.RecordError{Err: table.ErrRecordSize, Op: "stamp", RID: rec.RID}
		}
	}
	return nil
}
