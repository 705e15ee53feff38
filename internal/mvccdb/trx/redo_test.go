package trx_test

import (
	"errors"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
	"github.com/julianstephens/mvccdb/internal/testutil"
)

func TestRedoInsertCommit(t *testing.T) {
	sink := testutil.NewRecordingSink()
	mgr := trx.NewManager(sink, nil)
	tbl := testutil.NewTable(1, "tableA")
	cat := testutil.NewCatalog(tbl)
	rid := table.RID{PageNum: 1, SlotNum: 2}

	tx, err := mgr.CreateRecovered(5)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx.Redo(cat, record.NewRecord(record.KindInsert, 5, 1, rid, testutil.NewRecord("P").Data)))

	stored, err := tbl.GetRecord(rid)
	tst.RequireNoError(t, err)
	begin, _ := testutil.Stamps(stored)
	tst.AssertEqual(t, begin, int32(-5), "redo stamps as a live insert")

	tst.RequireNoError(t, tx.Redo(cat, record.NewCommit(5, 6)))
	stored, err = tbl.GetRecord(rid)
	tst.RequireNoError(t, err)
	begin, end := testutil.Stamps(stored)
	tst.AssertEqual(t, begin, int32(6), "commit finalizes with the logged commit id")
	tst.AssertEqual(t, end, trx.MaxXID, "record is live")
	tst.AssertEqual(t, testutil.Payload(stored), "P", "payload comes from the log")
	tst.AssertEqual(t, mgr.CurrentID(), int32(6), "commit id raises the counter")
	tst.AssertEqual(t, len(sink.Entries()), 0, "redo never logs")
}

func TestRedoDataOffset(t *testing.T) {
	mgr := trx.NewManager(nil, nil)
	tbl := testutil.NewTable(1, "t")
	rid := table.RID{PageNum: 1, SlotNum: 0}

	tx, err := mgr.CreateRecovered(2)
	tst.RequireNoError(t, err)
	e := record.NewRecord(record.KindInsert, 2, 1, rid, append([]byte("zz"), testutil.NewRecord("Q").Data...))
	e.Record.DataOffset = 2
	tst.RequireNoError(t, tx.Redo(testutil.NewCatalog(tbl), e))

	stored, err := tbl.GetRecord(rid)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, testutil.Payload(stored), "Q", "image starts at the data offset")
}

func TestRedoDeleteThenRollback(t *testing.T) {
	mgr := trx.NewManager(nil, nil)
	tbl := testutil.NewTable(1, "t")
	cat := testutil.NewCatalog(tbl)
	rid := table.RID{PageNum: 1, SlotNum: 0}

	creator, err := mgr.CreateRecovered(1)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, creator.Redo(cat, record.NewRecord(record.KindInsert, 1, 1, rid, testutil.NewRecord("R").Data)))
	tst.RequireNoError(t, creator.Redo(cat, record.NewCommit(1, 2)))

	deleter, err := mgr.CreateRecovered(3)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, deleter.Redo(cat, record.NewRecord(record.KindDelete, 3, 1, rid, testutil.NewRecord("R").Data)))

	stored, err := tbl.GetRecord(rid)
	tst.RequireNoError(t, err)
	_, end := testutil.Stamps(stored)
	tst.AssertEqual(t, end, int32(-3), "redo stamps the delete")

	tst.RequireNoError(t, deleter.Redo(cat, record.NewRollback(3)))
	stored, err = tbl.GetRecord(rid)
	tst.RequireNoError(t, err)
	_, end = testutil.Stamps(stored)
	tst.AssertEqual(t, end, trx.MaxXID, "rollback restores the end stamp")
}

func TestRedoErrors(t *testing.T) {
	mgr := trx.NewManager(nil, nil)
	tbl := testutil.NewTable(1, "t")
	cat := testutil.NewCatalog(tbl)
	rid := table.RID{PageNum: 1, SlotNum: 0}
	image := testutil.NewRecord("S").Data

	tx, err := mgr.CreateRecovered(4)
	tst.RequireNoError(t, err)

	err = tx.Redo(cat, record.NewRecord(record.KindInsert, 4, 99, rid, image))
	tst.AssertTrue(t, errors.Is(err, trx.ErrTableNotFound), "unknown table")

	err = tx.Redo(cat, record.NewBegin(4))
	tst.AssertTrue(t, errors.Is(err, trx.ErrUnsupportedEntry), "BEGIN is not redone by a trx")

	err = tx.Redo(cat, record.NewRollback(8))
	tst.AssertTrue(t, errors.Is(err, trx.ErrInvalidArgument), "entry for another trx")

	tst.RequireNoError(t, tx.Redo(cat, record.NewRecord(record.KindInsert, 4, 1, rid, image)))
	err = tx.Redo(cat, record.NewRecord(record.KindInsert, 4, 1, rid, image))
	tst.AssertTrue(t, errors.Is(err, trx.ErrDuplicateOperation), "same insert twice")

	live := trx.NewManager(testutil.NewRecordingSink(), nil).Create()
	err = live.Redo(cat, record.NewBegin(0))
	tst.AssertTrue(t, errors.Is(err, trx.ErrInvalidArgument), "redo requires a recovering trx")
}
