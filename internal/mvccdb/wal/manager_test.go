package wal_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

func collect(t *testing.T, it *wal.Iterator) []record.Entry {
	t.Helper()
	defer it.Close() //nolint:errcheck
	var out []record.Entry
	for {
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		tst.RequireNoError(t, err)
		out = append(out, e)
	}
}

func TestManagerAppendAndIterate(t *testing.T) {
	mgr, err := wal.OpenManager(t.TempDir(), wal.ManagerOpts{FsyncOnCommit: true}, nil)
	tst.RequireNoError(t, err)
	defer mgr.Close() //nolint:errcheck

	rid := table.RID{PageNum: 1, SlotNum: 2}
	tst.RequireNoError(t, mgr.AppendBegin(5))
	tst.RequireNoError(t, mgr.AppendRecord(record.KindInsert, 5, 3, rid, []byte("P")))
	tst.RequireNoError(t, mgr.AppendRecord(record.KindDelete, 5, 3, rid, []byte("P")))
	tst.RequireNoError(t, mgr.AppendCommit(5, 6))
	tst.RequireNoError(t, mgr.AppendBegin(7))
	tst.RequireNoError(t, mgr.AppendRollback(7))

	it, err := mgr.Iterator()
	tst.RequireNoError(t, err)
	got := collect(t, it)

	kinds := make([]record.EntryKind, 0, len(got))
	for _, e := range got {
		kinds = append(kinds, e.Kind)
	}
	tst.RequireDeepEqual(t, kinds, []record.EntryKind{
		record.KindBegin, record.KindInsert, record.KindDelete,
		record.KindCommit, record.KindBegin, record.KindRollback,
	})
	tst.AssertEqual(t, got[1].Record.TableID, int32(3), "table id should round trip")
	tst.AssertDeepEqual(t, got[1].Record.RID, rid, "rid should round trip")
	tst.AssertEqual(t, got[3].CommitXID, int32(6), "commit xid should round trip")
	tst.AssertEqual(t, got[4].TrxID, int32(7), "trx id should round trip")
}

func TestManagerCommitIsDurableBeforeClose(t *testing.T) {
	dir := t.TempDir()
	mgr, err := wal.OpenManager(dir, wal.ManagerOpts{}, nil)
	tst.RequireNoError(t, err)
	defer mgr.Close() //nolint:errcheck

	tst.RequireNoError(t, mgr.AppendBegin(1))
	tst.RequireNoError(t, mgr.AppendCommit(1, 2))

	// read the file directly, bypassing the manager
	got := readAllEntries(t, filepath.Join(dir, wal.SegmentFileName(wal.FirstSegmentID)))
	tst.RequireDeepEqual(t, len(got), 2)
	tst.AssertEqual(t, got[1].Kind, record.KindCommit, "commit should be on disk")
}

func TestManagerRejectsInvalidRecords(t *testing.T) {
	mgr, err := wal.OpenManager(t.TempDir(), wal.ManagerOpts{}, nil)
	tst.RequireNoError(t, err)
	defer mgr.Close() //nolint:errcheck

	rid := table.RID{PageNum: 1, SlotNum: 1}
	err = mgr.AppendRecord(record.KindCommit, 1, 1, rid, []byte("x"))
	tst.AssertTrue(t, errors.Is(err, wal.ErrInvalidEntry), "non-record kind should be rejected")

	err = mgr.AppendRecord(record.KindInsert, 1, 1, rid, nil)
	tst.AssertTrue(t, errors.Is(err, wal.ErrInvalidEntry), "empty data should be rejected")
}

func TestManagerReopenContinuesLog(t *testing.T) {
	dir := t.TempDir()
	mgr, err := wal.OpenManager(dir, wal.ManagerOpts{}, nil)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, mgr.AppendBegin(1))
	tst.RequireNoError(t, mgr.Close())

	mgr2, err := wal.OpenManager(dir, wal.ManagerOpts{}, nil)
	tst.RequireNoError(t, err)
	defer mgr2.Close() //nolint:errcheck
	tst.RequireNoError(t, mgr2.AppendRollback(1))

	it, err := mgr2.Iterator()
	tst.RequireNoError(t, err)
	got := collect(t, it)
	tst.RequireDeepEqual(t, len(got), 2)
	tst.AssertEqual(t, got[1].Kind, record.KindRollback, "reopened log should append after existing entries")
}

func TestManagerTruncateTornTail(t *testing.T) {
	dir := t.TempDir()
	mgr, err := wal.OpenManager(dir, wal.ManagerOpts{}, nil)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, mgr.AppendBegin(1))
	tst.RequireNoError(t, mgr.AppendCommit(1, 2))
	tst.RequireNoError(t, mgr.Close())

	// tear the COMMIT frame
	path := filepath.Join(dir, wal.SegmentFileName(wal.FirstSegmentID))
	info, err := os.Stat(path)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, os.Truncate(path, info.Size()-2))

	mgr2, err := wal.OpenManager(dir, wal.ManagerOpts{}, nil)
	tst.RequireNoError(t, err)
	defer mgr2.Close() //nolint:errcheck

	it, err := mgr2.Iterator()
	tst.RequireNoError(t, err)
	_, err = it.Next()
	tst.RequireNoError(t, err)
	_, err = it.Next()
	tst.AssertTrue(t, record.IsTruncation(err), "torn frame reads as truncation")
	pe, ok := record.AsParseError(err)
	tst.AssertTrue(t, ok, "parse error")
	tst.RequireNoError(t, it.Close())

	tst.RequireNoError(t, mgr2.TruncateTail(wal.Position{SegID: wal.FirstSegmentID, Offset: pe.SafeTruncateOffset}))
	tst.RequireNoError(t, mgr2.AppendRollback(1))

	it, err = mgr2.Iterator()
	tst.RequireNoError(t, err)
	got := collect(t, it)
	tst.RequireDeepEqual(t, len(got), 2)
	tst.AssertEqual(t, got[1].Kind, record.KindRollback, "appends continue at the truncation point")
}

func TestManagerTruncateRejectsSealedSegment(t *testing.T) {
	mgr, err := wal.OpenManager(t.TempDir(), wal.ManagerOpts{SegmentMaxBytes: 1}, nil)
	tst.RequireNoError(t, err)
	defer mgr.Close() //nolint:errcheck
	tst.RequireNoError(t, mgr.AppendBegin(1))
	tst.RequireNoError(t, mgr.AppendBegin(2))

	err = mgr.TruncateTail(wal.Position{SegID: wal.FirstSegmentID, Offset: 0})
	tst.AssertTrue(t, errors.Is(err, wal.ErrSegmentCorrupt), "sealed segment cannot be truncated")
}
