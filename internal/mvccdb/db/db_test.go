package db_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb"
	mvccdb_db "github.com/julianstephens/mvccdb/internal/mvccdb/db"
	"github.com/julianstephens/mvccdb/internal/mvccdb/recovery"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal"
	"github.com/julianstephens/mvccdb/internal/testutil"
)

func reopen(t *testing.T, dir string) *mvccdb_db.DB {
	t.Helper()
	d, err := mvccdb_db.Open(dir, logger.NoOpLogger{})
	tst.RequireNoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func insert(t *testing.T, tx *trx.Trx, tbl table.Table, payload string) table.RID {
	t.Helper()
	rec := tbl.Meta().NewRecord([]byte(payload))
	tst.RequireNoError(t, tx.Insert(tbl, rec))
	return rec.RID
}

func visible(t *testing.T, d *mvccdb_db.DB, tbl table.Table) []string {
	t.Helper()
	reader, err := d.Begin()
	tst.RequireNoError(t, err)
	defer d.Trxs().Destroy(reader)

	var out []string
	tst.RequireNoError(t, d.Scan(reader, tbl, func(rec *table.Record) bool {
		out = append(out, string(tbl.Meta().Payload(rec)))
		return true
	}))
	tst.RequireNoError(t, reader.Commit())
	return out
}

func TestOpenRequiresManifest(t *testing.T) {
	_, err := mvccdb_db.Open(t.TempDir(), logger.NoOpLogger{})
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrManifestMissing), "expected ErrManifestMissing")
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := mvccdb_db.Open("", logger.NoOpLogger{})
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrInvalidDir), "expected ErrInvalidDir")
}

func TestOpenCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	tst.RequireNoError(t, os.WriteFile(filepath.Join(dir, "MANIFEST.json"), []byte("{"), 0o600))
	_, err := mvccdb_db.Open(dir, nil)
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrManifestInvalid), "expected ErrManifestInvalid")
}

func TestCreateTwice(t *testing.T) {
	dir := t.TempDir()
	testutil.SetupTestDB(t, dir)
	err := mvccdb_db.Create(dir, testutil.TestOptions())
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrAlreadyExists), "expected ErrAlreadyExists")
}

func TestOpenAndClose(t *testing.T) {
	d, dir := testutil.OpenTestDB(t)
	tst.AssertFalse(t, d.IsClosed(), "expected database to be open")
	tst.AssertEqual(t, d.Path(), dir, "path")
	tst.AssertEqual(t, d.Recovery().TailStatus, recovery.TailStatusValid, "fresh log is clean")

	tst.RequireNoError(t, d.Close())
	tst.AssertTrue(t, d.IsClosed(), "expected database to be closed")
	tst.AssertNil(t, d.Close(), "expected no error on double close")

	_, err := d.Begin()
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrClosed), "begin after close")
	_, err = d.CreateTable("t", 0)
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrClosed), "create table after close")
}

func TestCreateTable(t *testing.T) {
	d, dir := testutil.OpenTestDB(t)

	accounts, err := d.CreateTable("accounts", 8)
	tst.RequireNoError(t, err)
	_, err = d.CreateTable("events", 0)
	tst.RequireNoError(t, err)

	_, err = d.CreateTable("accounts", 8)
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrTableExists), "duplicate table")
	_, err = d.CreateTable("", 8)
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrInvalidTable), "unnamed table")
	_, err = d.Table("missing")
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrTableNotFound), "missing table")

	got, err := d.Table("accounts")
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, got.ID(), accounts.ID(), "lookup by name")
	tst.AssertEqual(t, got.Meta().RecordLen(), table.StampSize+8, "stamps precede user data")
	tst.RequireNoError(t, d.Close())

	d2 := reopen(t, dir)
	tables := d2.Tables()
	tst.RequireDeepEqual(t, len(tables), 2)
	tst.AssertEqual(t, tables[0].Name(), "accounts", "first table")
	tst.AssertEqual(t, tables[1].Name(), "events", "second table")
	tst.AssertEqual(t, tables[0].Meta().DataLen, 8, "data length persists")
}

func TestCommittedRowsSurviveReopen(t *testing.T) {
	d, dir := testutil.OpenTestDB(t)
	tbl, err := d.CreateTable("t", 0)
	tst.RequireNoError(t, err)

	tx, err := d.Begin()
	tst.RequireNoError(t, err)
	insert(t, tx, tbl, "a")
	insert(t, tx, tbl, "b")
	tst.RequireNoError(t, tx.Commit())
	d.Trxs().Destroy(tx)

	tx2, err := d.Begin()
	tst.RequireNoError(t, err)
	rid := insert(t, tx2, tbl, "c")
	tst.RequireNoError(t, tx2.Commit())
	d.Trxs().Destroy(tx2)

	tx3, err := d.Begin()
	tst.RequireNoError(t, err)
	rec, err := tbl.GetRecord(rid)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx3.Delete(tbl, rec))
	tst.RequireNoError(t, tx3.Commit())
	d.Trxs().Destroy(tx3)

	before := d.Trxs().CurrentID()
	tst.RequireNoError(t, d.Close())

	d2 := reopen(t, dir)
	tbl2, err := d2.Table("t")
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, visible(t, d2, tbl2), []string{"a", "b"})
	tst.AssertEqual(t, d2.Recovery().Committed, 3, "three committed transactions replayed")
	tst.AssertTrue(t, d2.Trxs().CurrentID() >= before, "ids never go backwards across reopen")
}

func TestSnapshotIsolation(t *testing.T) {
	d, _ := testutil.OpenTestDB(t)
	tbl, err := d.CreateTable("t", 0)
	tst.RequireNoError(t, err)

	writer, err := d.Begin()
	tst.RequireNoError(t, err)
	insert(t, writer, tbl, "x")

	tst.AssertEqual(t, len(visible(t, d, tbl)), 0, "uncommitted insert is invisible to others")

	early, err := d.Begin()
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, early.StartIfNeed())

	tst.RequireNoError(t, writer.Commit())

	var seen int
	tst.RequireNoError(t, d.Scan(early, tbl, func(*table.Record) bool { seen++; return true }))
	tst.AssertEqual(t, seen, 0, "snapshot taken before commit does not see it")
	tst.RequireDeepEqual(t, visible(t, d, tbl), []string{"x"})
}

func TestIncompleteTransactionOnReopen(t *testing.T) {
	testCases := []struct {
		name       string
		policy     mvccdb.IncompletePolicy
		wantStored int
	}{
		{name: "Rollback", policy: mvccdb.IncompleteRollback, wantStored: 0},
		{name: "Drop", policy: mvccdb.IncompleteDrop, wantStored: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, dir := testutil.OpenTestDB(t)
			tbl, err := d.CreateTable("t", 0)
			tst.RequireNoError(t, err)

			tx, err := d.Begin()
			tst.RequireNoError(t, err)
			insert(t, tx, tbl, "pending")
			id := tx.ID()
			tst.RequireNoError(t, d.Close())

			opts := testutil.TestOptions()
			opts.Incomplete = tc.policy
			d2, err := mvccdb_db.OpenWithOptions(dir, opts, nil)
			tst.RequireNoError(t, err)
			defer d2.Close() //nolint:errcheck

			tst.RequireDeepEqual(t, d2.Recovery().Incomplete, []int32{id})
			_, ok := d2.Trxs().Find(id)
			tst.AssertFalse(t, ok, "incomplete transaction is not registered")

			tbl2, err := d2.Table("t")
			tst.RequireNoError(t, err)
			tst.AssertEqual(t, tbl2.(interface{ Len() int }).Len(), tc.wantStored, "stored versions")
			tst.AssertEqual(t, len(visible(t, d2, tbl2)), 0, "pending row is never visible")
			tst.AssertTrue(t, d2.Trxs().CurrentID() >= id, "incomplete id is not reused")
		})
	}
}

func TestOpenWithOptionsFallsBackToManifest(t *testing.T) {
	dir := t.TempDir()
	tst.RequireNoError(t, mvccdb_db.Create(dir, mvccdb.DefaultOpenOptions()))

	d, err := mvccdb_db.OpenWithOptions(dir, mvccdb.OpenOptions{Incomplete: mvccdb.IncompleteDrop}, nil)
	tst.RequireNoError(t, err)
	opts := d.Options()
	tst.AssertTrue(t, opts.FsyncOnCommit, "fsync is kept from the manifest")
	tst.AssertEqual(t, opts.SegmentMaxBytes, int64(mvccdb.DefaultSegmentMaxBytes), "segment size from the manifest")
	tst.AssertEqual(t, opts.Incomplete, mvccdb.IncompleteDrop, "policy overridden")
	tst.RequireNoError(t, d.Close())

	d, err = mvccdb_db.OpenWithOptions(dir, mvccdb.OpenOptions{FsyncSet: true}, nil)
	tst.RequireNoError(t, err)
	tst.AssertFalse(t, d.Options().FsyncOnCommit, "explicit fsync override applies")
	tst.AssertEqual(t, d.Options().Incomplete, mvccdb.IncompleteRollback, "policy from the manifest")
	tst.RequireNoError(t, d.Close())
}

func TestStats(t *testing.T) {
	d, _ := testutil.OpenTestDB(t)
	tbl, err := d.CreateTable("t", 0)
	tst.RequireNoError(t, err)

	tx, err := d.Begin()
	tst.RequireNoError(t, err)
	insert(t, tx, tbl, "a")

	s, err := d.Stats()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, s.DatabaseID, d.ID(), "database id")
	tst.AssertEqual(t, s.ActiveTrxs, 1, "one active transaction")
	tst.AssertEqual(t, s.CurrentTrxID, tx.ID(), "current id")
	tst.RequireDeepEqual(t, len(s.Tables), 1)
	tst.AssertEqual(t, s.Tables[0].Versions, 1, "uncommitted versions are counted")
	tst.AssertGreaterThan(t, len(s.Segments), 0, "at least one segment")
	tst.AssertEqual(t, s.ActiveSegment, s.Segments[len(s.Segments)-1], "last segment is active")
}

func TestConcurrentInserts(t *testing.T) {
	d, dir := testutil.OpenTestDB(t)
	tbl, err := d.CreateTable("t", 0)
	tst.RequireNoError(t, err)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tx, err := d.Begin()
				if err != nil {
					errs <- err
					return
				}
				if err := tx.Insert(tbl, tbl.Meta().NewRecord([]byte("v"))); err != nil {
					errs <- err
					return
				}
				if err := tx.Commit(); err != nil {
					errs <- err
					return
				}
				d.Trxs().Destroy(tx)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		tst.RequireNoError(t, err)
	}

	tst.AssertEqual(t, len(visible(t, d, tbl)), workers*perWorker, "all commits visible")
	tst.RequireNoError(t, d.Close())

	d2 := reopen(t, dir)
	tbl2, err := d2.Table("t")
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, len(visible(t, d2, tbl2)), workers*perWorker, "all commits recovered")
	tst.AssertGreaterThan(t, len(d2.Log().SegmentIDs()), 1, "small segments rotate")
}

func TestCheckDoesNotResolve(t *testing.T) {
	d, dir := testutil.OpenTestDB(t)
	tbl, err := d.CreateTable("t", 0)
	tst.RequireNoError(t, err)

	tx, err := d.Begin()
	tst.RequireNoError(t, err)
	insert(t, tx, tbl, "kept")
	tst.RequireNoError(t, tx.Commit())
	d.Trxs().Destroy(tx)

	pending, err := d.Begin()
	tst.RequireNoError(t, err)
	insert(t, pending, tbl, "pending")
	tst.RequireNoError(t, d.Close())

	for range 2 {
		report, err := mvccdb_db.Check(dir, nil)
		tst.RequireNoError(t, err)
		tst.AssertEqual(t, report.DatabaseID, d.ID(), "database id")
		tst.AssertEqual(t, report.Recovery.Committed, 1, "committed")
		tst.RequireDeepEqual(t, report.Recovery.Incomplete, []int32{pending.ID()})
		tst.AssertEqual(t, report.Rows["t"], 1, "pending row is rolled back in the scratch table")
	}

	d2 := reopen(t, dir)
	tst.RequireDeepEqual(t, d2.Recovery().Incomplete, []int32{pending.ID()})
}

func TestCheckLeavesLogUntouched(t *testing.T) {
	dir := t.TempDir()
	testutil.SetupTestDB(t, dir)
	walDir := filepath.Join(dir, mvccdb.WALDirName)

	report, err := mvccdb_db.Check(dir, nil)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, len(report.Segments), 0, "fresh database has no segments")
	files, err := os.ReadDir(walDir)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, len(files), 0, "check creates no segment")

	d, err := mvccdb_db.OpenWithOptions(dir, testutil.TestOptions(), nil)
	tst.RequireNoError(t, err)
	tbl, err := d.CreateTable("t", 0)
	tst.RequireNoError(t, err)
	tx, err := d.Begin()
	tst.RequireNoError(t, err)
	insert(t, tx, tbl, "row")
	tst.RequireNoError(t, tx.Commit())
	d.Trxs().Destroy(tx)
	segs := d.Log().SegmentIDs()
	tst.RequireNoError(t, d.Close())

	// a torn tail that open would truncate
	last := filepath.Join(walDir, wal.SegmentFileName(segs[len(segs)-1]))
	f, err := os.OpenFile(last, os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec
	tst.RequireNoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02})
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, f.Close())
	before, err := os.ReadFile(last) //nolint:gosec
	tst.RequireNoError(t, err)

	report, err = mvccdb_db.Check(dir, nil)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, report.Recovery.TailStatus, recovery.TailStatusTruncated, "torn tail is reported")
	tst.AssertEqual(t, report.ActiveSegment, segs[len(segs)-1], "active segment")

	after, err := os.ReadFile(last) //nolint:gosec
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, after, before)
}

func TestCheckMissingManifest(t *testing.T) {
	_, err := mvccdb_db.Check(t.TempDir(), nil)
	tst.AssertTrue(t, errors.Is(err, mvccdb_db.ErrManifestMissing), "expected ErrManifestMissing")
}
