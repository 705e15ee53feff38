package testutil

import (
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/mvccdb/internal/mvccdb"
	"github.com/julianstephens/mvccdb/internal/mvccdb/db"
)

// TestOptions returns open options suited to tests: no fsync and small
// segments so rotation is exercised.
func TestOptions() mvccdb.OpenOptions {
	opts := mvccdb.DefaultOpenOptions()
	opts.FsyncOnCommit = false
	opts.FsyncSet = true
	opts.SegmentMaxBytes = 4 << 10
	return opts
}

// SetupTestDB initializes a database directory with a manifest and log directory.
func SetupTestDB(t *testing.T, dbPath string) {
	t.Helper()
	tst.RequireNoError(t, db.Create(dbPath, TestOptions()))
}

// OpenTestDB creates a database in a temp dir, opens it and closes it when
// the test ends.
func OpenTestDB(t *testing.T) (*db.DB, string) {
	t.Helper()
	dir := t.TempDir()
	SetupTestDB(t, dir)
	d, err := db.Open(dir, nil)
	tst.RequireNoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, dir
}
