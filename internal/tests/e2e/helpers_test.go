package e2e_test

import (
	"os"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/julianstephens/mvccdb/internal/mvccdb"
	"github.com/julianstephens/mvccdb/internal/mvccdb/db"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/testutil"
)

// openDB opens dir and closes it when the test ends. Close is idempotent so
// tests may also close it themselves to simulate a restart.
func openDB(t *testing.T, dir string, opts mvccdb.OpenOptions) *db.DB {
	t.Helper()
	d, err := db.OpenWithOptions(dir, opts, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func openDBErr(dir string) (*db.DB, error) {
	return db.OpenWithOptions(dir, testutil.TestOptions(), nil)
}

func newDB(t *testing.T) (*db.DB, string) {
	t.Helper()
	dir := t.TempDir()
	testutil.SetupTestDB(t, dir)
	return openDB(t, dir, testutil.TestOptions()), dir
}

func mustTable(t *testing.T, d *db.DB, name string) table.Table {
	t.Helper()
	tbl, err := d.Table(name)
	if err == nil {
		return tbl
	}
	tbl, err = d.CreateTable(name, 0)
	assert.NoError(t, err)
	return tbl
}

func insert(t *testing.T, tx *trx.Trx, tbl table.Table, payload string) table.RID {
	t.Helper()
	rec := tbl.Meta().NewRecord([]byte(payload))
	assert.NoError(t, tx.Insert(tbl, rec))
	return rec.RID
}

// commitRows inserts payloads in one committed transaction and returns the
// transaction id.
func commitRows(t *testing.T, d *db.DB, tbl table.Table, payloads ...string) int32 {
	t.Helper()
	tx, err := d.Begin()
	assert.NoError(t, err)
	defer d.Trxs().Destroy(tx)
	for _, p := range payloads {
		insert(t, tx, tbl, p)
	}
	assert.NoError(t, tx.Commit())
	return tx.ID()
}

// visible returns the payloads a fresh snapshot sees, in RID order.
func visible(t *testing.T, d *db.DB, tbl table.Table) []string {
	t.Helper()
	reader, err := d.Begin()
	assert.NoError(t, err)
	defer d.Trxs().Destroy(reader)

	out := []string{}
	assert.NoError(t, d.Scan(reader, tbl, func(rec *table.Record) bool {
		out = append(out, string(tbl.Meta().Payload(rec)))
		return true
	}))
	assert.NoError(t, reader.Commit())
	return out
}

// chopTail removes the last n bytes of the file at path.
func chopTail(t *testing.T, path string, n int64) {
	t.Helper()
	fi, err := os.Stat(path)
	assert.NoError(t, err)
	assert.True(t, fi.Size() >= n)
	assert.NoError(t, os.Truncate(path, fi.Size()-n))
}

// flipByte inverts one byte of the file at path.
func flipByte(t *testing.T, path string, off int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	assert.NoError(t, err)
	defer f.Close() //nolint:errcheck

	b := make([]byte, 1)
	_, err = f.ReadAt(b, off)
	assert.NoError(t, err)
	b[0] ^= 0xff
	_, err = f.WriteAt(b, off)
	assert.NoError(t, err)
}
