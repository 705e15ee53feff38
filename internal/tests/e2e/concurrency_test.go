package e2e_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/workload"
	"github.com/julianstephens/mvccdb/internal/testutil"
)

func TestConcurrentDeletersOneWins(t *testing.T) {
	const deleters = 16

	d, dir := newDB(t)
	tbl := mustTable(t, d, "t")

	tx, err := d.Begin()
	assert.NoError(t, err)
	rid := insert(t, tx, tbl, "contended")
	assert.NoError(t, tx.Commit())
	d.Trxs().Destroy(tx)

	trxs := make([]*trx.Trx, deleters)
	for i := range trxs {
		trxs[i], err = d.Begin()
		assert.NoError(t, err)
		assert.NoError(t, trxs[i].StartIfNeed())
	}

	errs := make([]error, deleters)
	var wg sync.WaitGroup
	for i, tx := range trxs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := tbl.GetRecord(rid)
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = tx.Delete(tbl, rec)
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			assert.Equal(t, -1, winner, "only one deleter may win")
			winner = i
		default:
			assert.True(t, errors.Is(err, trx.ErrConcurrencyConflict), "loser sees a conflict: %v", err)
		}
	}
	assert.NotEqual(t, -1, winner)

	for i, tx := range trxs {
		if i == winner {
			assert.NoError(t, tx.Commit())
		} else {
			assert.NoError(t, tx.Rollback())
		}
		d.Trxs().Destroy(tx)
	}
	assert.Equal(t, []string{}, visible(t, d, tbl))
	assert.NoError(t, d.Close())

	d2 := openDB(t, dir, testutil.TestOptions())
	assert.Equal(t, []string{}, visible(t, d2, mustTable(t, d2, "t")))
}

func TestSnapshotDoesNotSeeLaterCommits(t *testing.T) {
	d, _ := newDB(t)
	tbl := mustTable(t, d, "t")
	commitRows(t, d, tbl, "before")

	reader, err := d.Begin()
	assert.NoError(t, err)
	defer d.Trxs().Destroy(reader)
	assert.NoError(t, reader.StartIfNeed())

	writer, err := d.Begin()
	assert.NoError(t, err)
	defer d.Trxs().Destroy(writer)
	insert(t, writer, tbl, "uncommitted")

	snapshot := func() []string {
		out := []string{}
		assert.NoError(t, d.Scan(reader, tbl, func(rec *table.Record) bool {
			out = append(out, string(tbl.Meta().Payload(rec)))
			return true
		}))
		return out
	}

	assert.Equal(t, []string{"before"}, snapshot())
	assert.NoError(t, writer.Commit())
	assert.Equal(t, []string{"before"}, snapshot())
	assert.Equal(t, []string{"before", "uncommitted"}, visible(t, d, tbl))
	assert.NoError(t, reader.Commit())
}

func TestOwnInsertThenDeleteRollsBackClean(t *testing.T) {
	d, dir := newDB(t)
	tbl := mustTable(t, d, "t")

	tx, err := d.Begin()
	assert.NoError(t, err)
	defer d.Trxs().Destroy(tx)
	rec := tbl.Meta().NewRecord([]byte("short-lived"))
	assert.NoError(t, tx.Insert(tbl, rec))
	assert.NoError(t, tx.Delete(tbl, rec))
	assert.NoError(t, tx.Rollback())

	assert.Equal(t, 0, tbl.(interface{ Len() int }).Len())
	assert.NoError(t, d.Close())

	d2 := openDB(t, dir, testutil.TestOptions())
	assert.Equal(t, 0, len(d2.Recovery().Incomplete))
	assert.Equal(t, []string{}, visible(t, d2, mustTable(t, d2, "t")))
}

func TestWorkloadThenRestart(t *testing.T) {
	d, dir := newDB(t)
	tbl := mustTable(t, d, "bench")

	cfg := workload.DefaultConfig()
	cfg.Trxs = 200
	cfg.Workers = 6
	cfg.Seed = 42
	rep, err := workload.Run(context.Background(), d.Trxs(), tbl, cfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(cfg.Trxs), rep.Committed+rep.RolledBack)
	assert.Equal(t, 0, d.Trxs().Len())

	before := visible(t, d, tbl)
	assert.True(t, len(before) > 0)
	assert.NoError(t, d.Close())

	d2 := openDB(t, dir, testutil.TestOptions())
	assert.Equal(t, 0, len(d2.Recovery().Incomplete))
	assert.Equal(t, before, visible(t, d2, mustTable(t, d2, "bench")))
}
