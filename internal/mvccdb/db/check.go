package db

import (
	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb/manifest"
	"github.com/julianstephens/mvccdb/internal/mvccdb/memtable"
	"github.com/julianstephens/mvccdb/internal/mvccdb/recovery"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal"
)

// CheckReport is the outcome of a dry-run recovery.
type CheckReport struct {
	DatabaseID    string           `json:"database_id"`
	Segments      []uint64         `json:"segments"`
	ActiveSegment uint64           `json:"active_segment"`
	Recovery      *recovery.Result `json:"recovery"`
	// Rows counts the record versions each table would hold after open.
	Rows map[string]int `json:"rows"`
}

type catalog map[int32]*memtable.Table

func (c catalog) FindTable(tableID int32) (table.Table, bool) {
	t, ok := c[tableID]
	if !ok {
		return nil, false
	}
	return t, true
}

// Check replays the log of the database at path into scratch tables without
// appending decisions or truncating a torn tail. Segments are opened read-only
// and none is created.
func Check(path string, lg logger.Logger) (*CheckReport, error) {
	if path == "" {
		return nil, wrapDBErr("check", ErrInvalidDir, path, nil)
	}
	if lg == nil {
		lg = logger.NoOpLogger{}
	}

	man, err := manifest.Open(path)
	if err != nil {
		if !manifest.Exists(path) {
			return nil, wrapDBErr("check", ErrManifestMissing, path, err)
		}
		return nil, wrapDBErr("check", ErrManifestInvalid, path, err)
	}

	segs, err := wal.OpenSegments(walDir(path))
	if err != nil {
		return nil, wrapDBErr("check", ErrWALOpenFailed, path, err)
	}

	// Recovered transactions never write to the sink, so none is needed.
	mgr := trx.NewManager(nil, logger.Component(lg, "trx"))

	cat := make(catalog, len(man.Tables))
	for _, e := range man.Tables {
		cat[e.ID] = memtable.New(&table.Meta{
			Name:      e.Name,
			TableID:   e.ID,
			DataLen:   e.DataLen,
			SysFields: mgr.TrxFields(),
		})
	}

	it, err := wal.NewIterator(segs)
	if err != nil {
		return nil, wrapDBErr("check", ErrReplayFailed, path, err)
	}
	defer func() { _ = it.Close() }()

	res, err := recovery.Recover(it, cat, mgr, recovery.Options{
		Incomplete: man.IncompletePolicy,
	}, logger.Component(lg, "recovery"))
	if err != nil {
		return nil, wrapDBErr("check", ErrReplayFailed, path, err)
	}

	report := &CheckReport{
		DatabaseID:    man.DatabaseID,
		Segments:      segs.SegmentIDs(),
		ActiveSegment: segs.ActiveSegmentID(),
		Recovery:      res,
		Rows:          make(map[string]int, len(cat)),
	}
	for _, t := range cat {
		report.Rows[t.Name()] = t.Len()
	}
	return report, nil
}
