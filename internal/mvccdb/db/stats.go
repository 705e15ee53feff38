package db

import (
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
)

// TableStats describes one table.
type TableStats struct {
	ID      int32  `json:"id"`
	Name    string `json:"name"`
	DataLen int    `json:"data_len"`
	// Versions counts stored records including ones no snapshot can see.
	Versions int `json:"versions"`
}

// Stats is a point-in-time summary of the database.
type Stats struct {
	DatabaseID    string       `json:"database_id"`
	Path          string       `json:"path"`
	Segments      []uint64     `json:"segments"`
	ActiveSegment uint64       `json:"active_segment"`
	CurrentTrxID  int32        `json:"current_trx_id"`
	ActiveTrxs    int          `json:"active_trxs"`
	Tables        []TableStats `json:"tables"`
}

// Stats gathers counters from the catalog, the log and the transaction manager.
func (db *DB) Stats() (*Stats, error) {
	if db.IsClosed() {
		return nil, wrapDBErr("stats", ErrClosed, db.path, nil)
	}

	s := &Stats{
		DatabaseID:    db.ID(),
		Path:          db.path,
		Segments:      db.log.SegmentIDs(),
		ActiveSegment: db.log.ActiveSegmentID(),
		CurrentTrxID:  db.trxs.CurrentID(),
		ActiveTrxs:    db.trxs.Len(),
	}
	for _, t := range db.Tables() {
		n := 0
		if err := t.Scan(func(*table.Record) bool { n++; return true }); err != nil {
			return nil, wrapDBErr("stats", ErrScanFailed, db.path, err)
		}
		s.Tables = append(s.Tables, TableStats{
			ID:       t.ID(),
			Name:     t.Name(),
			DataLen:  t.Meta().DataLen,
			Versions: n,
		})
	}
	return s, nil
}
