package wal

import (
	"time"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb/metrics"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

type ManagerOpts struct {
	// SegmentMaxBytes is the rotation threshold; 0 disables rotation.
	SegmentMaxBytes int64
	// FsyncOnCommit makes Sync fsync after flushing.
	FsyncOnCommit bool
}

// Manager is the log manager used by transactions. Appends are buffered;
// Sync is the durability barrier and AppendCommit always syncs.
type Manager struct {
	log  *Log
	opts ManagerOpts
	lg   logger.Logger
}

// OpenManager opens or creates the segmented log in dir.
func OpenManager(dir string, opts ManagerOpts, lg logger.Logger) (*Manager, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}

	l, err := OpenLog(dir, LogOpts{SegmentMaxBytes: opts.SegmentMaxBytes})
	if err != nil {
		return nil, err
	}

	lg.Debug("log manager opened", "dir", dir, "segments", len(l.SegmentIDs()), "fsync", opts.FsyncOnCommit)
	return &Manager{log: l, opts: opts, lg: lg}, nil
}

// AppendBegin appends a BEGIN entry for trxID.
func (m *Manager) AppendBegin(trxID int32) error {
	return m.append(record.NewBegin(trxID))
}

// AppendCommit appends a COMMIT entry and syncs before returning.
func (m *Manager) AppendCommit(trxID, commitXID int32) error {
	if err := m.append(record.NewCommit(trxID, commitXID)); err != nil {
		return err
	}
	return m.Sync()
}

// AppendRollback appends a ROLLBACK entry for trxID.
func (m *Manager) AppendRollback(trxID int32) error {
	return m.append(record.NewRollback(trxID))
}

// AppendRecord appends an INSERT or DELETE entry carrying the full record image.
func (m *Manager) AppendRecord(kind record.EntryKind, trxID, tableID int32, rid table.RID, data []byte) error {
	if !kind.IsRecord() || len(data) == 0 {
		return &SegmentAppendError{Err: ErrInvalidEntry, Kind: kind}
	}
	return m.append(record.NewRecord(kind, trxID, tableID, rid, data))
}

// Sync flushes buffered entries and, when configured, fsyncs them.
func (m *Manager) Sync() error {
	start := time.Now()
	var err error
	if m.opts.FsyncOnCommit {
		err = m.log.FSync()
	} else {
		err = m.log.Flush()
	}
	if err != nil {
		m.lg.Error("log sync failed", err, "dir", m.log.Dir())
		return err
	}
	metrics.LogSyncDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Iterator returns a forward iterator over every segment. Buffered entries
// are flushed first so they are visible to the reader.
func (m *Manager) Iterator() (*Iterator, error) {
	if err := m.log.Flush(); err != nil {
		return nil, err
	}
	return NewIterator(m.log)
}

// TruncateTail discards a partially written frame at the end of the log.
func (m *Manager) TruncateTail(pos Position) error {
	if err := m.log.TruncateTail(pos.SegID, pos.Offset); err != nil {
		m.lg.Error("log truncate failed", err, "seg", pos.SegID, "offset", pos.Offset)
		return err
	}
	m.lg.Warn("truncated torn log tail", "seg", pos.SegID, "offset", pos.Offset)
	return nil
}

// SegmentIDs returns the ids of all segments in ascending order.
func (m *Manager) SegmentIDs() []uint64 {
	return m.log.SegmentIDs()
}

// ActiveSegmentID returns the segment currently receiving appends.
func (m *Manager) ActiveSegmentID() uint64 {
	return m.log.ActiveSegmentID()
}

// Dir returns the log directory.
func (m *Manager) Dir() string {
	return m.log.Dir()
}

// Close flushes and closes the log.
func (m *Manager) Close() error {
	return m.log.Close()
}

func (m *Manager) append(e record.Entry) error {
	segID, offset, err := m.log.Append(e)
	if err != nil {
		m.lg.Error("log append failed", err, "kind", e.Kind.String(), "trx", e.TrxID)
		return err
	}
	metrics.LogEntriesTotal.WithLabelValues(e.Kind.String()).Inc()
	m.lg.Debug("log append", "kind", e.Kind.String(), "trx", e.TrxID, "seg", segID, "offset", offset)
	return nil
}
