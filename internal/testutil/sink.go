package testutil

import (
	"slices"
	"sync"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

// RecordingSink is a trx.LogSink that records every entry it is given.
type RecordingSink struct {
	mu                sync.Mutex
	entries           []record.Entry
	syncs             int
	failOnAppendIndex int // -1 means no failure
	failOnSync        bool
}

// NewRecordingSink creates a sink that accepts everything.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{failOnAppendIndex: -1}
}

// SetFailOnAppend makes the append at the given index fail.
func (s *RecordingSink) SetFailOnAppend(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnAppendIndex = index
}

// SetFailOnSync makes Sync (and therefore AppendCommit) fail.
func (s *RecordingSink) SetFailOnSync(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnSync = fail
}

func (s *RecordingSink) AppendBegin(trxID int32) error {
	return s.append(record.NewBegin(trxID))
}

func (s *RecordingSink) AppendCommit(trxID, commitXID int32) error {
	if err := s.append(record.NewCommit(trxID, commitXID)); err != nil {
		return err
	}
	return s.Sync()
}

func (s *RecordingSink) AppendRollback(trxID int32) error {
	return s.append(record.NewRollback(trxID))
}

func (s *RecordingSink) AppendRecord(kind record.EntryKind, trxID, tableID int32, rid table.RID, data []byte) error {
	return s.append(record.NewRecord(kind, trxID, tableID, rid, slices.Clone(data)))
}

// Sync counts sync calls.
func (s *RecordingSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	if s.failOnSync {
		return Fault("sync", s.syncs-1)
	}
	return nil
}

// Entries returns a copy of the recorded entries.
func (s *RecordingSink) Entries() []record.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Kinds returns the kinds of the recorded entries in order.
func (s *RecordingSink) Kinds() []record.EntryKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]record.EntryKind, len(s.entries))
	for i, e := range s.entries {
		kinds[i] = e.Kind
	}
	return kinds
}

// SyncCount returns the number of Sync calls.
func (s *RecordingSink) SyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs
}

func (s *RecordingSink) append(e record.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnAppendIndex == len(s.entries) {
		return Fault("append", len(s.entries))
	}
	s.entries = append(s.entries, e)
	return nil
}
