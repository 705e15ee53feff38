package testutil

import (
	"io"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

// Sequence builds a log to be replayed in tests.
type Sequence struct {
	entries []record.Entry
}

// NewSequence creates a new empty sequence.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Begin adds a BEGIN entry.
func (s *Sequence) Begin(trxID int32) *Sequence {
	s.entries = append(s.entries, record.NewBegin(trxID))
	return s
}

// Commit adds a COMMIT entry.
func (s *Sequence) Commit(trxID, commitXID int32) *Sequence {
	s.entries = append(s.entries, record.NewCommit(trxID, commitXID))
	return s
}

// Rollback adds a ROLLBACK entry.
func (s *Sequence) Rollback(trxID int32) *Sequence {
	s.entries = append(s.entries, record.NewRollback(trxID))
	return s
}

// Insert adds an INSERT entry whose image is an empty stamp prefix followed by payload.
func (s *Sequence) Insert(trxID, tableID int32, rid table.RID, payload string) *Sequence {
	s.entries = append(s.entries, record.NewRecord(record.KindInsert, trxID, tableID, rid, NewRecord(payload).Data))
	return s
}

// Delete adds a DELETE entry.
func (s *Sequence) Delete(trxID, tableID int32, rid table.RID, payload string) *Sequence {
	s.entries = append(s.entries, record.NewRecord(record.KindDelete, trxID, tableID, rid, NewRecord(payload).Data))
	return s
}

// Entries returns the entries in order.
func (s *Sequence) Entries() []record.Entry {
	return s.entries
}

// Encode encodes the sequence as one segment.
func (s *Sequence) Encode() ([]byte, error) {
	var out []byte
	for _, e := range s.entries {
		frame, err := record.EncodeEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, frame...)
	}
	return out, nil
}

// Source returns an EntrySource over the sequence.
func (s *Sequence) Source() *EntrySource {
	return &EntrySource{entries: s.entries, failAt: -1}
}

// EntrySource replays a fixed list of entries, optionally ending with an error.
type EntrySource struct {
	entries []record.Entry
	pos     int
	failAt  int
	failErr error
}

// FailAt makes Next return err once index entries have been returned.
func (s *EntrySource) FailAt(index int, err error) *EntrySource {
	s.failAt = index
	s.failErr = err
	return s
}

func (s *EntrySource) Next() (record.Entry, error) {
	if s.pos == s.failAt {
		return record.Entry{}, s.failErr
	}
	if s.pos >= len(s.entries) {
		return record.Entry{}, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++
	return e, nil
}
