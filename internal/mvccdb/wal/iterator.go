package wal

import (
	"io"

	"github.com/julianstephens/go-utils/validator"

	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

// Position locates a frame in the log.
type Position struct {
	SegID  uint64
	Offset int64
}

// Iterator reads entries across all segments in append order.
//
// Next returns io.EOF at the clean end of the log. A partial frame at the
// end of the final segment is returned as the record package's truncation
// ParseError so callers can tell a torn tail from a clean end; a partial
// frame in any earlier segment is corruption.
type Iterator struct {
	p   SegmentProvider
	ids []uint64
	idx int

	cur    SegmentReader
	reader *record.FrameReader
	pos    Position
}

// NewIterator creates an iterator over every segment of p.
func NewIterator(p SegmentProvider) (*Iterator, error) {
	ids := p.SegmentIDs()
	if err := ValidateSegmentIDs(ids); err != nil {
		var first uint64
		if len(ids) > 0 {
			first = ids[0]
		}
		return nil, wrapLogErr("iterate", ErrSegmentOrder, "", first, err)
	}
	return &Iterator{p: p, ids: ids}, nil
}

// Next returns the next decoded entry.
func (it *Iterator) Next() (record.Entry, error) {
	for {
		if it.reader == nil {
			if it.idx >= len(it.ids) {
				return record.Entry{}, io.EOF
			}
			if err := it.openCurrent(); err != nil {
				return record.Entry{}, err
			}
		}

		fe, err := it.reader.Next()
		if err == nil {
			it.pos = Position{SegID: it.cur.SegID(), Offset: fe.Offset}
			e, derr := record.DecodeEntry(fe)
			if derr != nil {
				return record.Entry{}, derr
			}
			return e, nil
		}

		if record.IsCleanEOF(err) {
			if cerr := it.closeCurrent(); cerr != nil {
				return record.Entry{}, cerr
			}
			it.idx++
			continue
		}

		if pe, ok := record.AsParseError(err); ok {
			it.pos = Position{SegID: it.cur.SegID(), Offset: pe.Offset}
		}
		if record.IsTruncation(err) && !it.lastSegment() {
			return record.Entry{}, wrapLogErr("iterate", ErrSegmentCorrupt, "", it.cur.SegID(), err)
		}
		return record.Entry{}, err
	}
}

// Position returns the location of the last frame returned or rejected by Next.
func (it *Iterator) Position() Position {
	return it.pos
}

// Close releases the open segment, if any.
func (it *Iterator) Close() error {
	return it.closeCurrent()
}

func (it *Iterator) lastSegment() bool {
	return it.idx == len(it.ids)-1
}

func (it *Iterator) openCurrent() error {
	sr, err := it.p.OpenSegment(it.ids[it.idx])
	if err != nil {
		return err
	}
	it.cur = sr
	it.reader = record.NewFrameReader(sr.Reader())
	return nil
}

func (it *Iterator) closeCurrent() error {
	if it.cur == nil {
		return nil
	}
	err := it.cur.Close()
	it.cur = nil
	it.reader = nil
	return err
}

// ValidateSegmentIDs checks that segment ids are non-zero and consecutive.
func ValidateSegmentIDs(ids []uint64) error {
	v := validator.Numbers[uint64]()

	for i, id := range ids {
		if err := v.ValidateNonZero(id); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		if err := v.ValidateConsecutive(ids[i-1], id); err != nil {
			return err
		}
	}
	return nil
}
