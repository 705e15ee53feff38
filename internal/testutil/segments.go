package testutil

import (
	"errors"
	"io"

	"github.com/julianstephens/mvccdb/internal/mvccdb/wal"
)

// SegmentReader is an in-memory wal.SegmentReader.
type SegmentReader struct {
	SegmentID uint64
	Data      []byte
	Closed    bool
	ReadErr   error
	CloseErr  error
}

func (m *SegmentReader) SegID() uint64 {
	return m.SegmentID
}

func (m *SegmentReader) Reader() io.Reader {
	return &readerAdapter{data: m.Data, readErr: m.ReadErr}
}

func (m *SegmentReader) Close() error {
	m.Closed = true
	return m.CloseErr
}

// readerAdapter returns data and then readErr (or io.EOF).
type readerAdapter struct {
	data    []byte
	pos     int
	readErr error
}

func (r *readerAdapter) Read(b []byte) (int, error) {
	if r.pos >= len(r.data) {
		if r.readErr != nil {
			return 0, r.readErr
		}
		return 0, io.EOF
	}
	n := copy(b, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// SegmentProvider is an in-memory wal.SegmentProvider.
type SegmentProvider struct {
	Segments map[uint64]*SegmentReader
	SegIDs   []uint64
	OpenErr  error
}

// NewSegmentProvider creates an empty provider.
func NewSegmentProvider() *SegmentProvider {
	return &SegmentProvider{Segments: make(map[uint64]*SegmentReader)}
}

// AddSegment adds a segment holding data.
func (p *SegmentProvider) AddSegment(segID uint64, data []byte) *SegmentReader {
	sr := &SegmentReader{SegmentID: segID, Data: data}
	p.Segments[segID] = sr
	p.SegIDs = append(p.SegIDs, segID)
	return sr
}

func (p *SegmentProvider) SegmentIDs() []uint64 {
	return p.SegIDs
}

func (p *SegmentProvider) OpenSegment(segID uint64) (wal.SegmentReader, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	sr, ok := p.Segments[segID]
	if !ok {
		return nil, errors.New("segment not found")
	}
	return sr, nil
}
