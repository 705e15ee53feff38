package wal

import (
	"fmt"
	"io"
)

const (
	FirstSegmentID    uint64 = 1
	segmentNameFormat        = "segment-%020d.wal"
)

// SegmentFileName returns the file name of the segment with the given id.
func SegmentFileName(segID uint64) string {
	return fmt.Sprintf(segmentNameFormat, segID)
}

type SegmentProvider interface {
	// SegmentIDs returns segment IDs in ascending order.
	SegmentIDs() []uint64
	// OpenSegment opens a reader for the given segment id.
	OpenSegment(segID uint64) (SegmentReader, error)
}

type SegmentReader interface {
	SegID() uint64
	Reader() io.Reader // stream from the start of the segment
	Close() error
}
