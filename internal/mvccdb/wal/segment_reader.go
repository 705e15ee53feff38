package wal

import (
	"io"
	"os"
)

type fileSegmentReader struct {
	segID uint64
	file  *os.File
}

// NewFileSegmentReader wraps an open segment file for sequential reading.
func NewFileSegmentReader(segID uint64, file *os.File) SegmentReader {
	return &fileSegmentReader{
		segID: segID,
		file:  file,
	}
}

func (sr *fileSegmentReader) SegID() uint64 {
	return sr.segID
}

func (sr *fileSegmentReader) Reader() io.Reader {
	return sr.file
}

func (sr *fileSegmentReader) Close() error {
	return sr.file.Close()
}
