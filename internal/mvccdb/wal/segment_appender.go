package wal

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

const (
	segmentAppenderBufferSize = 64 << 10 // 64KiB
)

// SegmentAppender appends encoded frames to a single segment file through a
// write buffer. AppendFrame never touches the disk beyond what bufio spills;
// Flush and FSync make data visible and durable respectively.
type SegmentAppender struct {
	mu sync.Mutex

	file   *os.File
	offset int64
	writer *bufio.Writer
	closed bool
}

// NewSegmentAppender creates a SegmentAppender positioned at the end of segmentFile.
func NewSegmentAppender(segmentFile *os.File) (*SegmentAppender, error) {
	if segmentFile == nil {
		return nil, ErrNilSegmentFile
	}

	info, err := segmentFile.Stat()
	if err != nil {
		return nil, err
	}

	if _, err := segmentFile.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}

	return &SegmentAppender{
		file:   segmentFile,
		offset: info.Size(),
		writer: bufio.NewWriterSize(segmentFile, segmentAppenderBufferSize),
	}, nil
}

// AppendFrame writes an already encoded frame to the buffer.
func (sa *SegmentAppender) AppendFrame(kind record.EntryKind, frame []byte) (int64, error) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.closed {
		return 0, &SegmentAppendError{Err: ErrClosedWriter, Offset: sa.offset, Kind: kind}
	}

	start := sa.offset
	n, err := sa.writer.Write(frame)
	if err != nil {
		return 0, &SegmentAppendError{
			Err:    ErrAppendFailed,
			Cause:  err,
			Offset: start,
			Kind:   kind,
			Have:   n,
			Want:   len(frame),
		}
	}
	if n != len(frame) {
		return 0, &SegmentAppendError{
			Err:    ErrShortWrite,
			Offset: start,
			Kind:   kind,
			Have:   n,
			Want:   len(frame),
		}
	}
	sa.offset += int64(n)

	return start, nil
}

// Flush writes buffered frames to the file.
func (sa *SegmentAppender) Flush() error {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.closed {
		return &SegmentAppendError{Err: ErrClosedWriter, Offset: sa.offset}
	}
	return sa.flushLocked()
}

// FSync flushes and then fsyncs the file.
func (sa *SegmentAppender) FSync() error {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.closed {
		return &SegmentAppendError{Err: ErrClosedWriter, Offset: sa.offset}
	}
	if err := sa.flushLocked(); err != nil {
		return err
	}
	if err := sa.file.Sync(); err != nil {
		return &SegmentAppendError{Err: ErrSyncFailed, Cause: err, Offset: sa.offset}
	}
	return nil
}

// Close flushes buffered data and closes the file. It is safe to call twice.
func (sa *SegmentAppender) Close() error {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.closed {
		return nil
	}
	sa.closed = true

	flushErr := sa.flushLocked()
	if err := sa.file.Close(); err != nil {
		return &SegmentAppendError{Err: ErrCloseFailed, Cause: err, Offset: sa.offset}
	}
	return flushErr
}

// Truncate discards everything at and after offset and fsyncs the file.
// Later appends continue at offset.
func (sa *SegmentAppender) Truncate(offset int64) error {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.closed {
		return &SegmentAppendError{Err: ErrClosedWriter, Offset: sa.offset}
	}
	if offset < 0 || offset > sa.offset {
		return &SegmentAppendError{Err: ErrTruncateFailed, Offset: offset}
	}
	if err := sa.flushLocked(); err != nil {
		return err
	}
	if err := sa.file.Truncate(offset); err != nil {
		return &SegmentAppendError{Err: ErrTruncateFailed, Cause: err, Offset: offset}
	}
	if _, err := sa.file.Seek(offset, io.SeekStart); err != nil {
		return &SegmentAppendError{Err: ErrTruncateFailed, Cause: err, Offset: offset}
	}
	if err := sa.file.Sync(); err != nil {
		return &SegmentAppendError{Err: ErrSyncFailed, Cause: err, Offset: offset}
	}
	sa.offset = offset
	return nil
}

// CurrentOffset returns the logical end of the segment including buffered bytes.
func (sa *SegmentAppender) CurrentOffset() int64 {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.offset
}

func (sa *SegmentAppender) flushLocked() error {
	if err := sa.writer.Flush(); err != nil {
		return &SegmentAppendError{Err: ErrFlushFailed, Cause: err, Offset: sa.offset}
	}
	return nil
}
