package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/julianstephens/go-utils/helpers"

	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

type LogOpts struct {
	// 0 means "never rotate" (single segment)
	SegmentMaxBytes int64
}

// Log is the segmented, append-only log storage.
type Log struct {
	mu sync.Mutex

	dir  string
	opts LogOpts

	// segments is always kept sorted for binary search
	segments    []uint64 // sorted ascending; includes activeSegID
	activeSegID uint64
	active      *SegmentAppender

	closed bool
}

var _ SegmentProvider = (*Log)(nil)

func listSegments(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []uint64
	for _, fi := range files {
		if fi.IsDir() {
			continue
		}
		var segID uint64
		n, err := fmt.Sscanf(fi.Name(), segmentNameFormat, &segID)
		if err != nil || n != 1 || fi.Name() != SegmentFileName(segID) {
			continue
		}
		segs = append(segs, segID)
	}
	return segs, nil
}

// OpenLog opens or creates the log directory, discovers existing segments,
// selects the active segment, and prepares it for append.
func OpenLog(dir string, opts LogOpts) (*Log, error) {
	l := &Log{
		dir:  dir,
		opts: opts,
	}

	if err := helpers.Ensure(dir, true); err != nil {
		return nil, wrapLogErr("ensure_wal_dir", ErrInvalidWALDir, dir, 0, err)
	}

	segs, err := listSegments(dir)
	if err != nil {
		return nil, wrapLogErr("list_segments", ErrSegmentList, dir, 0, err)
	}
	l.segments = segs
	slices.Sort(l.segments)

	var (
		activeSegID uint64
		activeFile  *os.File
	)
	if len(l.segments) == 0 {
		activeFile, activeSegID, err = l.createNextSegment(0)
		if err != nil {
			return nil, wrapLogErr("create_segment", ErrSegmentCreate, dir, FirstSegmentID, err)
		}
		l.segments = append(l.segments, activeSegID)
	} else {
		activeSegID = l.segments[len(l.segments)-1]
		activeFile, err = os.OpenFile(l.segmentPath(activeSegID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600) //nolint:gosec
		if err != nil {
			return nil, wrapLogErr("open_segment", ErrSegmentOpen, dir, activeSegID, err)
		}
	}

	appender, err := NewSegmentAppender(activeFile)
	if err != nil {
		_ = activeFile.Close()
		return nil, wrapLogErr("create_segment_appender", ErrSegmentOpen, dir, activeSegID, err)
	}

	l.activeSegID = activeSegID
	l.active = appender

	return l, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string {
	return l.dir
}

func (l *Log) SegmentIDs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.segments)
}

// ActiveSegmentID returns the id of the segment currently receiving appends.
func (l *Log) ActiveSegmentID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeSegID
}

func (l *Log) OpenSegment(segID uint64) (SegmentReader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return openSegmentReader(l.dir, l.segments, segID)
}

// Append encodes e and appends it to the active segment, rotating segments
// if policy requires. It returns the segment id and offset of the frame.
func (l *Log) Append(e record.Entry) (segID uint64, offset int64, err error) {
	frame, err := record.EncodeEntry(e)
	if err != nil {
		return 0, 0, &SegmentAppendError{Err: ErrInvalidEntry, Kind: e.Kind, Cause: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, 0, logClosed(l.dir)
	}

	if err := l.maybeRotateLocked(int64(len(frame))); err != nil {
		return 0, 0, wrapLogErr("rotate_segment", ErrSegmentRotate, l.dir, l.activeSegID, err)
	}

	offset, err = l.active.AppendFrame(e.Kind, frame)
	if err != nil {
		return 0, 0, wrapLogErr("append_entry", ErrAppendFailed, l.dir, l.activeSegID, err)
	}

	return l.activeSegID, offset, nil
}

// Flush flushes buffered writes of the active segment.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return logClosed(l.dir)
	}

	if err := l.active.Flush(); err != nil {
		return wrapLogErr("flush_segment", ErrSegmentFlush, l.dir, l.activeSegID, err)
	}

	return nil
}

// FSync flushes then fsyncs the active segment.
func (l *Log) FSync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return logClosed(l.dir)
	}

	if err := l.active.FSync(); err != nil {
		return wrapLogErr("fsync_segment", ErrSegmentSync, l.dir, l.activeSegID, err)
	}

	return nil
}

// TruncateTail cuts the active segment back to offset. Only the active
// segment can hold a torn tail, so any other segment is rejected.
func (l *Log) TruncateTail(segID uint64, offset int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return logClosed(l.dir)
	}
	if segID != l.activeSegID {
		return wrapLogErr("truncate_segment", ErrSegmentCorrupt, l.dir, segID, nil)
	}
	if err := l.active.Truncate(offset); err != nil {
		return wrapLogErr("truncate_segment", ErrTruncateFailed, l.dir, segID, err)
	}
	return nil
}

// Close closes the active segment appender and marks the log closed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.active.Close(); err != nil {
		return wrapLogErr("close_segment", ErrSegmentClose, l.dir, l.activeSegID, err)
	}

	return nil
}

func (l *Log) segmentPath(segID uint64) string {
	return filepath.Join(l.dir, SegmentFileName(segID))
}

func openSegmentReader(dir string, segs []uint64, segID uint64) (SegmentReader, error) {
	if _, ok := slices.BinarySearch(segs, segID); !ok {
		return nil, wrapLogErr("get_segment_path", ErrSegmentNotFound, dir, segID, nil)
	}

	file, err := os.Open(filepath.Join(dir, SegmentFileName(segID))) //nolint:gosec
	if err != nil {
		return nil, wrapLogErr("open_segment", ErrSegmentOpen, dir, segID, err)
	}

	return NewFileSegmentReader(segID, file), nil
}

// SegmentSet is a read-only view of the segments in a log directory. It never
// creates, truncates or appends to a segment file.
type SegmentSet struct {
	dir      string
	segments []uint64
}

var _ SegmentProvider = (*SegmentSet)(nil)

// OpenSegments lists the segments in dir. A missing directory is
// ErrInvalidWALDir.
func OpenSegments(dir string) (*SegmentSet, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, wrapLogErr("stat_wal_dir", ErrInvalidWALDir, dir, 0, err)
	}
	if !info.IsDir() {
		return nil, wrapLogErr("stat_wal_dir", ErrInvalidWALDir, dir, 0, nil)
	}
	segs, err := listSegments(dir)
	if err != nil {
		return nil, wrapLogErr("list_segments", ErrSegmentList, dir, 0, err)
	}
	slices.Sort(segs)
	return &SegmentSet{dir: dir, segments: segs}, nil
}

func (s *SegmentSet) SegmentIDs() []uint64 {
	return slices.Clone(s.segments)
}

// ActiveSegmentID returns the last segment id, or 0 for an empty log.
func (s *SegmentSet) ActiveSegmentID() uint64 {
	if len(s.segments) == 0 {
		return 0
	}
	return s.segments[len(s.segments)-1]
}

func (s *SegmentSet) OpenSegment(segID uint64) (SegmentReader, error) {
	return openSegmentReader(s.dir, s.segments, segID)
}

// createNextSegment creates a new segment file with the id following segID.
func (l *Log) createNextSegment(segID uint64) (*os.File, uint64, error) {
	next := segID + 1
	file, err := os.OpenFile(l.segmentPath(next), os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600) //nolint:gosec
	if err != nil {
		return nil, 0, err
	}
	return file, next, nil
}

// maybeRotateLocked decides whether to rotate before appending the next frame.
// A frame never spans segments, and an empty segment always accepts a frame.
func (l *Log) maybeRotateLocked(frameSize int64) error {
	if l.opts.SegmentMaxBytes <= 0 {
		return nil
	}
	current := l.active.CurrentOffset()
	if current == 0 || current+frameSize <= l.opts.SegmentMaxBytes {
		return nil
	}

	// sealed segments are durable before the next one exists
	if err := l.active.FSync(); err != nil {
		return err
	}
	if err := l.active.Close(); err != nil {
		return err
	}
	newFile, newSegID, err := l.createNextSegment(l.activeSegID)
	if err != nil {
		return err
	}
	appender, err := NewSegmentAppender(newFile)
	if err != nil {
		_ = newFile.Close()
		return err
	}

	l.segments = append(l.segments, newSegID)
	l.activeSegID = newSegID
	l.active = appender

	return nil
}
