package mvccdb

// IncompletePolicy decides what recovery does with a transaction whose
// BEGIN was logged but whose COMMIT or ROLLBACK never was.
type IncompletePolicy string

const (
	// IncompleteRollback undoes the transaction's stamps and logs a ROLLBACK.
	IncompleteRollback IncompletePolicy = "rollback"
	// IncompleteDrop forgets the transaction and leaves its stamps in place.
	IncompleteDrop IncompletePolicy = "drop"
)

// Valid reports whether p is a known policy.
func (p IncompletePolicy) Valid() bool {
	return p == IncompleteRollback || p == IncompleteDrop
}

// OpenOptions contains configuration for opening a database.
//
// FsyncOnCommit, SegmentMaxBytes and Incomplete are persisted in the manifest
// when the database is created; later opens use the manifest values unless
// the caller overrides them. A zero SegmentMaxBytes or empty Incomplete keeps
// the manifest value, and FsyncOnCommit only overrides when FsyncSet is true.
type OpenOptions struct {
	FsyncOnCommit   bool
	FsyncSet        bool
	SegmentMaxBytes int64
	Incomplete      IncompletePolicy

	// File-based logging configuration
	LogDir     string
	LogMaxSize int
	LogMaxBak  int
}

// DefaultOpenOptions returns the options used for a fresh database.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		FsyncOnCommit:   true,
		FsyncSet:        true,
		SegmentMaxBytes: DefaultSegmentMaxBytes,
		Incomplete:      IncompleteRollback,
		LogMaxSize:      DefaultLogMaxSize,
		LogMaxBak:       DefaultLogMaxBackups,
	}
}
