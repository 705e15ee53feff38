package mvccdb

const (
	DefaultSegmentMaxBytes int64 = 64 * 1024 * 1024
	ManifestVersion              = 1
	WALDirName                   = "wal"
	DefaultAppDir                = ".mvccdb"
	DefaultLogDir                = "logs"
)

// Log file defaults
const (
	DefaultLogFileName   = "mvccdb.log"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
	DefaultLogLevel      = "info"
)
