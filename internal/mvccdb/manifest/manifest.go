// Package manifest persists database-wide settings and the table catalog.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/julianstephens/go-utils/helpers"
	"github.com/julianstephens/go-utils/jsonutil"

	"github.com/julianstephens/mvccdb/internal/mvccdb"
)

const ManifestFileName = "MANIFEST.json"

// FirstTableID is the id given to the first table created in a database.
const FirstTableID int32 = 1

// TableEntry describes one table. Recovery resolves logged table ids
// through these entries.
type TableEntry struct {
	ID      int32  `json:"id"`
	Name    string `json:"name"`
	DataLen int    `json:"data_len"`
}

// Manifest represents the database manifest file structure
type Manifest struct {
	Version          int                     `json:"version"`
	DatabaseID       string                  `json:"database_id"`
	FsyncOnCommit    bool                    `json:"fsync_on_commit"`
	SegmentMaxBytes  int64                   `json:"segment_max_bytes"`
	IncompletePolicy mvccdb.IncompletePolicy `json:"incomplete_policy"`
	LogMaxSize       *int                    `json:"log_max_size,omitempty"`
	LogMaxBackups    *int                    `json:"log_max_backups,omitempty"`
	NextTableID      int32                   `json:"next_table_id"`
	Tables           []TableEntry            `json:"tables"`

	dir string
}

// New returns a Manifest for a fresh database configured from opts.
func New(opts mvccdb.OpenOptions) *Manifest {
	m := &Manifest{
		Version:          mvccdb.ManifestVersion,
		DatabaseID:       uuid.NewString(),
		FsyncOnCommit:    opts.FsyncOnCommit,
		SegmentMaxBytes:  opts.SegmentMaxBytes,
		IncompletePolicy: opts.Incomplete,
		NextTableID:      FirstTableID,
		Tables:           []TableEntry{},
	}
	if m.SegmentMaxBytes <= 0 {
		m.SegmentMaxBytes = mvccdb.DefaultSegmentMaxBytes
	}
	if !m.IncompletePolicy.Valid() {
		m.IncompletePolicy = mvccdb.IncompleteRollback
	}
	if opts.LogMaxSize > 0 {
		m.LogMaxSize = &opts.LogMaxSize
	}
	if opts.LogMaxBak > 0 {
		m.LogMaxBackups = &opts.LogMaxBak
	}
	return m
}

// DefaultManifest returns a Manifest with default settings
func DefaultManifest() *Manifest {
	return New(mvccdb.DefaultOpenOptions())
}

// Path returns the manifest path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, ManifestFileName)
}

// Exists reports whether dir holds a manifest.
func Exists(dir string) bool {
	return helpers.Exists(Path(dir))
}

// Create writes m as the manifest of dir. It fails if one already exists.
func Create(dir string, m *Manifest) error {
	manifestPath := Path(dir)
	if helpers.Exists(manifestPath) {
		return &ManifestError{
			Kind: ManifestErrorKindAlreadyExists,
			Err:  fmt.Errorf("manifest already exists at %s", manifestPath),
		}
	}
	if err := helpers.Ensure(dir, true); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}

	m.dir = dir
	data, err := jsonutil.Marshal(m)
	if err != nil {
		return &ManifestError{Kind: ManifestErrorKindEncode, Err: err}
	}
	return writeFile(manifestPath, data)
}

// Open reads the manifest of dir.
func Open(dir string) (*Manifest, error) {
	manifestPath := Path(dir)
	if !helpers.Exists(manifestPath) {
		return nil, &ManifestError{Kind: ManifestErrorKindNotFound, Err: fs.ErrNotExist}
	}

	m := &Manifest{}
	if err := jsonutil.ReadFileStrict(manifestPath, m); err != nil {
		return nil, &ManifestError{Kind: ManifestErrorKindDecode, Err: err}
	}

	if m.Version > mvccdb.ManifestVersion {
		return nil, &ManifestError{
			Kind: ManifestErrorKindUnsupportedVersion,
			Err:  fmt.Errorf("manifest version %d is not supported", m.Version),
		}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}

	m.dir = dir
	return m, nil
}

// Save writes the manifest back to the directory it was opened from.
func (m *Manifest) Save() error {
	manifestPath := Path(m.dir)
	if !helpers.Exists(manifestPath) {
		return &ManifestError{Kind: ManifestErrorKindNotFound, Err: fs.ErrNotExist}
	}

	data, err := jsonutil.Marshal(m)
	if err != nil {
		return &ManifestError{Kind: ManifestErrorKindEncode, Err: err}
	}
	return writeFile(manifestPath, data)
}

// Dir returns the database directory the manifest belongs to.
func (m *Manifest) Dir() string {
	return m.dir
}

// AddTable allocates the next table id and records the table. The caller
// must Save for the entry to become durable.
func (m *Manifest) AddTable(name string, dataLen int) (TableEntry, error) {
	if name == "" || dataLen < 0 {
		return TableEntry{}, &ManifestError{
			Kind: ManifestErrorKindInvalidTable,
			Err:  fmt.Errorf("table %q data_len=%d", name, dataLen),
		}
	}
	if _, ok := m.FindTable(name); ok {
		return TableEntry{}, &ManifestError{
			Kind: ManifestErrorKindTableExists,
			Err:  fmt.Errorf("table %q", name),
		}
	}

	entry := TableEntry{ID: m.NextTableID, Name: name, DataLen: dataLen}
	m.Tables = append(m.Tables, entry)
	m.NextTableID++
	return entry, nil
}

// FindTable returns the entry for name.
func (m *Manifest) FindTable(name string) (TableEntry, bool) {
	i := slices.IndexFunc(m.Tables, func(e TableEntry) bool { return e.Name == name })
	if i < 0 {
		return TableEntry{}, false
	}
	return m.Tables[i], true
}

func (m *Manifest) validate() error {
	if _, err := uuid.Parse(m.DatabaseID); err != nil {
		return &ManifestError{Kind: ManifestErrorKindCorrupted, Err: fmt.Errorf("database_id: %w", err)}
	}
	if m.IncompletePolicy != "" && !m.IncompletePolicy.Valid() {
		return &ManifestError{
			Kind: ManifestErrorKindCorrupted,
			Err:  fmt.Errorf("incomplete_policy %q", m.IncompletePolicy),
		}
	}

	ids := make(map[int32]struct{}, len(m.Tables))
	names := make(map[string]struct{}, len(m.Tables))
	for _, e := range m.Tables {
		if e.ID < FirstTableID || e.ID >= m.NextTableID {
			return &ManifestError{Kind: ManifestErrorKindCorrupted, Err: fmt.Errorf("table %q has id %d", e.Name, e.ID)}
		}
		if _, dup := ids[e.ID]; dup {
			return &ManifestError{Kind: ManifestErrorKindCorrupted, Err: fmt.Errorf("duplicate table id %d", e.ID)}
		}
		if _, dup := names[e.Name]; dup {
			return &ManifestError{Kind: ManifestErrorKindCorrupted, Err: fmt.Errorf("duplicate table name %q", e.Name)}
		}
		ids[e.ID] = struct{}{}
		names[e.Name] = struct{}{}
	}
	return nil
}

func writeFile(filePath string, data []byte) error {
	if err := helpers.AtomicFileWrite(filePath, data); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	f, err := os.Open(filepath.Dir(filePath)) //nolint:gosec
	if err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	defer func() { _ = f.Close() }()

	if err := f.Sync(); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	return nil
}
