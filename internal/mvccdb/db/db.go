// Package db assembles the manifest, the log, the tables and the
// transaction manager into one database directory.
package db

import (
	"cmp"
	"errors"
	"path/filepath"
	"slices"
	"sync"

	"github.com/julianstephens/go-utils/helpers"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb"
	"github.com/julianstephens/mvccdb/internal/mvccdb/manifest"
	"github.com/julianstephens/mvccdb/internal/mvccdb/memtable"
	"github.com/julianstephens/mvccdb/internal/mvccdb/recovery"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal"
)

// DB is an open database directory.
type DB struct {
	mu sync.RWMutex

	path     string
	man      *manifest.Manifest
	log      *wal.Manager
	trxs     *trx.Manager
	tables   map[int32]*memtable.Table
	recovery *recovery.Result
	opts     mvccdb.OpenOptions
	logger   logger.Logger
	closed   bool
}

var _ table.Catalog = (*DB)(nil)

// Create initializes a new database directory with the given options.
func Create(path string, opts mvccdb.OpenOptions) error {
	if path == "" {
		return wrapDBErr("create", ErrInvalidDir, path, nil)
	}
	if manifest.Exists(path) {
		return wrapDBErr("create", ErrAlreadyExists, path, nil)
	}
	if err := manifest.Create(path, manifest.New(opts)); err != nil {
		return wrapDBErr("create", ErrInitFailed, path, err)
	}
	if err := helpers.Ensure(walDir(path), true); err != nil {
		return wrapDBErr("create", ErrInitFailed, path, err)
	}
	return nil
}

// Open opens an existing database using the settings stored in its manifest.
func Open(path string, lg logger.Logger) (*DB, error) {
	return open(path, nil, lg)
}

// OpenWithOptions opens an existing database with runtime settings taken from
// opts. A zero SegmentMaxBytes, an empty Incomplete or an unset FsyncSet falls
// back to the manifest.
// The caller is responsible for managing the logger lifecycle.
func OpenWithOptions(path string, opts mvccdb.OpenOptions, lg logger.Logger) (*DB, error) {
	return open(path, &opts, lg)
}

func open(path string, override *mvccdb.OpenOptions, lg logger.Logger) (*DB, error) {
	if path == "" {
		return nil, wrapDBErr("open", ErrInvalidDir, path, nil)
	}
	if lg == nil {
		lg = logger.NoOpLogger{}
	}

	man, err := manifest.Open(path)
	if err != nil {
		lg.Error("failed to open manifest", err, "path", path)
		if !manifest.Exists(path) {
			return nil, wrapDBErr("open", ErrManifestMissing, path, err)
		}
		return nil, wrapDBErr("open", ErrManifestInvalid, path, err)
	}

	db := &DB{
		path:   path,
		man:    man,
		tables: make(map[int32]*memtable.Table),
		opts:   resolveOptions(man, override),
		logger: lg,
	}

	lg.Info("opening database",
		"path", path,
		"database_id", man.DatabaseID,
		"fsync_on_commit", db.opts.FsyncOnCommit,
		"incomplete", string(db.opts.Incomplete),
	)

	if err := db.initialize(); err != nil {
		lg.Error("failed to initialize database", err, "path", path)
		if db.log != nil {
			_ = db.log.Close()
		}
		return nil, err
	}

	lg.Info("database opened successfully", "path", path, "tables", len(db.tables))
	return db, nil
}

func resolveOptions(man *manifest.Manifest, override *mvccdb.OpenOptions) mvccdb.OpenOptions {
	opts := mvccdb.OpenOptions{
		FsyncOnCommit:   man.FsyncOnCommit,
		SegmentMaxBytes: man.SegmentMaxBytes,
		Incomplete:      man.IncompletePolicy,
	}
	if man.LogMaxSize != nil {
		opts.LogMaxSize = *man.LogMaxSize
	}
	if man.LogMaxBackups != nil {
		opts.LogMaxBak = *man.LogMaxBackups
	}
	if override != nil {
		if override.FsyncSet {
			opts.FsyncOnCommit = override.FsyncOnCommit
		}
		if override.SegmentMaxBytes > 0 {
			opts.SegmentMaxBytes = override.SegmentMaxBytes
		}
		if override.Incomplete != "" {
			opts.Incomplete = override.Incomplete
		}
	}
	if opts.Incomplete == "" {
		opts.Incomplete = mvccdb.IncompleteRollback
	}
	return opts
}

func (db *DB) initialize() error {
	log, err := wal.OpenManager(walDir(db.path), wal.ManagerOpts{
		SegmentMaxBytes: db.opts.SegmentMaxBytes,
		FsyncOnCommit:   db.opts.FsyncOnCommit,
	}, logger.Component(db.logger, "wal"))
	if err != nil {
		return wrapDBErr("open", ErrWALOpenFailed, db.path, err)
	}
	db.log = log
	db.trxs = trx.NewManager(log, logger.Component(db.logger, "trx"))

	for _, e := range db.man.Tables {
		db.addTableLocked(e)
	}

	it, err := log.Iterator()
	if err != nil {
		return wrapDBErr("replay", ErrReplayFailed, db.path, err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			db.logger.Error("failed to close log iterator", cerr, "path", db.path)
		}
	}()

	db.logger.Info("starting recovery", "seg_count", len(log.SegmentIDs()))
	res, err := recovery.Recover(it, db, db.trxs, recovery.Options{
		Incomplete: db.opts.Incomplete,
		Decisions:  log,
		Tail:       log,
	}, logger.Component(db.logger, "recovery"))
	if err != nil {
		return wrapDBErr("replay", ErrReplayFailed, db.path, err)
	}
	db.recovery = res
	return nil
}

func (db *DB) addTableLocked(e manifest.TableEntry) *memtable.Table {
	t := memtable.New(&table.Meta{
		Name:      e.Name,
		TableID:   e.ID,
		DataLen:   e.DataLen,
		SysFields: db.trxs.TrxFields(),
	})
	db.tables[e.ID] = t
	return t
}

// Close closes the log. Transactions still open are abandoned; recovery
// resolves them on the next open. Close is safe to call more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	db.logger.Info("closing database", "path", db.path, "active_trxs", db.trxs.Len())
	if err := db.log.Close(); err != nil {
		db.logger.Error("failed to close log", err, "path", db.path)
		return wrapDBErr("close", ErrCloseFailed, db.path, err)
	}
	return nil
}

// Path returns the database directory.
func (db *DB) Path() string {
	return db.path
}

// ID returns the database id recorded in the manifest.
func (db *DB) ID() string {
	return db.man.DatabaseID
}

// IsClosed returns true if the database is closed.
func (db *DB) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Options returns the runtime settings in effect.
func (db *DB) Options() mvccdb.OpenOptions {
	return db.opts
}

// Recovery returns the summary of the recovery run performed by Open.
func (db *DB) Recovery() *recovery.Result {
	return db.recovery
}

// Trxs returns the transaction manager.
func (db *DB) Trxs() *trx.Manager {
	return db.trxs
}

// Log returns the log manager.
func (db *DB) Log() *wal.Manager {
	return db.log
}

// CreateTable adds a table to the catalog and persists it in the manifest.
// dataLen 0 means variable-length records.
func (db *DB) CreateTable(name string, dataLen int) (table.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, wrapDBErr("create_table", ErrClosed, db.path, nil)
	}

	e, err := db.man.AddTable(name, dataLen)
	if err != nil {
		return nil, wrapDBErr("create_table", tableSentinel(err), db.path, err)
	}
	if err := db.man.Save(); err != nil {
		// undo AddTable
		db.man.Tables = db.man.Tables[:len(db.man.Tables)-1]
		db.man.NextTableID--
		return nil, wrapDBErr("create_table", ErrInitFailed, db.path, err)
	}

	db.logger.Info("table created", "table", name, "table_id", e.ID, "data_len", dataLen)
	return db.addTableLocked(e), nil
}

func tableSentinel(err error) error {
	switch {
	case errors.Is(err, manifest.ErrTableExists):
		return ErrTableExists
	default:
		return ErrInvalidTable
	}
}

// Table returns the table called name.
func (db *DB) Table(name string) (table.Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	e, ok := db.man.FindTable(name)
	if !ok {
		return nil, wrapDBErr("table", ErrTableNotFound, db.path, nil)
	}
	return db.tables[e.ID], nil
}

// FindTable resolves a table by id.
func (db *DB) FindTable(tableID int32) (table.Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, ok := db.tables[tableID]
	if !ok {
		return nil, false
	}
	return t, true
}

// Tables returns every table ordered by id.
func (db *DB) Tables() []table.Table {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]table.Table, 0, len(db.tables))
	for _, t := range db.tables {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b table.Table) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Begin creates a transaction. It draws an id and logs BEGIN on its first
// operation, or when StartIfNeed is called to take a read snapshot.
func (db *DB) Begin() (*trx.Trx, error) {
	if db.IsClosed() {
		return nil, wrapDBErr("begin", ErrClosed, db.path, nil)
	}
	return db.trxs.Create(), nil
}

// Scan calls fn with every record of tbl visible to t, in RID order, until
// fn returns false. t is started if it has not been. fn must not call back
// into tbl.
func (db *DB) Scan(t *trx.Trx, tbl table.Table, fn func(rec *table.Record) bool) error {
	if err := t.StartIfNeed(); err != nil {
		return err
	}
	return tbl.Scan(func(rec *table.Record) bool {
		if t.Visit(tbl, rec, true) != nil {
			return true
		}
		return fn(rec)
	})
}

func walDir(path string) string {
	return filepath.Join(path, mvccdb.WALDirName)
}
