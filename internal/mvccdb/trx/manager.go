// Package trx implements multi-version transactions over stamped records and
// the registry that allocates their ids.
//
// Every record carries two hidden int32 stamps, begin and end. A positive
// begin is the commit id of the creating transaction; a negative begin marks
// an uncommitted insert by the transaction whose id is its negation. End is
// MaxXID for a live record, the committing deleter's id once deleted, or the
// negated id of a transaction that is deleting it.
package trx

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

// MaxXID is the end stamp of a record that has not been deleted.
const MaxXID int32 = math.MaxInt32

const (
	BeginFieldName = "__trx_xid_begin"
	EndFieldName   = "__trx_xid_end"
)

// LogSink receives the log entries a transaction produces.
// AppendCommit must not return until the entry is durable.
type LogSink interface {
	AppendBegin(trxID int32) error
	AppendCommit(trxID, commitXID int32) error
	AppendRollback(trxID int32) error
	AppendRecord(kind record.EntryKind, trxID, tableID int32, rid table.RID, data []byte) error
}

// Manager is the transaction registry. The registry map is guarded by mu;
// id allocation is lock-free.
type Manager struct {
	mu   sync.Mutex
	trxs map[int32]*Trx

	current atomic.Int32
	fields  []table.FieldMeta

	sink LogSink
	lg   logger.Logger
}

// NewManager creates a manager whose transactions log to sink.
func NewManager(sink LogSink, lg logger.Logger) *Manager {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	m := &Manager{
		trxs: make(map[int32]*Trx),
		fields: []table.FieldMeta{
			{Name: BeginFieldName, Offset: 0, Len: 4, Visible: false},
			{Name: EndFieldName, Offset: 4, Len: 4, Visible: false},
		},
		sink: sink,
		lg:   lg,
	}
	lg.Info("trx manager initialized")
	return m
}

// Create returns a new transaction without an id. It is registered when
// StartIfNeed assigns one.
func (m *Manager) Create() *Trx {
	return &Trx{mgr: m, sink: m.sink}
}

// CreateRecovered materializes a transaction found in the log during
// recovery. It is registered immediately and the id counter is raised to
// at least id.
func (m *Manager) CreateRecovered(id int32) (*Trx, error) {
	if id <= 0 {
		return nil, wrapTrxErr("create_recovered", ErrInvalidArgument, id, nil)
	}
	t := &Trx{mgr: m, id: id, started: true, recovering: true}

	m.mu.Lock()
	if _, exists := m.trxs[id]; exists {
		m.mu.Unlock()
		return nil, wrapTrxErr("create_recovered", ErrDuplicateTrxID, id, nil)
	}
	m.trxs[id] = t
	m.mu.Unlock()

	m.UpdateID(id)
	return t, nil
}

// Destroy deregisters t. It is safe to call more than once.
func (m *Manager) Destroy(t *Trx) {
	if t == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.trxs[t.id]; ok && cur == t {
		delete(m.trxs, t.id)
	}
}

// Find returns the registered transaction with the given id.
func (m *Manager) Find(id int32) (*Trx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trxs[id]
	return t, ok
}

// All returns the registered transactions ordered by id.
func (m *Manager) All() []*Trx {
	m.mu.Lock()
	out := make([]*Trx, 0, len(m.trxs))
	for _, t := range m.trxs {
		out = append(out, t)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b *Trx) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Len returns the number of registered transactions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trxs)
}

// NextID atomically advances the counter and returns the new value. It is
// drawn once for a transaction id and again for its commit id.
func (m *Manager) NextID() int32 {
	return m.current.Add(1)
}

// UpdateID raises the counter to at least id. It never lowers it.
func (m *Manager) UpdateID(id int32) {
	for {
		old := m.current.Load()
		if old >= id || m.current.CompareAndSwap(old, id) {
			return
		}
	}
}

// CurrentID returns the last id handed out or observed.
func (m *Manager) CurrentID() int32 {
	return m.current.Load()
}

// TrxFields returns the stamp field template, begin first then end.
func (m *Manager) TrxFields() []table.FieldMeta {
	return slices.Clone(m.fields)
}

// register files t under its (new) id, dropping any entry under oldID.
func (m *Manager) register(t *Trx, oldID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.trxs[t.id]; ok && cur != t {
		return wrapTrxErr("register", ErrDuplicateTrxID, t.id, nil)
	}
	if cur, ok := m.trxs[oldID]; ok && cur == t && oldID != t.id {
		delete(m.trxs, oldID)
	}
	m.trxs[t.id] = t
	return nil
}
