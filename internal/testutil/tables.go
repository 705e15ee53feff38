package testutil

import (
	"encoding/binary"
	"sync"

	"github.com/julianstephens/mvccdb/internal/mvccdb/memtable"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
)

// StampFields mirrors the stamp template used by trx.Manager.
func StampFields() []table.FieldMeta {
	return []table.FieldMeta{
		{Name: "__trx_xid_begin", Offset: 0, Len: 4},
		{Name: "__trx_xid_end", Offset: 4, Len: 4},
	}
}

// NewTable creates an in-memory table with stamp fields and a variable
// length payload.
func NewTable(id int32, name string) *memtable.Table {
	return memtable.New(&table.Meta{Name: name, TableID: id, SysFields: StampFields()})
}

// NewRecord builds a record whose data is an empty stamp prefix followed by payload.
func NewRecord(payload string) *table.Record {
	data := make([]byte, table.StampSize+len(payload))
	copy(data[table.StampSize:], payload)
	return &table.Record{Data: data}
}

// Stamps returns the begin and end stamps of rec.
func Stamps(rec *table.Record) (begin, end int32) {
	begin = int32(binary.LittleEndian.Uint32(rec.Data[0:4])) //nolint:gosec
	end = int32(binary.LittleEndian.Uint32(rec.Data[4:8]))   //nolint:gosec
	return begin, end
}

// Payload returns the user data of rec.
func Payload(rec *table.Record) string {
	return string(rec.Data[table.StampSize:])
}

// Catalog is a table.Catalog backed by a map.
type Catalog struct {
	mu     sync.RWMutex
	tables map[int32]table.Table
}

// NewCatalog creates a catalog holding the given tables.
func NewCatalog(tables ...table.Table) *Catalog {
	c := &Catalog{tables: make(map[int32]table.Table)}
	for _, t := range tables {
		c.tables[t.ID()] = t
	}
	return c
}

func (c *Catalog) FindTable(id int32) (table.Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[id]
	return t, ok
}

// Add registers t.
func (c *Catalog) Add(t table.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[t.ID()] = t
}
