package trx

import (
	"fmt"

	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
)

// OpKind is the kind of a journaled operation.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "INSERT"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Operation is one journal entry: a record this transaction stamped.
type Operation struct {
	Kind  OpKind
	Table table.Table
	RID   table.RID
}

type opKey struct {
	kind    OpKind
	tableID int32
	rid     table.RID
}

func (op Operation) key() opKey {
	return opKey{kind: op.Kind, tableID: op.Table.ID(), rid: op.RID}
}

func (op Operation) String() string {
	return fmt.Sprintf("%s table=%d rid=%s", op.Kind, op.Table.ID(), op.RID)
}

// journal is an ordered, duplicate-free operation set.
type journal struct {
	ops  []Operation
	seen map[opKey]struct{}
}

func (j *journal) add(op Operation) bool {
	if j.seen == nil {
		j.seen = make(map[opKey]struct{})
	}
	k := op.key()
	if _, dup := j.seen[k]; dup {
		return false
	}
	j.seen[k] = struct{}{}
	j.ops = append(j.ops, op)
	return true
}

func (j *journal) len() int { return len(j.ops) }

func (j *journal) clear() {
	j.ops = nil
	j.seen = nil
}
