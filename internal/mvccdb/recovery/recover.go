// Package recovery rebuilds table state and the transaction id counter from
// the log after a restart.
package recovery

import (
	"fmt"
	"slices"

	"github.com/julianstephens/go-utils/generic"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb"
	"github.com/julianstephens/mvccdb/internal/mvccdb/errorutil"
	"github.com/julianstephens/mvccdb/internal/mvccdb/metrics"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

type TailStatus int

const (
	// TailStatusValid indicates the log ended on a frame boundary.
	TailStatusValid TailStatus = iota
	// TailStatusCorrupt indicates an undecodable entry stopped recovery.
	TailStatusCorrupt
	// TailStatusTruncated indicates the last frame was only partially written.
	TailStatusTruncated
)

func (ts TailStatus) String() string {
	switch ts {
	case TailStatusValid:
		return "valid"
	case TailStatusCorrupt:
		return "corrupt"
	case TailStatusTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

func (ts TailStatus) MarshalText() ([]byte, error) {
	return []byte(ts.String()), nil
}

func (ts *TailStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "valid":
		*ts = TailStatusValid
	case "corrupt":
		*ts = TailStatusCorrupt
	case "truncated":
		*ts = TailStatusTruncated
	default:
		return fmt.Errorf("unknown tail status %q", b)
	}
	return nil
}

// Resolution labels for metrics.RecoveredTrxTotal.
const (
	ResolutionCommitted      = "committed"
	ResolutionRolledBack     = "rolled_back"
	ResolutionForcedRollback = "forced_rollback"
	ResolutionDropped        = "dropped"
)

// EntrySource yields decoded log entries in append order and io.EOF at the end.
// *wal.Iterator satisfies it.
type EntrySource interface {
	Next() (record.Entry, error)
}

// positioner is implemented by sources that can say where the last entry was.
type positioner interface {
	Position() wal.Position
}

// DecisionLog records the rollback of an incomplete transaction durably.
// *wal.Manager satisfies it.
type DecisionLog interface {
	AppendRollback(trxID int32) error
	Sync() error
}

// TailTruncator cuts a torn frame off the end of the log.
// *wal.Manager satisfies it.
type TailTruncator interface {
	TruncateTail(pos wal.Position) error
}

// Options controls how recovery resolves transactions left incomplete.
type Options struct {
	// Incomplete defaults to mvccdb.IncompleteRollback.
	Incomplete mvccdb.IncompletePolicy
	// Decisions, if set, receives a ROLLBACK for every forced rollback.
	Decisions DecisionLog
	// Tail, if set, truncates a torn final frame before any decision is
	// appended. It needs a source that reports positions.
	Tail TailTruncator
}

// Result summarizes a recovery run.
type Result struct {
	Entries    int
	Committed  int
	RolledBack int
	Skipped    int
	// Incomplete lists the ids of transactions that had no COMMIT or ROLLBACK.
	Incomplete []int32
	MaxTrxID   int32
	TailStatus TailStatus
	// TruncatedAt is where a torn tail started, when the source reports positions.
	TruncatedAt *wal.Position
}

// Recover replays every entry of src into the tables of cat, registering
// recovered transactions with mgr while they are open. On return no
// recovered transaction is registered and mgr's id counter is at least the
// largest id found in the log.
func Recover(src EntrySource, cat table.Catalog, mgr *trx.Manager, opts Options, lg logger.Logger) (*Result, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	if src == nil || cat == nil || mgr == nil {
		return nil, ErrInvalidInput
	}
	policy := generic.If(opts.Incomplete == "", mvccdb.IncompleteRollback, opts.Incomplete)
	if !policy.Valid() {
		return nil, ErrInvalidInput
	}

	res := &Result{}
	state := newReplayState(cat, mgr, res, lg)

	for {
		e, err := src.Next()
		if err != nil {
			if record.IsCleanEOF(err) {
				break
			}
			if record.IsTruncation(err) {
				lg.Warn("log ends with a partial entry; treating as end of log", "at", coordinates(src, nil).String())
				res.TailStatus = TailStatusTruncated
				res.TruncatedAt = tailPosition(src, err)
				break
			}
			res.TailStatus = TailStatusCorrupt
			res.MaxTrxID = mgr.CurrentID()
			state.abandon()
			return res, decodeError(src, err)
		}

		if err := state.apply(e); err != nil {
			res.TailStatus = TailStatusCorrupt
			res.MaxTrxID = mgr.CurrentID()
			state.abandon()
			return res, &ReplayLogicError{
				Coordinates: coordinates(src, &e.TrxID),
				Kind:        logicKind(e.Kind),
				Err:         ErrApply,
				Cause:       err,
			}
		}
	}

	if res.TruncatedAt != nil && opts.Tail != nil {
		if err := opts.Tail.TruncateTail(*res.TruncatedAt); err != nil {
			state.abandon()
			res.MaxTrxID = mgr.CurrentID()
			return res, &ReplayDecodeError{
				Coordinates: errorutil.At(res.TruncatedAt.SegID, res.TruncatedAt.Offset),
				SafeOffset:  res.TruncatedAt.Offset,
				Err:         err,
			}
		}
	}

	if err := state.resolve(policy, opts.Decisions); err != nil {
		res.MaxTrxID = mgr.CurrentID()
		return res, err
	}

	res.MaxTrxID = mgr.CurrentID()
	lg.Info("recovery complete",
		"entries", res.Entries,
		"committed", res.Committed,
		"rolled_back", res.RolledBack,
		"incomplete", len(res.Incomplete),
		"skipped", res.Skipped,
		"max_trx_id", res.MaxTrxID,
		"tail", res.TailStatus.String(),
	)
	return res, nil
}

// resolve settles every transaction still active at the end of the log, in
// id order.
func (s *replayState) resolve(policy mvccdb.IncompletePolicy, decisions DecisionLog) error {
	ids := make([]int32, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	s.res.Incomplete = ids

	for _, id := range ids {
		t := s.active[id]
		delete(s.active, id)

		if policy == mvccdb.IncompleteDrop {
			s.mgr.Destroy(t)
			metrics.RecoveredTrxTotal.WithLabelValues(ResolutionDropped).Inc()
			s.lg.Warn("dropping incomplete transaction", "trx", id, "operations", len(t.Operations()))
			continue
		}

		err := t.Rollback()
		s.mgr.Destroy(t)
		if err != nil {
			s.abandon()
			return &ReplayLogicError{Coordinates: trxCoords(id), Kind: ReplayLogicResolve, Err: ErrResolve, Cause: err}
		}
		if decisions != nil {
			if err := decisions.AppendRollback(id); err != nil {
				s.abandon()
				return &ReplayLogicError{Coordinates: trxCoords(id), Kind: ReplayLogicResolve, Err: ErrResolve, Cause: err}
			}
		}
		metrics.RecoveredTrxTotal.WithLabelValues(ResolutionForcedRollback).Inc()
		s.lg.Info("rolled back incomplete transaction", "trx", id)
	}

	if decisions != nil && len(ids) > 0 && policy == mvccdb.IncompleteRollback {
		if err := decisions.Sync(); err != nil {
			return &ReplayLogicError{Kind: ReplayLogicResolve, Err: ErrResolve, Cause: err}
		}
	}
	return nil
}

// abandon deregisters every still-active transaction after a failed run.
func (s *replayState) abandon() {
	for id, t := range s.active {
		s.mgr.Destroy(t)
		delete(s.active, id)
	}
}

func coordinates(src EntrySource, trxID *int32) *errorutil.Coordinates {
	var c *errorutil.Coordinates
	if p, ok := src.(positioner); ok {
		pos := p.Position()
		c = errorutil.At(pos.SegID, pos.Offset)
	}
	if trxID != nil {
		c = c.WithTrx(*trxID)
	}
	return c
}

func tailPosition(src EntrySource, err error) *wal.Position {
	p, ok := src.(positioner)
	if !ok {
		return nil
	}
	pos := p.Position()
	if pe, ok := record.AsParseError(err); ok {
		pos.Offset = pe.SafeTruncateOffset
	}
	return &pos
}

func trxCoords(id int32) *errorutil.Coordinates {
	return &errorutil.Coordinates{TrxID: &id}
}

func decodeError(src EntrySource, err error) error {
	de := &ReplayDecodeError{
		Coordinates: coordinates(src, nil),
		Err:         err,
	}
	if pe, ok := record.AsParseError(err); ok {
		de.SafeOffset = pe.SafeTruncateOffset
		de.DeclaredLen = pe.DeclaredLen
		de.EntryKind = pe.EntryKind
	}
	return de
}
