package recovery

import (
	"fmt"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb/metrics"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/wal/record"
)

// replayState tracks the transactions whose BEGIN has been seen but whose
// COMMIT or ROLLBACK has not.
type replayState struct {
	cat    table.Catalog
	mgr    *trx.Manager
	lg     logger.Logger
	active map[int32]*trx.Trx
	res    *Result
}

func newReplayState(cat table.Catalog, mgr *trx.Manager, res *Result, lg logger.Logger) *replayState {
	return &replayState{
		cat:    cat,
		mgr:    mgr,
		lg:     lg,
		active: make(map[int32]*trx.Trx),
		res:    res,
	}
}

func (s *replayState) apply(e record.Entry) error {
	metrics.RecoveryEntriesTotal.WithLabelValues(e.Kind.String()).Inc()
	s.res.Entries++

	switch e.Kind {
	case record.KindBegin:
		return s.onBegin(e)
	case record.KindInsert, record.KindDelete:
		return s.onRecord(e)
	case record.KindCommit, record.KindRollback:
		return s.onFinish(e)
	default:
		return fmt.Errorf("unexpected entry kind %s", e.Kind)
	}
}

func (s *replayState) onBegin(e record.Entry) error {
	if _, ok := s.active[e.TrxID]; ok {
		return ErrDoubleBegin
	}
	t, err := s.mgr.CreateRecovered(e.TrxID)
	if err != nil {
		return err
	}
	s.active[e.TrxID] = t
	return nil
}

func (s *replayState) onRecord(e record.Entry) error {
	t, ok := s.active[e.TrxID]
	if !ok {
		s.skip(e)
		return nil
	}
	return t.Redo(s.cat, e)
}

func (s *replayState) onFinish(e record.Entry) error {
	t, ok := s.active[e.TrxID]
	if !ok {
		s.skip(e)
		return nil
	}
	if err := t.Redo(s.cat, e); err != nil {
		return err
	}
	delete(s.active, e.TrxID)
	s.mgr.Destroy(t)

	if e.Kind == record.KindCommit {
		s.res.Committed++
		metrics.RecoveredTrxTotal.WithLabelValues(ResolutionCommitted).Inc()
	} else {
		s.res.RolledBack++
		metrics.RecoveredTrxTotal.WithLabelValues(ResolutionRolledBack).Inc()
	}
	return nil
}

// skip drops an entry whose transaction has no BEGIN in the log. Its ids
// still count toward the id counter so they are never handed out again.
func (s *replayState) skip(e record.Entry) {
	s.res.Skipped++
	s.mgr.UpdateID(max(e.TrxID, e.CommitXID))
	s.lg.Warn("skipping entry for unknown transaction", "trx", e.TrxID, "kind", e.Kind.String())
}
