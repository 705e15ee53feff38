// Package workload drives concurrent insert and delete transactions against
// one table. It backs the bench command and the concurrency tests.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
)

var ErrInvalidConfig = errors.New("workload: invalid config")

// Config sizes a run.
type Config struct {
	Workers     int
	Trxs        int
	OpsPerTrx   int
	PayloadSize int
	// DeletePct is the percentage of operations that delete a committed row.
	DeletePct int
	// RollbackPct is the percentage of transactions rolled back on purpose.
	RollbackPct int
	Seed        uint64
}

// DefaultConfig returns a small mixed workload.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		Trxs:        1000,
		OpsPerTrx:   4,
		PayloadSize: 16,
		DeletePct:   25,
		RollbackPct: 10,
		Seed:        1,
	}
}

func (c Config) validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers=%d", ErrInvalidConfig, c.Workers)
	case c.Trxs < 0:
		return fmt.Errorf("%w: trxs=%d", ErrInvalidConfig, c.Trxs)
	case c.OpsPerTrx <= 0:
		return fmt.Errorf("%w: ops_per_trx=%d", ErrInvalidConfig, c.OpsPerTrx)
	case c.PayloadSize < 0:
		return fmt.Errorf("%w: payload_size=%d", ErrInvalidConfig, c.PayloadSize)
	case c.DeletePct < 0 || c.DeletePct > 100:
		return fmt.Errorf("%w: delete_pct=%d", ErrInvalidConfig, c.DeletePct)
	case c.RollbackPct < 0 || c.RollbackPct > 100:
		return fmt.Errorf("%w: rollback_pct=%d", ErrInvalidConfig, c.RollbackPct)
	}
	return nil
}

// Report counts what a run did.
type Report struct {
	Committed  int64         `json:"committed"`
	RolledBack int64         `json:"rolled_back"`
	Conflicts  int64         `json:"conflicts"`
	Inserted   int64         `json:"inserted"`
	Deleted    int64         `json:"deleted"`
	Duration   time.Duration `json:"duration"`
}

// TrxPerSecond is the finished transaction rate.
func (r *Report) TrxPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Committed+r.RolledBack) / r.Duration.Seconds()
}

// runner holds the state shared by all jobs of one run.
type runner struct {
	mgr *trx.Manager
	tbl table.Table
	cfg Config
	lg  logger.Logger

	mu   sync.Mutex
	live []table.RID

	committed, rolledBack, conflicts, inserted, deleted atomic.Int64

	errOnce sync.Once
	err     error
}

// Run executes cfg.Trxs transactions on a pool of cfg.Workers goroutines.
// It stops submitting when ctx is done and returns ctx's error after the
// submitted transactions finish.
func Run(ctx context.Context, mgr *trx.Manager, tbl table.Table, cfg Config, lg logger.Logger) (*Report, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if dl := tbl.Meta().DataLen; dl > 0 {
		cfg.PayloadSize = dl
	}

	r := &runner{mgr: mgr, tbl: tbl, cfg: cfg, lg: lg}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	lg.Info("workload starting", "table", tbl.Name(), "workers", cfg.Workers, "trxs", cfg.Trxs)
	start := time.Now()

	var wg sync.WaitGroup
	var runErr error
	for i := 0; i < cfg.Trxs; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i))) //nolint:gosec
		wg.Add(1)
		if err := pool.Submit(func() {
			defer func() {
				if v := recover(); v != nil {
					r.fail(panicErr(v))
				}
				wg.Done()
			}()
			r.runOne(rng)
		}); err != nil {
			wg.Done()
			runErr = err
			break
		}
	}
	wg.Wait()

	rep := &Report{
		Committed:  r.committed.Load(),
		RolledBack: r.rolledBack.Load(),
		Conflicts:  r.conflicts.Load(),
		Inserted:   r.inserted.Load(),
		Deleted:    r.deleted.Load(),
		Duration:   time.Since(start),
	}
	lg.Info("workload finished",
		"committed", rep.Committed,
		"rolled_back", rep.RolledBack,
		"conflicts", rep.Conflicts,
		"duration", rep.Duration.String(),
	)

	if r.err != nil {
		return rep, r.err
	}
	return rep, runErr
}

func (r *runner) fail(err error) {
	r.errOnce.Do(func() {
		r.err = err
		r.lg.Error("workload failed", err)
	})
}

// panicErr keeps an error panic value (such as *trx.InvariantError) in the
// chain so callers can match it.
func panicErr(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("workload: transaction panicked: %w", err)
	}
	return fmt.Errorf("workload: transaction panicked: %v", v)
}

func (r *runner) runOne(rng *rand.Rand) {
	t := r.mgr.Create()
	defer r.mgr.Destroy(t)

	var inserted []table.RID
	var deleted []table.RID
	for op := 0; op < r.cfg.OpsPerTrx; op++ {
		if rng.IntN(100) < r.cfg.DeletePct {
			rid, ok, err := r.deleteOne(t, rng, deleted)
			if errors.Is(err, trx.ErrConcurrencyConflict) {
				r.conflicts.Add(1)
				r.rollback(t)
				return
			}
			if err != nil {
				r.fail(err)
				r.rollback(t)
				return
			}
			if ok {
				deleted = append(deleted, rid)
			}
			continue
		}

		rec := r.tbl.Meta().NewRecord(payload(rng, r.cfg.PayloadSize))
		if err := t.Insert(r.tbl, rec); err != nil {
			r.fail(err)
			r.rollback(t)
			return
		}
		inserted = append(inserted, rec.RID)
	}

	if rng.IntN(100) < r.cfg.RollbackPct {
		r.rollback(t)
		return
	}
	if err := t.Commit(); err != nil {
		r.fail(err)
		return
	}
	r.committed.Add(1)
	r.inserted.Add(int64(len(inserted)))
	r.deleted.Add(int64(len(deleted)))
	r.publish(inserted, deleted)
}

// deleteOne deletes a random row some earlier transaction committed. A row
// this snapshot cannot see is not an error; ok reports whether a delete
// happened. Rows t already deleted are skipped since revisiting them
// reports a conflict.
func (r *runner) deleteOne(t *trx.Trx, rng *rand.Rand, mine []table.RID) (table.RID, bool, error) {
	r.mu.Lock()
	if len(r.live) == 0 {
		r.mu.Unlock()
		return table.RID{}, false, nil
	}
	rid := r.live[rng.IntN(len(r.live))]
	r.mu.Unlock()

	if slices.Contains(mine, rid) {
		return rid, false, nil
	}

	rec, err := r.tbl.GetRecord(rid)
	if errors.Is(err, table.ErrRecordNotFound) {
		return rid, false, nil
	}
	if err != nil {
		return rid, false, err
	}
	err = t.Delete(r.tbl, rec)
	switch {
	case err == nil:
		return rid, true, nil
	case errors.Is(err, trx.ErrRecordInvisible):
		return rid, false, nil
	default:
		return rid, false, err
	}
}

func (r *runner) rollback(t *trx.Trx) {
	if err := t.Rollback(); err != nil {
		r.fail(err)
		return
	}
	r.rolledBack.Add(1)
}

func (r *runner) publish(inserted, deleted []table.RID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = append(r.live, inserted...)
	for _, rid := range deleted {
		for i, have := range r.live {
			if have == rid {
				r.live[i] = r.live[len(r.live)-1]
				r.live = r.live[:len(r.live)-1]
				break
			}
		}
	}
}

func payload(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + rng.IntN(26))
	}
	return b
}
