package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/julianstephens/go-utils/cliutil"

	"github.com/julianstephens/mvccdb/internal/mvccdb"
	"github.com/julianstephens/mvccdb/internal/mvccdb/db"
	"github.com/julianstephens/mvccdb/internal/mvccdb/metrics"
	"github.com/julianstephens/mvccdb/internal/mvccdb/recovery"
	"github.com/julianstephens/mvccdb/internal/mvccdb/table"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
	"github.com/julianstephens/mvccdb/internal/mvccdb/workload"
)

// InitCmd initializes a new database directory.
type InitCmd struct {
	NoFsync         bool   `help:"Do not fsync the log on commit"`
	SegmentMaxBytes int64  `help:"Log segment rotation threshold in bytes (0 disables rotation)" default:"${segment_max_bytes}"`
	Incomplete      string `help:"How open resolves transactions with no outcome" enum:"rollback,drop" default:"rollback"`
}

func (c *InitCmd) Run(g *Globals) error {
	opts := mvccdb.DefaultOpenOptions()
	opts.FsyncOnCommit = !c.NoFsync
	opts.SegmentMaxBytes = c.SegmentMaxBytes
	opts.Incomplete = mvccdb.IncompletePolicy(c.Incomplete)

	if err := db.Create(g.DB, opts); err != nil {
		cliutil.PrintError("failed to initialize database: " + err.Error())
		return err
	}
	_, err := fmt.Fprintf(g.out(), "initialized %s\n", g.DB)
	return err
}

// CreateTableCmd adds a table.
type CreateTableCmd struct {
	Name    string `arg:"" help:"Table name"`
	DataLen int    `help:"Fixed payload length in bytes (0 for variable)" default:"0"`
}

func (c *CreateTableCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(d, g.lg())

	tbl, err := d.CreateTable(c.Name, c.DataLen)
	if err != nil {
		cliutil.PrintError("failed to create table: " + err.Error())
		return err
	}
	_, err = fmt.Fprintf(g.out(), "created table %s id=%d\n", tbl.Name(), tbl.ID())
	return err
}

// InsertCmd inserts payloads in one transaction.
type InsertCmd struct {
	Table    string   `arg:"" help:"Table name"`
	Payloads []string `arg:"" help:"Payloads to insert"`
}

func (c *InsertCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(d, g.lg())

	tbl, err := d.Table(c.Table)
	if err != nil {
		cliutil.PrintError(err.Error())
		return err
	}

	var rids []table.RID
	err = inTrx(d, func(tx *trx.Trx) error {
		for _, p := range c.Payloads {
			rec := tbl.Meta().NewRecord([]byte(p))
			if err := tx.Insert(tbl, rec); err != nil {
				return err
			}
			rids = append(rids, rec.RID)
		}
		return nil
	})
	if err != nil {
		cliutil.PrintError("insert failed: " + err.Error())
		return err
	}
	for _, rid := range rids {
		if _, err := fmt.Fprintln(g.out(), rid); err != nil {
			return err
		}
	}
	return nil
}

// DeleteCmd deletes records by RID in one transaction.
type DeleteCmd struct {
	Table string   `arg:"" help:"Table name"`
	RIDs  []string `arg:"" name:"rid" help:"Record ids as page:slot"`
}

func (c *DeleteCmd) Run(g *Globals) error {
	rids := make([]table.RID, 0, len(c.RIDs))
	for _, s := range c.RIDs {
		rid, err := table.ParseRID(s)
		if err != nil {
			cliutil.PrintError(err.Error())
			return err
		}
		rids = append(rids, rid)
	}

	d, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(d, g.lg())

	tbl, err := d.Table(c.Table)
	if err != nil {
		cliutil.PrintError(err.Error())
		return err
	}

	err = inTrx(d, func(tx *trx.Trx) error {
		for _, rid := range rids {
			rec, err := tbl.GetRecord(rid)
			if err != nil {
				return err
			}
			if err := tx.Delete(tbl, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cliutil.PrintError("delete failed: " + err.Error())
		return err
	}
	_, err = fmt.Fprintf(g.out(), "deleted %d record(s)\n", len(rids))
	return err
}

// ScanCmd prints the rows of a table visible to a new snapshot.
type ScanCmd struct {
	Table string `arg:"" help:"Table name"`
	JSON  bool   `help:"Print rows as JSON"`
}

type scanRow struct {
	RID     table.RID `json:"rid"`
	Payload string    `json:"payload"`
}

func (c *ScanCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(d, g.lg())

	tbl, err := d.Table(c.Table)
	if err != nil {
		cliutil.PrintError(err.Error())
		return err
	}

	rows := []scanRow{}
	err = inTrx(d, func(tx *trx.Trx) error {
		return d.Scan(tx, tbl, func(rec *table.Record) bool {
			rows = append(rows, scanRow{RID: rec.RID, Payload: string(tbl.Meta().Payload(rec))})
			return true
		})
	})
	if err != nil {
		cliutil.PrintError("scan failed: " + err.Error())
		return err
	}

	if c.JSON {
		return g.printJSON(rows)
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(g.out(), "%s\t%s\n", r.RID, r.Payload); err != nil {
			return err
		}
	}
	return nil
}

// StatsCmd prints database statistics as JSON.
type StatsCmd struct {
	Metrics bool `help:"Include process metrics gathered while opening"`
}

type statsOutput struct {
	*db.Stats
	Recovery *recovery.Result `json:"recovery"`
	Metrics  []metrics.Sample `json:"metrics,omitempty"`
}

func (c *StatsCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(d, g.lg())

	s, err := d.Stats()
	if err != nil {
		cliutil.PrintError(err.Error())
		return err
	}
	out := statsOutput{Stats: s, Recovery: d.Recovery()}
	if c.Metrics {
		if out.Metrics, err = metrics.Snapshot(); err != nil {
			return err
		}
	}
	return g.printJSON(out)
}

// DoctorCmd replays the log without changing it and reports what open would do.
type DoctorCmd struct {
	JSON bool `help:"Print the full report as JSON"`
}

func (c *DoctorCmd) Run(g *Globals) error {
	report, err := db.Check(g.DB, g.lg())
	if err != nil {
		cliutil.PrintError("check failed: " + err.Error())
		return err
	}
	if c.JSON {
		if err := g.printJSON(report); err != nil {
			return err
		}
	} else if err := printReport(g, report); err != nil {
		return err
	}

	res := report.Recovery
	if res.TailStatus != recovery.TailStatusValid || len(res.Incomplete) > 0 {
		return ErrUnhealthy
	}
	return nil
}

func printReport(g *Globals, r *db.CheckReport) error {
	res := r.Recovery
	w := g.out()
	lines := []string{
		fmt.Sprintf("database:   %s", r.DatabaseID),
		fmt.Sprintf("segments:   %d", len(r.Segments)),
		fmt.Sprintf("active seg: %d", r.ActiveSegment),
		fmt.Sprintf("entries:    %d", res.Entries),
		fmt.Sprintf("committed:  %d", res.Committed),
		fmt.Sprintf("rolledback: %d", res.RolledBack),
		fmt.Sprintf("skipped:    %d", res.Skipped),
		fmt.Sprintf("incomplete: %v", res.Incomplete),
		fmt.Sprintf("max trx id: %d", res.MaxTrxID),
		fmt.Sprintf("tail:       %s", res.TailStatus),
	}
	if res.TruncatedAt != nil {
		lines = append(lines, fmt.Sprintf("torn frame: seg=%d at=%d", res.TruncatedAt.SegID, res.TruncatedAt.Offset))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

// BenchCmd runs a concurrent insert/delete workload against one table.
type BenchCmd struct {
	Table       string `help:"Table to run against; created if missing" default:"bench"`
	Workers     int    `help:"Concurrent workers" default:"8"`
	Trxs        int    `help:"Transactions to run" default:"1000"`
	Ops         int    `help:"Operations per transaction" default:"4"`
	Payload     int    `help:"Payload size in bytes" default:"16"`
	DeletePct   int    `help:"Percentage of operations that delete" default:"25"`
	RollbackPct int    `help:"Percentage of transactions rolled back" default:"10"`
	Seed        uint64 `help:"Random seed" default:"1"`
}

type benchOutput struct {
	*workload.Report
	TrxPerSecond float64 `json:"trx_per_second"`
}

func (c *BenchCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(d, g.lg())

	tbl, err := d.Table(c.Table)
	if errors.Is(err, db.ErrTableNotFound) {
		tbl, err = d.CreateTable(c.Table, 0)
	}
	if err != nil {
		cliutil.PrintError(err.Error())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, err := workload.Run(ctx, d.Trxs(), tbl, workload.Config{
		Workers:     c.Workers,
		Trxs:        c.Trxs,
		OpsPerTrx:   c.Ops,
		PayloadSize: c.Payload,
		DeletePct:   c.DeletePct,
		RollbackPct: c.RollbackPct,
		Seed:        c.Seed,
	}, g.lg())
	if err != nil {
		cliutil.PrintError("bench failed: " + err.Error())
		return err
	}
	return g.printJSON(benchOutput{Report: rep, TrxPerSecond: rep.TrxPerSecond()})
}
