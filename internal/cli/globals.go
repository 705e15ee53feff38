// Package cli holds the mvccdb subcommands. Each command's Run receives the
// shared Globals bound by the kong context.
package cli

import (
	"errors"
	"io"
	"os"

	"github.com/julianstephens/go-utils/cliutil"
	"github.com/julianstephens/go-utils/jsonutil"

	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb/db"
	"github.com/julianstephens/mvccdb/internal/mvccdb/trx"
)

// ErrUnhealthy is returned by doctor when the log needs repair on next open.
var ErrUnhealthy = errors.New("database needs recovery")

// Globals are the flags and collaborators shared by every command.
type Globals struct {
	DB string `help:"Database directory" default:"." envvar:"MVCCDB_DIR" short:"d" type:"path"`

	Logger logger.Logger `kong:"-"`
	Out    io.Writer     `kong:"-"`
}

func (g *Globals) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Globals) lg() logger.Logger {
	if g.Logger == nil {
		return logger.NoOpLogger{}
	}
	return g.Logger
}

func (g *Globals) open() (*db.DB, error) {
	d, err := db.Open(g.DB, g.lg())
	if err != nil {
		cliutil.PrintError("failed to open database: " + err.Error())
		return nil, err
	}
	return d, nil
}

func (g *Globals) printJSON(v any) error {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = g.out().Write(data)
	return err
}

// inTrx runs fn in a fresh transaction, committing on success and rolling
// back otherwise. The transaction is deregistered either way.
func inTrx(d *db.DB, fn func(tx *trx.Trx) error) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	defer d.Trxs().Destroy(tx)

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return tx.Commit()
}

func closeDB(d *db.DB, lg logger.Logger) {
	if err := d.Close(); err != nil {
		lg.Error("failed to close database", err, "path", d.Path())
	}
}
