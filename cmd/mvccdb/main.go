package main

import (
	"os"
	"path"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/mvccdb/internal/cli"
	"github.com/julianstephens/mvccdb/internal/logger"
	"github.com/julianstephens/mvccdb/internal/mvccdb"
	"github.com/julianstephens/mvccdb/internal/mvccdb/manifest"
)

var (
	version = "mvccdb v0.1.0"
)

type LogOpts struct {
	Level  string `help:"Logging level (debug, info, warn, error)" default:"${log_level}" envvar:"MVCCDB_LOG_LEVEL"`
	Debug  bool   `help:"Enable debug logging (overrides --level)"                envvar:"MVCCDB_DEBUG"`
	Stream bool   `help:"Log to stdout/stderr in addition to file"                envvar:"MVCCDB_LOG_STREAM"`
	Dir    string `help:"Log file directory (default ~/.mvccdb/logs)"             envvar:"MVCCDB_LOG_DIR"`
}

type CLI struct {
	cli.Globals

	Init        cli.InitCmd        `cmd:"" help:"Initialize a new database"`
	CreateTable cli.CreateTableCmd `cmd:"" help:"Create a table"`
	Insert      cli.InsertCmd      `cmd:"" help:"Insert payloads in one transaction"`
	Delete      cli.DeleteCmd      `cmd:"" help:"Delete records in one transaction"`
	Scan        cli.ScanCmd        `cmd:"" help:"Print the rows visible to a new snapshot"`
	Stats       cli.StatsCmd       `cmd:"" help:"Display database statistics"`
	Doctor      cli.DoctorCmd      `cmd:"" help:"Replay the log read-only and report its health"`
	Bench       cli.BenchCmd       `cmd:"" help:"Run a concurrent transaction workload"`

	LogOpts LogOpts          `embed:"" prefix:"log-" help:"Logging options"`
	Version kong.VersionFlag `                       help:"Show version information" short:"V"`
}

func createLogger(opts LogOpts, dbDir string) (logger.Logger, error) {
	level := logger.LevelDebug
	if !opts.Debug {
		var err error
		if level, err = logger.ParseLevel(opts.Level); err != nil {
			return nil, err
		}
	}

	consoleLogger := logger.NewConsoleLogger(level)

	if opts.Stream {
		return consoleLogger, nil
	}

	logDir := opts.Dir
	if logDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		logDir = path.Join(homeDir, mvccdb.DefaultAppDir, mvccdb.DefaultLogDir)
	}

	cfg := logger.FileConfig{
		Dir:        logDir,
		FileName:   mvccdb.DefaultLogFileName,
		MaxSizeMB:  mvccdb.DefaultLogMaxSize,
		MaxBackups: mvccdb.DefaultLogMaxBackups,
		MaxAgeDays: mvccdb.DefaultLogMaxAgeDays,
		Level:      level,
	}
	// an existing database may carry its own rotation settings
	if man, err := manifest.Open(dbDir); err == nil {
		if man.LogMaxSize != nil {
			cfg.MaxSizeMB = *man.LogMaxSize
		}
		if man.LogMaxBackups != nil {
			cfg.MaxBackups = *man.LogMaxBackups
		}
	}

	fileLogger, err := logger.NewFileLogger(cfg)
	if err != nil {
		return nil, err
	}

	return logger.NewMultiLogger(fileLogger, consoleLogger), nil
}

func main() {
	cliApp := &CLI{}
	ctx := kong.Parse(cliApp,
		kong.Name("mvccdb"),
		kong.Description("A multi-version transactional storage core"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version":           version,
			"log_level":         mvccdb.DefaultLogLevel,
			"segment_max_bytes": strconv.FormatInt(mvccdb.DefaultSegmentMaxBytes, 10),
		},
	)

	lg, err := createLogger(cliApp.LogOpts, cliApp.DB)
	if err != nil {
		ctx.FatalIfErrorf(err)
	}
	cliApp.Logger = lg
	cliApp.Out = os.Stdout

	err = ctx.Run(&cliApp.Globals)

	if c, ok := lg.(logger.Closeable); ok {
		_ = c.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
