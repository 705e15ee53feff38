package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"
)

func newBufferLogger(level Level) (*ConsoleLogger, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &ConsoleLogger{minLevel: level, out: out, err: errOut}, out, errOut
}

func fileConfig(dir string) FileConfig {
	return FileConfig{Dir: dir, FileName: "test.log", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 1, Level: LevelInfo}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want Level
	}{
		{"", LevelInfo},
		{"info", LevelInfo},
		{"DEBUG", LevelDebug},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"Error", LevelError},
	}
	for _, tc := range testCases {
		got, err := ParseLevel(tc.in)
		tst.RequireNoError(t, err)
		tst.AssertEqual(t, got, tc.want, "level for "+tc.in)
	}

	_, err := ParseLevel("loud")
	tst.AssertTrue(t, errors.Is(err, ErrInvalidLevel), "expected ErrInvalidLevel")
	tst.AssertEqual(t, LevelWarn.String(), "warn", "level name")
}

// TestConsoleLogger_InfoLevel tests that Info messages are logged at info level
func TestConsoleLogger_InfoLevel(t *testing.T) {
	cl, out, _ := newBufferLogger(LevelInfo)

	cl.Info("test message", "key", "value")

	output := out.String()
	tst.AssertTrue(t, strings.Contains(output, "INFO"), "expected INFO in output")
	tst.AssertTrue(t, strings.Contains(output, "test message"), "expected message in output")
	tst.AssertTrue(t, strings.Contains(output, "key=value"), "expected fields in output")
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	testCases := []struct {
		name  string
		level Level
		want  []string
	}{
		{"Debug", LevelDebug, []string{"DEBUG", "INFO", "WARN"}},
		{"Info", LevelInfo, []string{"INFO", "WARN"}},
		{"Warn", LevelWarn, []string{"WARN"}},
		{"Error", LevelError, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cl, out, _ := newBufferLogger(tc.level)
			cl.Debug("d")
			cl.Info("i")
			cl.Warn("w")

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if len(tc.want) == 0 {
				tst.AssertEqual(t, out.String(), "", "expected no output")
				return
			}
			tst.RequireDeepEqual(t, len(lines), len(tc.want))
			for i, want := range tc.want {
				tst.AssertTrue(t, strings.Contains(lines[i], want), "expected "+want)
			}
		})
	}
}

// TestConsoleLogger_ErrorAlwaysLogged tests that Error messages go to the error stream at every level
func TestConsoleLogger_ErrorAlwaysLogged(t *testing.T) {
	cl, out, errOut := newBufferLogger(LevelError)

	cl.Error("operation failed", errors.New("test error"), "op", "test")

	output := errOut.String()
	tst.AssertTrue(t, strings.Contains(output, "ERROR"), "expected ERROR in output")
	tst.AssertTrue(t, strings.Contains(output, "operation failed"), "expected message in output")
	tst.AssertTrue(t, strings.Contains(output, "error=test error"), "expected error in output")
	tst.AssertEqual(t, out.String(), "", "errors do not go to stdout")
}

// TestConsoleLogger_Timestamp tests that logs include timestamp
func TestConsoleLogger_Timestamp(t *testing.T) {
	cl, out, _ := newBufferLogger(LevelInfo)

	cl.Info("test")

	output := out.String()
	tst.AssertTrue(t, strings.HasPrefix(output, "["), "expected bracketed timestamp")
	tst.AssertTrue(t, strings.Contains(output, "T"), "expected timestamp with T separator")
}

func TestConsoleLogger_OddFields(t *testing.T) {
	cl, out, _ := newBufferLogger(LevelInfo)

	cl.Info("operation", "trx", 7, "table", "accounts", "dangling")

	output := out.String()
	tst.AssertTrue(t, strings.Contains(output, "trx=7"), "expected trx field")
	tst.AssertTrue(t, strings.Contains(output, "table=accounts"), "expected table field")
	tst.AssertFalse(t, strings.Contains(output, "dangling"), "trailing key is dropped")
}

func TestWithAddsFields(t *testing.T) {
	cl, out, errOut := newBufferLogger(LevelDebug)
	lg := Component(With(cl, "db", "main"), "recovery")

	lg.Info("replayed", "entries", 3)
	lg.Error("failed", errors.New("boom"))

	tst.AssertTrue(t, strings.Contains(out.String(), "db=main component=recovery entries=3"), "expected fields in order")
	tst.AssertTrue(t, strings.Contains(errOut.String(), "error=boom db=main component=recovery"), "expected fields on error")

	_, ok := With(nil, "k", "v").(NoOpLogger)
	tst.AssertTrue(t, ok, "nil logger yields NoOpLogger")
	_, ok = Component(NoOpLogger{}, "x").(NoOpLogger)
	tst.AssertTrue(t, ok, "NoOpLogger stays NoOpLogger")
}

func TestFieldsToMap(t *testing.T) {
	m := fieldsToMap([]interface{}{"a", 1, "err", errors.New("e"), "odd"})
	tst.AssertEqual(t, len(m), 2, "dangling key dropped")
	tst.AssertDeepEqual(t, m["err"], interface{}("e"), "errors are stringified")
}

// TestFileLogger_WritesContent tests that FileLogger writes log content
func TestFileLogger_WritesContent(t *testing.T) {
	tmpDir := t.TempDir()
	lg, err := NewFileLogger(fileConfig(tmpDir))
	tst.RequireNoError(t, err)

	lg.Info("test message", "key", "value")
	lg.Debug("hidden message")

	content, err := os.ReadFile(filepath.Join(tmpDir, "test.log")) // nolint:gosec
	tst.RequireNoError(t, err)

	output := string(content)
	tst.AssertTrue(t, strings.Contains(output, "info"), "expected 'info' level in output")
	tst.AssertTrue(t, strings.Contains(output, "test message"), "expected message in file")
	tst.AssertFalse(t, strings.Contains(output, "hidden message"), "debug filtered at info level")

	fl, ok := lg.(*FileLogger)
	tst.AssertTrue(t, ok, "expected *FileLogger")
	tst.AssertEqual(t, fl.Path(), filepath.Join(tmpDir, "test.log"), "path")
	tst.RequireNoError(t, fl.Close())
}

// TestFileLogger_CreatesDirectory tests that FileLogger creates missing directory
func TestFileLogger_CreatesDirectory(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs", "deep", "dir")

	_, err := NewFileLogger(fileConfig(logDir))
	tst.RequireNoError(t, err)

	_, err = os.Stat(logDir)
	tst.RequireNoError(t, err)
}

func TestFileLogger_RequiresName(t *testing.T) {
	cfg := fileConfig(t.TempDir())
	cfg.FileName = ""
	_, err := NewFileLogger(cfg)
	tst.AssertTrue(t, errors.Is(err, ErrLogCreate), "expected ErrLogCreate")
}

// TestMultiLogger_BothOutputs tests that MultiLogger writes to all loggers
func TestMultiLogger_BothOutputs(t *testing.T) {
	cl1, buf1, _ := newBufferLogger(LevelInfo)
	cl2, buf2, _ := newBufferLogger(LevelInfo)

	ml := NewMultiLogger(cl1, cl2)
	ml.Info("test message", "key", "value")
	ml.Warn("careful")

	tst.AssertTrue(t, strings.Contains(buf1.String(), "test message"), "expected message in first logger")
	tst.AssertTrue(t, strings.Contains(buf2.String(), "careful"), "expected warning in second logger")
}

type failingCloser struct{ NoOpLogger }

func (failingCloser) Close() error { return errors.New("close failed") }

// TestMultiLogger_Close tests that MultiLogger closes all loggers
func TestMultiLogger_Close(t *testing.T) {
	fl, err := NewFileLogger(fileConfig(t.TempDir()))
	tst.RequireNoError(t, err)
	cl, _, _ := newBufferLogger(LevelInfo)

	ml := NewMultiLogger(cl, fl, NoOpLogger{})
	c, ok := ml.(Closeable)
	tst.AssertTrue(t, ok, "expected MultiLogger to implement Closeable")
	tst.RequireNoError(t, c.Close())

	bad := NewMultiLogger(failingCloser{}, fl).(Closeable)
	tst.AssertTrue(t, errors.Is(bad.Close(), ErrLogClose), "expected ErrLogClose")
}
