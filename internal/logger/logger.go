package logger

// Logger defines the interface for logging operations across mvccdb.
// Fields are alternating key/value pairs.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...interface{})

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...interface{})

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...interface{})

	// Error logs an error-level message with the error and optional structured fields.
	Error(msg string, err error, fields ...interface{})
}

// Closeable is an optional interface for loggers that need cleanup.
type Closeable interface {
	Close() error
}

// NoOpLogger discards all messages. It is the default wherever a nil
// Logger is accepted.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{})        {}
func (NoOpLogger) Info(string, ...interface{})         {}
func (NoOpLogger) Warn(string, ...interface{})         {}
func (NoOpLogger) Error(string, error, ...interface{}) {}

var _ Logger = NoOpLogger{}

// componentLogger prepends fixed fields to every call.
type componentLogger struct {
	next   Logger
	fields []interface{}
}

// With returns a Logger that adds fields to every message logged through lg.
// A nil lg yields a NoOpLogger.
func With(lg Logger, fields ...interface{}) Logger {
	if lg == nil {
		return NoOpLogger{}
	}
	if _, ok := lg.(NoOpLogger); ok {
		return lg
	}
	return &componentLogger{next: lg, fields: fields}
}

// Component tags lg with a "component" field.
func Component(lg Logger, name string) Logger {
	return With(lg, "component", name)
}

func (c *componentLogger) merge(fields []interface{}) []interface{} {
	out := make([]interface{}, 0, len(c.fields)+len(fields))
	out = append(out, c.fields...)
	return append(out, fields...)
}

func (c *componentLogger) Debug(msg string, fields ...interface{}) {
	c.next.Debug(msg, c.merge(fields)...)
}

func (c *componentLogger) Info(msg string, fields ...interface{}) {
	c.next.Info(msg, c.merge(fields)...)
}

func (c *componentLogger) Warn(msg string, fields ...interface{}) {
	c.next.Warn(msg, c.merge(fields)...)
}

func (c *componentLogger) Error(msg string, err error, fields ...interface{}) {
	c.next.Error(msg, err, c.merge(fields)...)
}
