package logger

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	debugEnabled atomic.Bool
	current      atomic.Pointer[log.Logger]
)

func init() {
	current.Store(newBase(os.Stderr))
}

func base() *log.Logger {
	return current.Load()
}

func newBase(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           log.InfoLevel,
	})
}

// SetOutput redirects all log output (tests, log files).
func SetOutput(w io.Writer) {
	l := newBase(w)
	if debugEnabled.Load() {
		l.SetLevel(log.DebugLevel)
	}
	current.Store(l)
}

// SetDebug enables or disables debug logging
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
	if enabled {
		base().SetLevel(log.DebugLevel)
	} else {
		base().SetLevel(log.InfoLevel)
	}
}

// DebugEnabled reports whether debug logging is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Info logs an informational message
func Info(format string, args ...interface{}) {
	base().Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	base().Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	base().Error(fmt.Sprintf(format, args...))
}

// Debug logs a debug message if debug logging is enabled
func Debug(format string, args ...interface{}) {
	if debugEnabled.Load() {
		base().Debug(fmt.Sprintf(format, args...))
	}
}

// Fatal logs an error message and exits with status 1
func Fatal(format string, args ...interface{}) {
	base().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Component is a prefixed logger taking key/value pairs.
type Component struct {
	prefix string
}

// With returns a component logger; every line carries the prefix.
func With(prefix string) Component {
	return Component{prefix: prefix}
}

func (c Component) l() *log.Logger {
	return base().WithPrefix(c.prefix)
}

func (c Component) Debug(msg string, keyvals ...interface{}) {
	if debugEnabled.Load() {
		c.l().Debug(msg, keyvals...)
	}
}

func (c Component) Info(msg string, keyvals ...interface{}) {
	c.l().Info(msg, keyvals...)
}

func (c Component) Warn(msg string, keyvals ...interface{}) {
	c.l().Warn(msg, keyvals...)
}

func (c Component) Error(msg string, keyvals ...interface{}) {
	c.l().Error(msg, keyvals...)
}
