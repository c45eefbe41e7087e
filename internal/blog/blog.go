// Package blog is a small level-filtered logging frontend used by every
// long-lived bounce component. It wraps a platform logger (syslog on POSIX,
// a plain stderr logger on Windows — see blog_unix.go/blog_windows.go) the
// same way the teacher's logger package wraps log/syslog, but adds a
// BOUNCE_LOG level filter on top so session-lifecycle events (INFO) and
// wire-level detail (DEBUG) can be told apart at the call site.
package blog

import (
	"fmt"
	"os"
	"strings"
)

// Level is a filtering threshold, ordered least to most verbose.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

// ParseLevel maps the BOUNCE_LOG env var to a Level. Unrecognised or empty
// values fall back to LevelInfo, matching the teacher's "sane default, no
// fatal config error for an optional knob" habit.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	default:
		return LevelInfo
	}
}

var current Level = LevelInfo

// SetLevel sets the process-wide filtering threshold. Called once at
// startup from cmd/bounce after parsing BOUNCE_LOG.
func SetLevel(l Level) {
	current = l
}

// Init opens the platform logger under the given tag. Must be called before
// any of Info/Debug/Warning/Error produce output. On Windows platformInit
// never fails; on POSIX a syslog dial failure is returned, and is only
// fatal to a caller who chooses to treat it that way.
func Init(tag string) error {
	return platformInit(tag)
}

// Close releases the underlying platform logger.
func Close() error {
	return platformClose()
}

func log(l Level, format string, args ...interface{}) {
	if l > current {
		return
	}
	msg := fmt.Sprintf(format, args...)
	platformWrite(l, msg)
}

// Error logs a session- or process-fatal condition.
func Error(format string, args ...interface{}) { log(LevelError, format, args...) }

// Warning logs a recoverable but noteworthy condition.
func Warning(format string, args ...interface{}) { log(LevelWarning, format, args...) }

// Info logs session lifecycle events: adapter accepted, handshake failed,
// bridge ended, reconnecting.
func Info(format string, args ...interface{}) { log(LevelInfo, format, args...) }

// Debug logs protocol/byte-level detail.
func Debug(format string, args ...interface{}) { log(LevelDebug, format, args...) }

// Fatalf logs at Error level and terminates the process with a non-zero
// exit status, mirroring the teacher's main_args/main_env fatal-on-bad-
// config flow (ConfigError/BindError in spec terms).
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	platformWrite(LevelError, msg)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
