// Package telemetry carries the ambient logging/metrics/sync-stats
// concerns spec.md names as out of scope (§1: "logging... configuration
// parsing") but SPEC_FULL.md's AMBIENT STACK still requires, the way the
// teacher's binaries report progress with plain fmt.Fprintf rather than a
// structured-logging package.
package telemetry

import (
	"fmt"
	"io"
	"time"
)

// Logger is a minimal leveled wrapper over an io.Writer, matching the
// teacher's habit (cmd/rubin-node/main.go) of talking to the operator
// through fmt.Fprintf rather than a logging library — no third-party
// logger appears anywhere in the retrieval pack.
type Logger struct {
	w    io.Writer
	name string
}

// New returns a Logger that prefixes every line with name, e.g. the
// coin/net identifier.
func New(w io.Writer, name string) *Logger {
	return &Logger{w: w, name: name}
}

func (l *Logger) log(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.w, "%s [%s] %s %s\n", time.Now().UTC().Format(time.RFC3339), level, l.name, msg) // #nosec G104 -- log writer failures are not actionable.
}

func (l *Logger) Info(format string, args ...any)  { l.log("info", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log("warn", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log("error", format, args...) }

// FormattedTime renders a duration in seconds as "Nd NNh NNm NNs", matching
// the original's formatted_time(t) used for sync-time/ETA reporting.
func FormattedTime(seconds uint64) string {
	d := int64(seconds) // #nosec G115 -- wall-clock seconds never approach the int64/uint64 boundary.
	days := d / 86400
	hours := (d % 86400) / 3600
	mins := (d % 3600) / 60
	secs := d % 60
	return fmt.Sprintf("%dd %02dh %02dm %02ds", days, hours, mins, secs)
}
