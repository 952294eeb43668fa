// Package netlog wires up the charmbracelet/log logger shared by the
// broker and peer binaries, one *log.Logger per subsystem via
// WithPrefix, matching the prefixing idiom used for ARQ logging.
package netlog

import (
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger at the given level writing to stderr, meant to
// be called once per process and then narrowed with WithPrefix per
// subsystem.
func New(level string) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	l.SetLevel(parseLevel(level))
	return l
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
