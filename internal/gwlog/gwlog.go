// Package gwlog adapts the ingest library's leveled logger for use inside
// the fingerprinting engine: one explicit *log.Logger instance threaded
// through constructors (never a package-level global), matching the
// PacketFleet convention of a single `lg *log.Logger` handed down to every
// collaborator that needs to report anomalies.
package gwlog

import (
	"io"

	"github.com/gravwell/netfpd/ingest/log"
)

// Logger is the engine's logging handle.
type Logger = log.Logger

// NewStderr builds a logger writing to stderr (or fileOverride, if set) at
// the given level, the same construction PacketFleet uses.
func NewStderr(fileOverride, level string) (*Logger, error) {
	lg, err := log.NewStderrLogger(fileOverride)
	if err != nil {
		return nil, err
	}
	if err := lg.SetLevelString(level); err != nil {
		return nil, err
	}
	return lg, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter builds a logger writing to an arbitrary io.Writer, used by
// tests and by netfpd when logging to an already-open file.
func NewWriter(w io.Writer, level string) (*Logger, error) {
	lg := log.New(nopWriteCloser{w})
	if err := lg.SetLevelString(level); err != nil {
		return nil, err
	}
	return lg, nil
}

// Discard returns a logger that drops everything, used as a safe default
// in unit tests of collaborators that take a *Logger for anomaly reports.
func Discard() *Logger {
	return log.NewDiscardLogger()
}
