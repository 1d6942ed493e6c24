// Package logging constructs the structured loggers used throughout the
// kernel. Grounded on r3e-network-service_layer/pkg/logger/logger.go: a
// thin wrapper around logrus with a formatter chosen by output kind.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a console logger: text formatter, fields, stdout.
func New(name string) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetOutput(os.Stdout)
	return l.WithField("component", name).Logger
}

// NewErrorLog returns a logger that appends JSON-lines records to path,
// per spec.md §6's error-log contract (timestamp, error, stack,
// checksCount, phase, cwd, nodeVersion, platform — the caller supplies the
// last two as goVersion and platform fields, since this is Go, not Node). The file
// is opened append-only and never truncated by this constructor. The
// formatter's field map renames logrus's own "time"/"msg" keys to
// "timestamp"/"error" so a line matches the spec's field names directly,
// rather than needing a second, hand-rolled JSON writer next to it.
func NewErrorLog(path string) (*logrus.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "error",
		},
	})
	l.SetOutput(f)
	return l, f, nil
}
