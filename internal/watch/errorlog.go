package watch

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/logging"
)

// errorLogDir/errorLogFile form <cwd>/.sidequest-logs/watch-errors.log
// (spec.md §6).
const (
	errorLogDir  = ".sidequest-logs"
	errorLogFile = "watch-errors.log"
)

// errorLogRecord is one JSON-lines entry in watch-errors.log. Field names
// follow spec.md §6 verbatim except nodeVersion, which has no meaning for a
// Go process and is carried as goVersion instead.
type errorLogRecord struct {
	Timestamp   time.Time
	Error       string
	Stack       string
	ChecksCount int
	Phase       string
	Cwd         string
}

// errorLog appends structured JSON-lines error records under cwd, via
// internal/logging's JSON-formatted logrus logger rather than a bespoke
// encoder.
type errorLog struct {
	cwd     string
	log     *logrus.Logger
	file    *os.File
	openErr error
}

func newErrorLog(cwd string) *errorLog {
	dir := filepath.Join(cwd, errorLogDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errorLog{cwd: cwd, openErr: err}
	}
	l, f, err := logging.NewErrorLog(filepath.Join(dir, errorLogFile))
	if err != nil {
		return &errorLog{cwd: cwd, openErr: err}
	}
	return &errorLog{cwd: cwd, log: l, file: f}
}

// Append writes one record as a JSON line.
func (l *errorLog) Append(rec errorLogRecord) error {
	if l.log == nil {
		return l.openErr
	}
	rec.Cwd = l.cwd

	l.log.WithFields(logrus.Fields{
		"stack":       rec.Stack,
		"checksCount": rec.ChecksCount,
		"phase":       rec.Phase,
		"cwd":         rec.Cwd,
		"goVersion":   runtime.Version(),
		"platform":    runtime.GOOS,
	}).WithTime(rec.Timestamp).Error(rec.Error)
	return nil
}

func (l *errorLog) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
