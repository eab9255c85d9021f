// Package logging defines the minimal interface that loggers must support to be used by kiln.
package logging

import (
	"io"

	"github.com/apex/log"
)

// Level is a logging level.
type Level = log.Level

const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
)

// Logger defines behavior required by a logging package used by kiln libraries.
type Logger interface {
	Debug(msg string)
	Debugf(fmt string, v ...interface{})

	Info(msg string)
	Infof(fmt string, v ...interface{})

	Warn(msg string)
	Warnf(fmt string, v ...interface{})

	Error(msg string)
	Errorf(fmt string, v ...interface{})

	Writer() io.Writer

	IsVerbose() bool
}

// isSelectableWriter is implemented by loggers that hold a separate writer per log level.
type isSelectableWriter interface {
	WriterForLevel(level Level) io.Writer
}

// GetWriterForLevel retrieves the writer for the log level provided. Loggers
// that do not distinguish levels serve their base writer.
func GetWriterForLevel(logger Logger, level Level) io.Writer {
	if w, ok := logger.(isSelectableWriter); ok {
		return w.WriterForLevel(level)
	}

	return logger.Writer()
}

// isQuietable is implemented by loggers that can suppress informational output.
type isQuietable interface {
	IsQuiet() bool
}

// IsQuiet reports whether the logger is set to quiet mode.
func IsQuiet(logger Logger) bool {
	if q, ok := logger.(isQuietable); ok {
		return q.IsQuiet()
	}

	return false
}
