package logging

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/kilnbuild/kiln/internal/style"
)

const (
	errorLevelText = "ERROR: "
	warnLevelText  = "Warning: "
	lineFeed       = '\n'

	// time format used when timestamps are wanted
	timeFmt = "2006/01/02 15:04:05.000000"
)

// LogWithWriters is the logger used by the kiln CLI. It routes entries at or
// above its level to a stdout or stderr writer, optionally timestamped.
type LogWithWriters struct {
	sync.Mutex
	log.Logger
	wantTime bool
	clock    func() time.Time
	out      io.Writer
	errOut   io.Writer
}

// NewLogWithWriters creates a logger writing to the given writers at info level.
func NewLogWithWriters(stdout, stderr io.Writer, opts ...func(*LogWithWriters)) *LogWithWriters {
	lw := &LogWithWriters{
		Logger: log.Logger{
			Level: log.InfoLevel,
		},
		wantTime: false,
		clock:    time.Now,
		out:      stdout,
		errOut:   stderr,
	}
	lw.Logger.Handler = lw

	for _, opt := range opts {
		opt(lw)
	}

	return lw
}

// WithClock overrides the clock used for timestamps.
func WithClock(clock func() time.Time) func(*LogWithWriters) {
	return func(logger *LogWithWriters) {
		logger.clock = clock
	}
}

// WithVerbose initializes the logger at debug level.
func WithVerbose() func(*LogWithWriters) {
	return func(logger *LogWithWriters) {
		logger.Level = log.DebugLevel
	}
}

// HandleLog prints entries, routing them by level.
func (lw *LogWithWriters) HandleLog(e *log.Entry) error {
	lw.Lock()
	defer lw.Unlock()

	writer := lw.WriterForLevel(e.Level)

	_, err := fmt.Fprint(writer, appendMissingLineFeed(fmt.Sprintf("%s%s", formatLevel(e.Level), e.Message)))

	return err
}

// WriterForLevel returns a writer for the given level; entries below the
// logger's level are discarded.
func (lw *LogWithWriters) WriterForLevel(level Level) io.Writer {
	if lw.Level > level {
		return io.Discard
	}

	if level == ErrorLevel {
		return NewLogWriter(lw.errOut, lw.clock, lw.wantTime)
	}

	return NewLogWriter(lw.out, lw.clock, lw.wantTime)
}

// Writer returns the base writer.
func (lw *LogWithWriters) Writer() io.Writer {
	return lw.out
}

// WantTime turns timestamps on in log entries.
func (lw *LogWithWriters) WantTime(f bool) {
	lw.wantTime = f
}

// WantQuiet reduces the entries printed to warnings and errors.
func (lw *LogWithWriters) WantQuiet(f bool) {
	if f {
		lw.Level = log.WarnLevel
	}
}

// WantVerbose extends the entries printed down to debug level.
func (lw *LogWithWriters) WantVerbose(f bool) {
	if f {
		lw.Level = log.DebugLevel
	}
}

// IsVerbose returns whether debug entries are printed.
func (lw *LogWithWriters) IsVerbose() bool {
	return lw.Level == log.DebugLevel
}

// IsQuiet returns whether informational entries are suppressed.
func (lw *LogWithWriters) IsQuiet() bool {
	return lw.Level > log.InfoLevel
}

func formatLevel(ll log.Level) string {
	switch ll {
	case log.ErrorLevel:
		return style.Error(errorLevelText)
	case log.WarnLevel:
		return style.Warn(warnLevelText)
	}

	return ""
}

func appendMissingLineFeed(msg string) string {
	buff := []byte(msg)
	if len(buff) == 0 || buff[len(buff)-1] != lineFeed {
		buff = append(buff, lineFeed)
	}
	return string(buff)
}
