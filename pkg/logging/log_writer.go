package logging

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// LogWriter is a writer for log output, optionally prepending a timestamp.
type LogWriter struct {
	sync.Mutex
	out      io.Writer
	clock    func() time.Time
	wantTime bool
}

// NewLogWriter creates a LogWriter.
func NewLogWriter(writer io.Writer, clock func() time.Time, wantTime bool) *LogWriter {
	return &LogWriter{
		out:      writer,
		clock:    clock,
		wantTime: wantTime,
	}
}

// Write writes a message, prepending the time when wanted.
func (tw *LogWriter) Write(buf []byte) (n int, err error) {
	tw.Lock()
	defer tw.Unlock()

	prefix := ""
	if tw.wantTime {
		prefix = fmt.Sprintf("%s ", tw.clock().Format(timeFmt))
	}

	_, err = fmt.Fprint(tw.out, appendMissingLineFeed(fmt.Sprintf("%s%s", prefix, buf)))
	return len(buf), err
}

// Fd returns the file descriptor of the underlying writer when it has one.
// Needed to support terminal detection on the engine's progress streams.
func (tw *LogWriter) Fd() uintptr {
	if f, ok := tw.out.(hasDescriptor); ok {
		return f.Fd()
	}

	return InvalidFileDescriptor
}
