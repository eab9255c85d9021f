package logging

import (
	"io"

	"golang.org/x/term"
)

// InvalidFileDescriptor is based on https://golang.org/src/os/file_unix.go#L156
const InvalidFileDescriptor = ^(uintptr(0))

type hasDescriptor interface {
	Fd() uintptr
}

// IsTerminal returns whether a writer is a terminal along with its file descriptor.
func IsTerminal(w io.Writer) (uintptr, bool) {
	if f, ok := w.(hasDescriptor); ok {
		termFd := f.Fd()
		isTerm := term.IsTerminal(int(termFd))
		return termFd, isTerm
	}

	return InvalidFileDescriptor, false
}
