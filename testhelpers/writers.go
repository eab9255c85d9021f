package testhelpers

import (
	"bytes"
	"io"
	"os"

	"github.com/heroku/color"
)

// MockWriterAndOutput returns a console writer and a function that closes it
// and returns everything written.
func MockWriterAndOutput() (*color.Console, func() string) {
	r, w, _ := os.Pipe()
	console := color.NewConsole(w)
	return console, func() string {
		_ = w.Close()
		var b bytes.Buffer
		_, _ = io.Copy(&b, r)
		_ = r.Close()
		return b.String()
	}
}
