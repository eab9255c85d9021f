package logging_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/heroku/color"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/kilnbuild/kiln/pkg/logging"
	h "github.com/kilnbuild/kiln/testhelpers"
)

const (
	timeFmt  = "2006/01/02 15:04:05.000000"
	testTime = "2019/05/15 01:01:01.000000"
)

func TestLogWithWriters(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "LogWithWriters", testLogWithWriters, spec.Parallel(), spec.Report(report.Terminal{}))
}

func testLogWithWriters(t *testing.T, when spec.G, it spec.S) {
	var (
		logger *logging.LogWithWriters
		outBuf bytes.Buffer
		errBuf bytes.Buffer

		clockFunc = func() time.Time {
			clock, _ := time.Parse(timeFmt, testTime)
			return clock
		}
	)

	it.Before(func() {
		outBuf = bytes.Buffer{}
		errBuf = bytes.Buffer{}
		logger = logging.NewLogWithWriters(&outBuf, &errBuf, logging.WithClock(clockFunc))
	})

	when("default level", func() {
		it("prints info and above to stdout", func() {
			logger.Info("info message")
			logger.Warn("warn message")
			h.AssertEq(t, outBuf.String(), "info message\nWarning: warn message\n")
		})

		it("prints errors to stderr", func() {
			logger.Error("error message")
			h.AssertEq(t, errBuf.String(), "ERROR: error message\n")
		})

		it("discards debug output", func() {
			logger.Debug("debug message")
			h.AssertEq(t, outBuf.String(), "")
		})

		it("is not verbose", func() {
			h.AssertFalse(t, logger.IsVerbose())
		})
	})

	when("verbose", func() {
		it.Before(func() {
			logger.WantVerbose(true)
		})

		it("prints debug output", func() {
			logger.Debugf("debug %s", "message")
			h.AssertEq(t, outBuf.String(), "debug message\n")
		})

		it("is verbose", func() {
			h.AssertTrue(t, logger.IsVerbose())
		})
	})

	when("quiet", func() {
		it.Before(func() {
			logger.WantQuiet(true)
		})

		it("suppresses info output", func() {
			logger.Info("info message")
			logger.Warn("warn message")
			h.AssertEq(t, outBuf.String(), "Warning: warn message\n")
		})

		it("reports quiet", func() {
			h.AssertTrue(t, logging.IsQuiet(logger))
		})
	})

	when("timestamps are wanted", func() {
		it.Before(func() {
			logger.WantTime(true)
		})

		it("prefixes entries with the time", func() {
			logger.Info("info message")
			h.AssertEq(t, outBuf.String(), fmt.Sprintf("%s info message\n", testTime))
		})
	})

	when("#WriterForLevel", func() {
		it("discards writes below the logger level", func() {
			w := logger.WriterForLevel(logging.DebugLevel)
			_, err := w.Write([]byte("hidden\n"))
			h.AssertNil(t, err)
			h.AssertEq(t, outBuf.String(), "")
		})

		it("routes error level to stderr", func() {
			w := logger.WriterForLevel(logging.ErrorLevel)
			_, err := w.Write([]byte("oops\n"))
			h.AssertNil(t, err)
			h.AssertEq(t, errBuf.String(), "oops\n")
		})

		it("appends a missing line feed", func() {
			w := logger.WriterForLevel(logging.InfoLevel)
			_, err := w.Write([]byte("no newline"))
			h.AssertNil(t, err)
			h.AssertEq(t, outBuf.String(), "no newline\n")
		})
	})

	when("#Writer", func() {
		it("returns the raw stdout writer", func() {
			_, err := logger.Writer().Write([]byte("raw"))
			h.AssertNil(t, err)
			h.AssertEq(t, outBuf.String(), "raw")
		})
	})

	when("#GetWriterForLevel", func() {
		it("uses the selectable writer when available", func() {
			w := logging.GetWriterForLevel(logger, logging.ErrorLevel)
			_, err := w.Write([]byte("selected\n"))
			h.AssertNil(t, err)
			h.AssertEq(t, errBuf.String(), "selected\n")
		})
	})
}
