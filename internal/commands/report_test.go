package commands_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/internal/commands"
	"github.com/kilnbuild/kiln/pkg/logging"
	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestReportCommand(t *testing.T) {
	spec.Run(t, "ReportCommand", testReportCommand, spec.Sequential(), spec.Report(report.Terminal{}))
}

func testReportCommand(t *testing.T, when spec.G, it spec.S) {
	var (
		command           *cobra.Command
		logger            logging.Logger
		outBuf            bytes.Buffer
		tempKilnHome      string
		tempKilnEmptyHome string
		testVersion       = "1.2.3"
	)

	it.Before(func() {
		var err error
		outBuf = bytes.Buffer{}
		logger = logging.NewLogWithWriters(&outBuf, &outBuf)
		command = commands.Report(logger, testVersion)

		tempKilnHome, err = os.MkdirTemp("", "kiln-home")
		h.AssertNil(t, err)

		h.AssertNil(t, os.WriteFile(filepath.Join(tempKilnHome, "config.toml"), []byte(`
default-builder-image = "some/image"

[[run-images]]
  image = "cnbs/run"
`), 0666))

		tempKilnEmptyHome, err = os.MkdirTemp("", "kiln-home-empty")
		h.AssertNil(t, err)
	})

	it.After(func() {
		h.AssertNil(t, os.RemoveAll(tempKilnHome))
		h.AssertNil(t, os.RemoveAll(tempKilnEmptyHome))
	})

	when("#Report", func() {
		when("config.toml is present", func() {
			it.Before(func() {
				h.AssertNil(t, os.Setenv("KILN_HOME", tempKilnHome))
			})

			it.After(func() {
				h.AssertNil(t, os.Unsetenv("KILN_HOME"))
			})

			it("presents output with the default builder redacted", func() {
				h.AssertNil(t, command.Execute())
				h.AssertContains(t, outBuf.String(), `Version:  `+testVersion)
				h.AssertContains(t, outBuf.String(), `default-builder-image = "[REDACTED]"`)
				h.AssertContains(t, outBuf.String(), `image = "cnbs/run"`)

				h.AssertNotContains(t, outBuf.String(), `default-builder-image = "some/image"`)
			})

			it("doesn't sanitize output if explicit", func() {
				command.SetArgs([]string{"-e"})
				h.AssertNil(t, command.Execute())
				h.AssertContains(t, outBuf.String(), `default-builder-image = "some/image"`)

				h.AssertNotContains(t, outBuf.String(), `default-builder-image = "[REDACTED]"`)
			})
		})

		when("config.toml is not present", func() {
			it.Before(func() {
				h.AssertNil(t, os.Setenv("KILN_HOME", tempKilnEmptyHome))
			})

			it.After(func() {
				h.AssertNil(t, os.Unsetenv("KILN_HOME"))
			})

			it("logs a message", func() {
				h.AssertNil(t, command.Execute())
				h.AssertContains(t, outBuf.String(), fmt.Sprintf("(no config file found at %s)", filepath.Join(tempKilnEmptyHome, "config.toml")))
			})
		})
	})
}
