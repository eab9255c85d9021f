package paths

import (
	"fmt"
	"os"
	"runtime"
	"testing"

	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestPaths(t *testing.T) {
	spec.Run(t, "Paths", testPaths, spec.Report(report.Terminal{}))
}

func testPaths(t *testing.T, when spec.G, it spec.S) {
	when("#IsURI", func() {
		it("detects a scheme", func() {
			h.AssertTrue(t, IsURI("file:///tmp/file.tgz"))
			h.AssertTrue(t, IsURI("https://example.com/bp.tgz"))
			h.AssertTrue(t, IsURI("docker://cnbs/sample"))
		})

		it("rejects plain paths", func() {
			h.AssertFalse(t, IsURI("/tmp/file.tgz"))
			h.AssertFalse(t, IsURI("some/file.tgz"))
		})
	})

	when("#FilterReservedNames", func() {
		when("volume contains a reserved name", func() {
			it("modifies the volume name", func() {
				h.AssertEq(t, FilterReservedNames("auxauxaux"), "a_u_xa_u_xa_u_x")
			})
		})

		when("volume does not contain reserved names", func() {
			it("does not modify the volume name", func() {
				h.AssertEq(t, FilterReservedNames("lbtlbtlbt"), "lbtlbtlbt")
			})
		})
	})

	when("#FilePathToURI", func() {
		it.Before(func() {
			h.SkipIf(t, runtime.GOOS == "windows", "Skipped on windows")
		})

		when("path is absolute", func() {
			it("returns uri", func() {
				uri, err := FilePathToURI("/tmp/file.tgz")
				h.AssertNil(t, err)
				h.AssertEq(t, uri, "file:///tmp/file.tgz")
			})
		})

		when("path is relative", func() {
			it("returns uri", func() {
				cwd, err := os.Getwd()
				h.AssertNil(t, err)

				uri, err := FilePathToURI("some/file.tgz")
				h.AssertNil(t, err)

				h.AssertEq(t, uri, fmt.Sprintf("file://%s/some/file.tgz", cwd))
			})
		})
	})

	when("#URIToFilePath", func() {
		it.Before(func() {
			h.SkipIf(t, runtime.GOOS == "windows", "Skipped on windows")
		})

		it("returns path", func() {
			path, err := URIToFilePath(`file:///tmp/file.tgz`)
			h.AssertNil(t, err)

			h.AssertEq(t, path, `/tmp/file.tgz`)
		})

		it("unescapes characters", func() {
			path, err := URIToFilePath(`file:///tmp/some%20dir/file.tgz`)
			h.AssertNil(t, err)

			h.AssertEq(t, path, `/tmp/some dir/file.tgz`)
		})
	})
}
