package client

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/heroku/color"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/kilnbuild/kiln/pkg/blob"
	efakes "github.com/kilnbuild/kiln/pkg/engine/fakes"
	"github.com/kilnbuild/kiln/pkg/logging"
	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestClient(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "Client", testClient, spec.Sequential(), spec.Report(report.Terminal{}))
}

func testClient(t *testing.T, when spec.G, it spec.S) {
	when("#NewClient", func() {
		it("defaults work", func() {
			subject, err := NewClient()
			h.AssertNil(t, err)
			h.AssertNotNil(t, subject.logger)
			h.AssertNotNil(t, subject.engine)
			h.AssertNotNil(t, subject.downloader)
		})

		when("the docker environment is broken", func() {
			var dockerHost string

			it.Before(func() {
				dockerHost = os.Getenv("DOCKER_HOST")
				h.AssertNil(t, os.Setenv("DOCKER_HOST", "fake-value"))
			})

			it.After(func() {
				h.AssertNil(t, os.Setenv("DOCKER_HOST", dockerHost))
			})

			it("returns an error", func() {
				_, err := NewClient()
				h.AssertErrorContains(t, err, "creating docker client")
			})
		})
	})

	when("#WithLogger", func() {
		it("uses the logger provided", func() {
			var w bytes.Buffer
			logger := logging.NewLogWithWriters(&w, &w)

			subject, err := NewClient(WithLogger(logger))
			h.AssertNil(t, err)
			h.AssertSameInstance(t, subject.logger, logger)
		})
	})

	when("#WithEngine", func() {
		it("uses the engine provided", func() {
			eng := efakes.NewEngine()

			subject, err := NewClient(WithEngine(eng))
			h.AssertNil(t, err)
			h.AssertSameInstance(t, subject.engine, eng)
		})
	})

	when("#WithDownloader", func() {
		it("uses the downloader provided", func() {
			var w bytes.Buffer
			logger := logging.NewLogWithWriters(&w, &w)
			downloader := blob.NewDownloader(logger, t.TempDir())

			subject, err := NewClient(WithEngine(efakes.NewEngine()), WithDownloader(downloader))
			h.AssertNil(t, err)
			h.AssertSameInstance(t, subject.downloader, downloader)
		})
	})

	when("#WithRegistryAuth", func() {
		it("uses the auth headers provided", func() {
			subject, err := NewClient(
				WithEngine(efakes.NewEngine()),
				WithRegistryAuth("builder-auth-header", "publish-auth-header"),
			)
			h.AssertNil(t, err)
			h.AssertEq(t, subject.builderAuth, "builder-auth-header")
			h.AssertEq(t, subject.publishAuth, "publish-auth-header")
		})
	})

	when("#WithPhaseTimeout", func() {
		it("uses the timeout provided", func() {
			subject, err := NewClient(
				WithEngine(efakes.NewEngine()),
				WithPhaseTimeout(2*time.Minute),
			)
			h.AssertNil(t, err)
			h.AssertEq(t, subject.phaseTimeout, 2*time.Minute)
		})
	})
}
