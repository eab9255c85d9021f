package image_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/heroku/color"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/kilnbuild/kiln/pkg/engine"
	efakes "github.com/kilnbuild/kiln/pkg/engine/fakes"
	"github.com/kilnbuild/kiln/pkg/image"
	"github.com/kilnbuild/kiln/pkg/logging"
	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestFetcher(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "Fetcher", testFetcher, spec.Report(report.Terminal{}))
}

func testFetcher(t *testing.T, when spec.G, it spec.S) {
	var (
		eng    *efakes.Engine
		logger logging.Logger
		outBuf bytes.Buffer
	)

	it.Before(func() {
		eng = efakes.NewEngine()
		outBuf = bytes.Buffer{}
		logger = logging.NewLogWithWriters(&outBuf, &outBuf)
	})

	parse := func(value string) image.Reference {
		t.Helper()
		ref, err := image.ParseReference(value)
		h.AssertNil(t, err)
		return ref
	}

	when("#Fetch", func() {
		when("PullAlways", func() {
			it("pulls even when the image is present", func() {
				eng.ImagesAPI.Local["some/builder:tag"] = engine.Image{ID: "stale-id", OS: "linux", Architecture: "amd64"}
				eng.ImagesAPI.Remote["some/builder:tag"] = engine.Image{ID: "fresh-id", OS: "linux", Architecture: "amd64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI)
				img, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder:tag"))
				h.AssertNil(t, err)
				h.AssertEq(t, img.ID, "fresh-id")
				h.AssertEq(t, len(eng.ImagesAPI.PullCalls), 1)
			})

			it("pins bare references to latest", func() {
				eng.ImagesAPI.Remote["some/builder:latest"] = engine.Image{ID: "some-id", OS: "linux", Architecture: "amd64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI)
				_, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder"))
				h.AssertNil(t, err)
				h.AssertEq(t, eng.ImagesAPI.PullCalls[0].Ref, "some/builder:latest")
			})

			it("passes the auth header and requested platform to the pull", func() {
				eng.ImagesAPI.Remote["registry.example.com/some/builder:tag"] = engine.Image{ID: "some-id", OS: "linux", Architecture: "arm64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI,
					image.WithRegistryAuth("registry.example.com", "some-auth-header"),
					image.WithPlatform(image.Platform{OS: "linux", Architecture: "arm64"}),
				)
				_, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("registry.example.com/some/builder:tag"))
				h.AssertNil(t, err)

				call := eng.ImagesAPI.PullCalls[0]
				h.AssertEq(t, call.Auth, "some-auth-header")
				h.AssertEq(t, call.Platform, "linux/arm64")
			})
		})

		when("PullIfNotPresent", func() {
			it("returns the present image without pulling", func() {
				eng.ImagesAPI.Local["some/builder:tag"] = engine.Image{ID: "local-id", OS: "linux", Architecture: "amd64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI, image.WithPullPolicy(image.PullIfNotPresent))
				img, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder:tag"))
				h.AssertNil(t, err)
				h.AssertEq(t, img.ID, "local-id")
				h.AssertEq(t, len(eng.ImagesAPI.PullCalls), 0)
			})

			it("pulls when the image is absent", func() {
				eng.ImagesAPI.Remote["some/builder:tag"] = engine.Image{ID: "remote-id", OS: "linux", Architecture: "amd64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI, image.WithPullPolicy(image.PullIfNotPresent))
				img, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder:tag"))
				h.AssertNil(t, err)
				h.AssertEq(t, img.ID, "remote-id")
				h.AssertEq(t, len(eng.ImagesAPI.PullCalls), 1)
			})
		})

		when("PullNever", func() {
			it("returns the present image", func() {
				eng.ImagesAPI.Local["some/builder:tag"] = engine.Image{ID: "local-id", OS: "linux", Architecture: "amd64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI, image.WithPullPolicy(image.PullNever))
				img, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder:tag"))
				h.AssertNil(t, err)
				h.AssertEq(t, img.ID, "local-id")
			})

			it("errors when the image is absent", func() {
				fetcher := image.NewFetcher(logger, eng.ImagesAPI, image.WithPullPolicy(image.PullNever))
				_, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder:tag"))
				h.AssertErrorContains(t, err, "image 'some/builder:tag' does not exist on the daemon")
				h.AssertEq(t, len(eng.ImagesAPI.PullCalls), 0)
			})
		})

		when("registry auth is configured", func() {
			it("rejects references on other registries", func() {
				fetcher := image.NewFetcher(logger, eng.ImagesAPI,
					image.WithRegistryAuth("registry.example.com", "some-auth-header"),
				)
				_, err := fetcher.Fetch(context.Background(), image.KindRun, parse("other.example.com/some/run:tag"))
				h.AssertError(t, err, "run image 'other.example.com/some/run:tag' must be pulled from the 'registry.example.com' authenticated registry")
				h.AssertEq(t, len(eng.ImagesAPI.PullCalls), 0)
			})
		})

		when("platform", func() {
			it("pins later fetches to the first image's platform", func() {
				eng.ImagesAPI.Remote["some/builder:tag"] = engine.Image{ID: "builder-id", OS: "linux", Architecture: "amd64"}
				eng.ImagesAPI.Remote["some/run:tag"] = engine.Image{ID: "run-id", OS: "linux", Architecture: "arm64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI)
				_, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder:tag"))
				h.AssertNil(t, err)

				platform, ok := fetcher.EffectivePlatform()
				h.AssertTrue(t, ok)
				h.AssertEq(t, platform.String(), "linux/amd64")

				_, err = fetcher.Fetch(context.Background(), image.KindRun, parse("some/run:tag"))
				h.AssertErrorContains(t, err, "Image platform mismatch detected")
				h.AssertErrorContains(t, err, "Requested platform 'linux/amd64' but got 'linux/arm64'")
			})

			it("enforces a requested platform on the first image", func() {
				eng.ImagesAPI.Remote["some/builder:tag"] = engine.Image{ID: "builder-id", OS: "linux", Architecture: "amd64"}

				fetcher := image.NewFetcher(logger, eng.ImagesAPI,
					image.WithPlatform(image.Platform{OS: "linux", Architecture: "arm64"}),
				)
				_, err := fetcher.Fetch(context.Background(), image.KindBuilder, parse("some/builder:tag"))
				h.AssertErrorContains(t, err, "The configured platform 'linux/arm64' is not supported by the image 'some/builder:tag'")
			})
		})
	})
}
