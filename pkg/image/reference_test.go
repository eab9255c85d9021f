package image_test

import (
	"strings"
	"testing"

	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/kilnbuild/kiln/pkg/image"
	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestReference(t *testing.T) {
	spec.Run(t, "Reference", testReference, spec.Report(report.Terminal{}))
}

func testReference(t *testing.T, when spec.G, it spec.S) {
	parse := func(value string) image.Reference {
		t.Helper()
		ref, err := image.ParseReference(value)
		h.AssertNil(t, err)
		return ref
	}

	when("#ParseReference", func() {
		it("rejects an unparseable reference", func() {
			_, err := image.ParseReference("")
			h.AssertError(t, err, "invalid image reference ''")

			_, err = image.ParseReference("::")
			h.AssertError(t, err, "invalid image reference '::'")
		})

		it("normalizes bare references to docker hub", func() {
			ref := parse("ubuntu")
			h.AssertEq(t, ref.Domain(), "index.docker.io")
			h.AssertEq(t, ref.Path(), "library/ubuntu")
			h.AssertEq(t, ref.Identifier(), "latest")
			h.AssertEq(t, ref.String(), "ubuntu")
		})

		it("keeps explicit registries and tags", func() {
			ref := parse("registry.example.com/some/app:v1")
			h.AssertEq(t, ref.Domain(), "registry.example.com")
			h.AssertEq(t, ref.Path(), "some/app")
			h.AssertEq(t, ref.Identifier(), "v1")
			h.AssertEq(t, ref.Name(), "registry.example.com/some/app:v1")
		})

		it("handles registries with ports", func() {
			ref := parse("localhost:5000/some/app")
			h.AssertEq(t, ref.Domain(), "localhost:5000")
			h.AssertEq(t, ref.Path(), "some/app")
		})

		it("parses digest references", func() {
			digest := "sha256:" + strings.Repeat("a", 64)
			ref := parse("some/app@" + digest)
			h.AssertTrue(t, ref.IsDigest())
			h.AssertEq(t, ref.Identifier(), digest)
		})
	})

	when("#InTaggedOrDigestForm", func() {
		it("pins bare references to latest", func() {
			h.AssertEq(t, parse("some/app").InTaggedOrDigestForm().String(), "some/app:latest")
			h.AssertEq(t, parse("localhost:5000/some/app").InTaggedOrDigestForm().String(), "localhost:5000/some/app:latest")
		})

		it("keeps tagged references", func() {
			h.AssertEq(t, parse("some/app:v1").InTaggedOrDigestForm().String(), "some/app:v1")
		})

		it("keeps digest references", func() {
			raw := "some/app@sha256:" + strings.Repeat("a", 64)
			h.AssertEq(t, parse(raw).InTaggedOrDigestForm().String(), raw)
		})
	})

	when("#WithTag", func() {
		it("replaces an existing tag", func() {
			ref, err := parse("some/app:old").WithTag("new")
			h.AssertNil(t, err)
			h.AssertEq(t, ref.String(), "some/app:new")
		})

		it("adds a tag to a bare reference", func() {
			ref, err := parse("localhost:5000/some/app").WithTag("new")
			h.AssertNil(t, err)
			h.AssertEq(t, ref.String(), "localhost:5000/some/app:new")
		})

		it("replaces a digest", func() {
			ref, err := parse("some/app@sha256:" + strings.Repeat("a", 64)).WithTag("new")
			h.AssertNil(t, err)
			h.AssertEq(t, ref.String(), "some/app:new")
		})
	})
}
