package builder_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/heroku/color"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/kilnbuild/kiln/internal/builder"
	"github.com/kilnbuild/kiln/pkg/archive"
	"github.com/kilnbuild/kiln/pkg/blob"
	"github.com/kilnbuild/kiln/pkg/buildpack"
	"github.com/kilnbuild/kiln/pkg/dist"
	"github.com/kilnbuild/kiln/pkg/engine"
	efakes "github.com/kilnbuild/kiln/pkg/engine/fakes"
	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestEphemeralBuilder(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "EphemeralBuilder", testEphemeralBuilder, spec.Sequential(), spec.Report(report.Terminal{}))
}

func testEphemeralBuilder(t *testing.T, when spec.G, it spec.S) {
	var (
		eng       *efakes.Engine
		baseImage engine.Image
		tmpDir    string
		ctx       = context.Background()
	)

	const baseRef = "cnbs/builder:base"

	it.Before(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "ephemeral-builder-test")
		h.AssertNil(t, err)

		baseLayer := archive.TarBuilder{}
		baseLayer.AddDir("cnb/lifecycle", 0755, time.Now())
		baseLayer.AddFile("cnb/lifecycle/detector", 0755, time.Now(), []byte("detector-binary"))
		baseLayerBytes, err := io.ReadAll(baseLayer.Reader())
		h.AssertNil(t, err)

		eng = efakes.NewEngine()
		eng.ImagesAPI.LayersByRef[baseRef] = []efakes.Layer{
			{Name: "base-layer.tar", Content: baseLayerBytes},
		}

		baseImage = engine.Image{
			ID:           "base-builder-id",
			OS:           "linux",
			Architecture: "amd64",
			User:         "cnb",
			WorkingDir:   "/workspace",
			Env:          []string{"PATH=/usr/bin", "CNB_USER_ID=1000", "CNB_GROUP_ID=1000", "OVERRIDE_ME=old"},
			Labels: map[string]string{
				builder.MetadataLabel: `{"description": "some builder", "buildpacks": [{"id": "bp.resident", "version": "0.1.0"}], "stack": {"runImage": {"image": "some/run"}}, "createdBy": {"name": "some-tool", "version": "0.0.1"}}`,
				dist.BuildpackLayersLabel: `{"bp.resident": {"0.1.0": {"api": "0.3", "stacks": [{"id": "some.stack.id"}], "layerDiffID": "sha256:9e0b1dd4ed4e426e3e4b24b8111cb1c0efb090a33a1a0fd4b4a9a9cd0ffca0c2"}}}`,
				builder.StackIDLabel:      "some.stack.id",
			},
		}
	})

	it.After(func() {
		os.RemoveAll(tmpDir)
	})

	var newBuilder = func(env map[string]string, modules []buildpack.Buildpack) *builder.EphemeralBuilder {
		t.Helper()

		md, err := builder.DecodeMetadata(baseImage)
		h.AssertNil(t, err)

		eb, err := builder.NewEphemeralBuilder(
			eng.ImagesAPI,
			baseImage,
			baseRef,
			builder.Owner{UID: 1000, GID: 1000},
			md,
			builder.CreatorMetadata{Name: "kiln", Version: "1.2.3"},
			env,
			modules,
		)
		h.AssertNil(t, err)
		return eb
	}

	var addedBuildpack = func() buildpack.Buildpack {
		t.Helper()

		bpDir := filepath.Join(tmpDir, "bp-added")
		h.AssertNil(t, os.MkdirAll(bpDir, 0755))
		h.AssertNil(t, os.WriteFile(filepath.Join(bpDir, "buildpack.toml"), []byte(`
api = "0.3"

[buildpack]
id = "bp.added"
version = "1.0.0"

[[stacks]]
id = "some.stack.id"
`), 0644))

		bp, err := buildpack.FromRootBlob(blob.NewBlob(bpDir))
		h.AssertNil(t, err)
		return bp
	}

	when("#NewEphemeralBuilder", func() {
		it("assigns a unique local name", func() {
			first := newBuilder(nil, nil)
			defer first.Close()
			second := newBuilder(nil, nil)
			defer second.Close()

			h.AssertMatch(t, first.Name(), `^kiln\.local/builder/[a-z]{10}:latest$`)
			h.AssertNotEq(t, first.Name(), second.Name())
		})

		it("carries the build owner", func() {
			eb := newBuilder(nil, nil)
			defer eb.Close()

			h.AssertEq(t, eb.Owner(), builder.Owner{UID: 1000, GID: 1000})
		})
	})

	when("#Archive", func() {
		it("layers buildpacks, env and order onto the base builder", func() {
			resident := buildpack.FromBuilder(dist.BuildpackDescriptor{
				WithInfo: dist.ModuleInfo{ID: "bp.resident", Version: "0.1.0"},
			})

			eb := newBuilder(
				map[string]string{"SOME_KEY": "value", "OVERRIDE_ME": "new"},
				[]buildpack.Buildpack{resident, addedBuildpack()},
			)
			defer eb.Close()

			archivePath, err := eb.Archive(ctx)
			h.AssertNil(t, err)

			img, err := tarball.ImageFromPath(archivePath, nil)
			h.AssertNil(t, err)

			layers, err := img.Layers()
			h.AssertNil(t, err)
			h.AssertEq(t, len(layers), 4)

			assertLayerHasEntry(t, layerReader(t, layers[0]), "cnb/lifecycle/detector", "detector-binary")
			assertLayerHasEntry(t, layerReader(t, layers[1]), "/cnb/buildpacks/bp.added/1.0.0/buildpack.toml", "")
			assertLayerHasEntry(t, layerReader(t, layers[2]), "/platform/env/SOME_KEY", "value")

			_, orderContents := readLayerEntry(t, layerReader(t, layers[3]), "/cnb/order.toml")
			h.AssertContains(t, string(orderContents), `id = "bp.resident"`)
			h.AssertContains(t, string(orderContents), `id = "bp.added"`)

			cfg, err := img.ConfigFile()
			h.AssertNil(t, err)
			h.AssertEq(t, cfg.OS, "linux")
			h.AssertEq(t, cfg.Architecture, "amd64")
			h.AssertEq(t, cfg.Created.Time, archive.NormalizedDateTime)
			h.AssertEq(t, cfg.Config.User, "cnb")
			h.AssertEq(t, cfg.Config.WorkingDir, "/workspace")
			h.AssertEq(t, cfg.Config.Env, []string{
				"PATH=/usr/bin",
				"CNB_USER_ID=1000",
				"CNB_GROUP_ID=1000",
				"OVERRIDE_ME=new",
				"SOME_KEY=value",
			})

			var md builder.Metadata
			h.AssertNil(t, json.Unmarshal([]byte(cfg.Config.Labels[builder.MetadataLabel]), &md))
			h.AssertEq(t, md.Description, "some builder")
			h.AssertEq(t, md.CreatedBy, builder.CreatorMetadata{Name: "kiln", Version: "1.2.3"})

			var layersMD dist.ModuleLayers
			h.AssertNil(t, json.Unmarshal([]byte(cfg.Config.Labels[dist.BuildpackLayersLabel]), &layersMD))
			added, ok := layersMD.Get("bp.added", "1.0.0")
			h.AssertTrue(t, ok)
			h.AssertMatch(t, added.LayerDiffID, `^sha256:[0-9a-f]{64}$`)
			_, ok = layersMD.Get("bp.resident", "0.1.0")
			h.AssertTrue(t, ok)

			var order dist.Order
			h.AssertNil(t, json.Unmarshal([]byte(cfg.Config.Labels[builder.OrderLabel]), &order))
			h.AssertEq(t, len(order), 1)
			h.AssertEq(t, len(order[0].Group), 2)
			h.AssertEq(t, order[0].Group[0].ID, "bp.resident")
			h.AssertEq(t, order[0].Group[1].ID, "bp.added")

			h.AssertEq(t, cfg.Config.Labels[builder.StackIDLabel], "some.stack.id")
		})

		it("keeps the base order when no buildpacks are requested", func() {
			eb := newBuilder(map[string]string{"SOME_KEY": "value"}, nil)
			defer eb.Close()

			archivePath, err := eb.Archive(ctx)
			h.AssertNil(t, err)

			img, err := tarball.ImageFromPath(archivePath, nil)
			h.AssertNil(t, err)

			layers, err := img.Layers()
			h.AssertNil(t, err)
			h.AssertEq(t, len(layers), 2)

			cfg, err := img.ConfigFile()
			h.AssertNil(t, err)
			_, ok := cfg.Config.Labels[builder.OrderLabel]
			h.AssertFalse(t, ok)
		})

		it("skips the env layer when no env is requested", func() {
			eb := newBuilder(nil, nil)
			defer eb.Close()

			archivePath, err := eb.Archive(ctx)
			h.AssertNil(t, err)

			img, err := tarball.ImageFromPath(archivePath, nil)
			h.AssertNil(t, err)

			layers, err := img.Layers()
			h.AssertNil(t, err)
			h.AssertEq(t, len(layers), 1)
		})

		it("errors when the base builder has no layers metadata", func() {
			delete(baseImage.Labels, dist.BuildpackLayersLabel)

			eb := newBuilder(nil, nil)
			defer eb.Close()

			_, err := eb.Archive(ctx)
			h.AssertError(t, err, "missing required label 'io.buildpacks.buildpack.layers'")
		})
	})

	when("#Close", func() {
		it("removes the archive", func() {
			eb := newBuilder(nil, nil)

			archivePath, err := eb.Archive(ctx)
			h.AssertNil(t, err)

			h.AssertNil(t, eb.Close())

			_, err = os.Stat(archivePath)
			h.AssertTrue(t, os.IsNotExist(err))
		})
	})
}

func layerReader(t *testing.T, layer v1.Layer) io.ReadCloser {
	t.Helper()

	rc, err := layer.Uncompressed()
	h.AssertNil(t, err)
	return rc
}

func readLayerEntry(t *testing.T, rc io.ReadCloser, entryPath string) (string, []byte) {
	t.Helper()
	defer rc.Close()

	header, contents, err := archive.ReadTarEntry(rc, entryPath)
	h.AssertNil(t, err)
	return header.Name, contents
}

func assertLayerHasEntry(t *testing.T, rc io.ReadCloser, entryPath, expectedContents string) {
	t.Helper()

	_, contents := readLayerEntry(t, rc, entryPath)
	if expectedContents != "" {
		h.AssertEq(t, string(contents), expectedContents)
	}
}
