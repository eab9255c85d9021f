package buildpack

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/blob"
	"github.com/kilnbuild/kiln/pkg/dist"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/image"
)

// MetadataLabel names the buildpackage metadata label on a packaged
// buildpack image.
const MetadataLabel = "io.buildpacks.buildpackage.metadata"

// Metadata is the decoded buildpackage metadata label.
type Metadata struct {
	dist.ModuleInfo
	Stacks []dist.Stack `toml:"stacks" json:"stacks"`
}

// extractPackaged turns a fetched buildpack image into a Buildpack by
// decoding its package metadata and spooling its '/cnb/buildpacks' content
// from the exported layers.
func (r *Resolver) extractPackaged(ctx context.Context, ref image.Reference, img engine.Image) (Buildpack, error) {
	var md Metadata
	if err := decodeLabel(img, MetadataLabel, &md); err != nil {
		return nil, err
	}

	var layersMD dist.ModuleLayers
	if err := decodeLabel(img, dist.BuildpackLayersLabel, &layersMD); err != nil {
		return nil, err
	}

	layerInfo, ok := layersMD.Get(md.ID, md.Version)
	if !ok {
		return nil, errors.Errorf("buildpack %s missing from layers metadata", style.Symbol(md.FullName()))
	}

	descriptor := dist.BuildpackDescriptor{
		WithAPI: layerInfo.API,
		WithInfo: dist.ModuleInfo{
			ID:       md.ID,
			Version:  md.Version,
			Homepage: layerInfo.Homepage,
			Name:     layerInfo.Name,
		},
		WithStacks: layerInfo.Stacks,
		WithOrder:  layerInfo.Order,
	}
	if descriptor.WithInfo.Homepage == "" {
		descriptor.WithInfo.Homepage = md.Homepage
	}

	dir, err := r.contentDir()
	if err != nil {
		return nil, err
	}

	contentTar := filepath.Join(dir, fmt.Sprintf("%s.%s.tar", descriptor.EscapedID(), md.Version))
	if err := exportBuildpackContent(ctx, r.rctx.Exporter, ref.InTaggedOrDigestForm().String(), contentTar); err != nil {
		return nil, err
	}

	return FromBlob(descriptor, blob.NewBlob(contentTar)), nil
}

func decodeLabel(img engine.Image, name string, target interface{}) error {
	value, ok := img.Label(name)
	if !ok {
		return errors.Errorf("could not find label %s", style.Symbol(name))
	}
	if err := json.Unmarshal([]byte(value), target); err != nil {
		return errors.Wrapf(err, "parsing label %s", style.Symbol(name))
	}
	return nil
}

// exportBuildpackContent writes every '/cnb/buildpacks' entry of the image's
// layers, in stacking order, to a single tar at dest.
func exportBuildpackContent(ctx context.Context, exporter LayerExporter, ref, dest string) error {
	fh, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "create file for tar")
	}
	defer fh.Close()

	tw := tar.NewWriter(fh)
	defer tw.Close()

	if err := exporter.ExportLayers(ctx, ref, func(_ string, layer io.Reader) error {
		return copyBuildpackEntries(tw, layer)
	}); err != nil {
		return errors.Wrap(err, "exporting buildpack layers")
	}

	return nil
}

func copyBuildpackEntries(tw *tar.Writer, layer io.Reader) error {
	tr := tar.NewReader(layer)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "failed to get next tar entry")
		}

		name := strings.TrimPrefix(path.Clean("/"+header.Name), "/")
		if !strings.HasPrefix(name, "cnb/buildpacks/") {
			continue
		}
		// skip layer whiteouts
		if strings.HasPrefix(path.Base(name), ".wh.") {
			continue
		}

		header.Name = "/" + name
		if err := tw.WriteHeader(header); err != nil {
			return errors.Wrapf(err, "failed to write header for '%s'", header.Name)
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return errors.Wrapf(err, "failed to write contents to '%s'", header.Name)
		}
	}

	return nil
}
