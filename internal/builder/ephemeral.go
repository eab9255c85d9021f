package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/archive"
	"github.com/kilnbuild/kiln/pkg/buildpack"
	"github.com/kilnbuild/kiln/pkg/dist"
	"github.com/kilnbuild/kiln/pkg/engine"
)

const (
	namePrefix = "kiln.local/builder/"

	orderPath       = "/cnb/order.toml"
	platformEnvDir  = "/platform/env"
	envFileMode     = 0444
	envDirMode      = 0555
	orderFileMode   = 0644
	archiveFileName = "builder.tar"
)

// LayerExporter streams an image's layers out of the engine in stacking
// order.
type LayerExporter interface {
	ExportLayers(ctx context.Context, ref string, fn func(name string, r io.Reader) error) error
}

// EphemeralBuilder assembles a single-build builder image: the base builder's
// layers plus generated layers for resolved buildpacks, build-time env and
// buildpack order. It owns a temp directory released by Close; the engine-side
// image loaded from its archive is removed by the caller after the lifecycle.
type EphemeralBuilder struct {
	name      string
	exporter  LayerExporter
	base      engine.Image
	baseRef   string
	owner     Owner
	metadata  Metadata
	createdBy CreatorMetadata
	env       map[string]string
	modules   []buildpack.Buildpack
	tmpDir    string
}

type orderTOML struct {
	Order dist.Order `toml:"order"`
}

func NewEphemeralBuilder(
	exporter LayerExporter,
	base engine.Image,
	baseRef string,
	owner Owner,
	metadata Metadata,
	createdBy CreatorMetadata,
	env map[string]string,
	modules []buildpack.Buildpack,
) (*EphemeralBuilder, error) {
	tmpDir, err := os.MkdirTemp("", "kiln.builder.")
	if err != nil {
		return nil, errors.Wrap(err, "creating temp directory")
	}

	return &EphemeralBuilder{
		name:      namePrefix + randString(10) + ":latest",
		exporter:  exporter,
		base:      base,
		baseRef:   baseRef,
		owner:     owner,
		metadata:  metadata,
		createdBy: createdBy,
		env:       env,
		modules:   modules,
		tmpDir:    tmpDir,
	}, nil
}

// Name is the unique engine-side reference the archive loads as.
func (b *EphemeralBuilder) Name() string {
	return b.name
}

func (b *EphemeralBuilder) Owner() Owner {
	return b.owner
}

// Archive writes the builder image archive under the builder's temp directory
// and returns its path. The archive is a standard layered image tarball ready
// for an engine load.
func (b *EphemeralBuilder) Archive(ctx context.Context) (string, error) {
	layerTars, err := b.exportBaseLayers(ctx)
	if err != nil {
		return "", err
	}

	layersMD, err := DecodeLayersMetadata(b.base)
	if err != nil {
		return "", err
	}

	for _, module := range b.modules {
		if buildpack.IsFromBuilder(module) {
			continue
		}

		tarPath, err := buildpack.ToLayerTar(b.tmpDir, module)
		if err != nil {
			return "", err
		}

		diffID, err := dist.LayerDiffID(tarPath)
		if err != nil {
			return "", errors.Wrapf(err, "computing diff id for %s", style.Symbol(module.Descriptor().Info().FullName()))
		}

		dist.AddToLayersMD(layersMD, module.Descriptor(), diffID.String())
		layerTars = append(layerTars, tarPath)
	}

	if len(b.env) > 0 {
		envTar, err := b.envLayer()
		if err != nil {
			return "", err
		}
		layerTars = append(layerTars, envTar)
	}

	var order dist.Order
	if len(b.modules) > 0 {
		order = b.moduleOrder()

		orderTar, err := b.orderLayer(order)
		if err != nil {
			return "", err
		}
		layerTars = append(layerTars, orderTar)
	}

	labels, err := b.imageLabels(layersMD, order)
	if err != nil {
		return "", err
	}

	img, err := mutate.ConfigFile(empty.Image, &v1.ConfigFile{
		OS:           b.base.OS,
		Architecture: b.base.Architecture,
		Variant:      b.base.Variant,
		Created:      v1.Time{Time: archive.NormalizedDateTime},
		Config: v1.Config{
			User:       b.base.User,
			WorkingDir: b.base.WorkingDir,
			Env:        mergeEnv(b.base.Env, b.env),
			Labels:     labels,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "writing image config")
	}

	layers := make([]v1.Layer, 0, len(layerTars))
	for _, tarPath := range layerTars {
		layer, err := tarball.LayerFromFile(tarPath)
		if err != nil {
			return "", errors.Wrapf(err, "reading layer %s", style.Symbol(tarPath))
		}
		layers = append(layers, layer)
	}

	img, err = mutate.AppendLayers(img, layers...)
	if err != nil {
		return "", errors.Wrap(err, "appending layers")
	}

	tag, err := name.NewTag(b.name, name.WeakValidation)
	if err != nil {
		return "", errors.Wrapf(err, "parsing builder name %s", style.Symbol(b.name))
	}

	archivePath := filepath.Join(b.tmpDir, archiveFileName)
	if err := tarball.WriteToFile(archivePath, tag, img); err != nil {
		return "", errors.Wrap(err, "writing builder archive")
	}

	return archivePath, nil
}

func (b *EphemeralBuilder) Close() error {
	return os.RemoveAll(b.tmpDir)
}

func (b *EphemeralBuilder) exportBaseLayers(ctx context.Context) ([]string, error) {
	var layerTars []string
	err := b.exporter.ExportLayers(ctx, b.baseRef, func(layerName string, r io.Reader) error {
		dest := filepath.Join(b.tmpDir, fmt.Sprintf("base-%d.tar", len(layerTars)))

		fh, err := os.Create(dest)
		if err != nil {
			return errors.Wrap(err, "create base layer file")
		}
		defer fh.Close()

		if _, err := io.Copy(fh, r); err != nil {
			return errors.Wrapf(err, "writing base layer %s", style.Symbol(layerName))
		}

		layerTars = append(layerTars, dest)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "exporting layers of %s", style.Symbol(b.baseRef))
	}
	return layerTars, nil
}

func (b *EphemeralBuilder) envLayer() (string, error) {
	tarBuilder := archive.TarBuilder{}
	tarBuilder.AddDir(platformEnvDir, envDirMode, archive.NormalizedDateTime)
	for _, key := range sortedKeys(b.env) {
		tarBuilder.AddFile(platformEnvDir+"/"+key, envFileMode, archive.NormalizedDateTime, []byte(b.env[key]))
	}

	envTar := filepath.Join(b.tmpDir, "env.tar")
	return envTar, tarBuilder.WriteToPath(envTar)
}

// moduleOrder is the single detection group holding every resolved buildpack
// in request order.
func (b *EphemeralBuilder) moduleOrder() dist.Order {
	refs := make([]dist.ModuleRef, 0, len(b.modules))
	for _, module := range b.modules {
		info := module.Descriptor().Info()
		refs = append(refs, dist.ModuleRef{ModuleInfo: dist.ModuleInfo{ID: info.ID, Version: info.Version}})
	}
	return dist.Order{{Group: refs}}
}

func (b *EphemeralBuilder) orderLayer(order dist.Order) (string, error) {
	buf := &bytes.Buffer{}
	if err := toml.NewEncoder(buf).Encode(orderTOML{Order: order}); err != nil {
		return "", errors.Wrapf(err, "encoding order.toml: %#v", order)
	}

	tarBuilder := archive.TarBuilder{}
	tarBuilder.AddFile(orderPath, orderFileMode, archive.NormalizedDateTime, buf.Bytes())

	orderTar := filepath.Join(b.tmpDir, "order.tar")
	return orderTar, tarBuilder.WriteToPath(orderTar)
}

func (b *EphemeralBuilder) imageLabels(layersMD dist.ModuleLayers, order dist.Order) (map[string]string, error) {
	labels := make(map[string]string, len(b.base.Labels))
	for k, v := range b.base.Labels {
		labels[k] = v
	}

	metadata := b.metadata
	metadata.CreatedBy = b.createdBy
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling builder metadata")
	}
	labels[MetadataLabel] = string(metadataJSON)

	layersJSON, err := json.Marshal(layersMD)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling buildpack layers metadata")
	}
	labels[dist.BuildpackLayersLabel] = string(layersJSON)

	if len(order) > 0 {
		orderJSON, err := json.Marshal(order)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling buildpack order")
		}
		labels[OrderLabel] = string(orderJSON)
	}

	return labels, nil
}

func mergeEnv(baseEnv []string, overrides map[string]string) []string {
	merged := make([]string, 0, len(baseEnv)+len(overrides))
	seen := map[string]bool{}

	for _, kv := range baseEnv {
		key := kv
		if i := strings.Index(kv, "="); i >= 0 {
			key = kv[:i]
		}
		if value, ok := overrides[key]; ok {
			merged = append(merged, key+"="+value)
			seen[key] = true
			continue
		}
		merged = append(merged, kv)
	}

	for _, key := range sortedKeys(overrides) {
		if !seen[key] {
			merged = append(merged, key+"="+overrides[key])
		}
	}

	return merged
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func randString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(rand.Intn(26))
	}
	return string(b)
}
