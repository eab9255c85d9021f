package buildpack

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/paths"
	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/blob"
	"github.com/kilnbuild/kiln/pkg/dist"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/image"
	"github.com/kilnbuild/kiln/pkg/logging"
)

const (
	builderURNPrefix   = "urn:cnb:builder"
	imageLocatorPrefix = "docker://"
)

// NotFoundError is returned when no strategy recognizes a buildpack
// reference.
type NotFoundError struct {
	Reference string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("buildpack '%s' could not be resolved", e.Reference)
}

// ImageFetcher fetches buildpack images subject to the build's pull policy,
// registry pinning and platform pinning.
type ImageFetcher interface {
	Fetch(ctx context.Context, kind image.Kind, ref image.Reference) (engine.Image, error)
}

// LayerExporter streams the layer tars of an engine-side image in stacking
// order.
type LayerExporter interface {
	ExportLayers(ctx context.Context, ref string, fn func(name string, r io.Reader) error) error
}

// ResolverContext carries the builder metadata and engine access the
// resolver strategies need.
type ResolverContext struct {
	// Buildpacks declared by the builder metadata label.
	Buildpacks []dist.ModuleInfo

	// Layers decoded from the builder's buildpack layers label.
	Layers dist.ModuleLayers

	Fetcher  ImageFetcher
	Exporter LayerExporter
}

// Resolver resolves declarative buildpack references. Strategies are tried
// in a fixed order (builder-resident, directory, archive, image); the first
// strategy recognizing a reference wins.
type Resolver struct {
	logger     logging.Logger
	downloader blob.Downloader
	rctx       ResolverContext
	tmpDir     string
}

func NewResolver(logger logging.Logger, downloader blob.Downloader, rctx ResolverContext) *Resolver {
	return &Resolver{
		logger:     logger,
		downloader: downloader,
		rctx:       rctx,
	}
}

// Close removes spooled buildpack content.
func (r *Resolver) Close() error {
	if r.tmpDir == "" {
		return nil
	}
	return os.RemoveAll(r.tmpDir)
}

// ResolveAll resolves every reference or fails. The resolved order matches
// the request order; partial results are never returned.
func (r *Resolver) ResolveAll(ctx context.Context, refs []string) ([]Buildpack, error) {
	var modules []Buildpack
	for _, ref := range refs {
		module, err := r.resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, nil
}

type strategy struct {
	recognizes func(ref string) bool
	resolve    func(ctx context.Context, ref string) (Buildpack, error)
}

func (r *Resolver) strategies() []strategy {
	return []strategy{
		{recognizes: r.recognizesBuilder, resolve: r.resolveBuilder},
		{recognizes: r.recognizesDirectory, resolve: r.resolveDirectory},
		{recognizes: r.recognizesArchive, resolve: r.resolveArchive},
		{recognizes: r.recognizesImage, resolve: r.resolveImage},
	}
}

func (r *Resolver) resolve(ctx context.Context, ref string) (Buildpack, error) {
	for _, s := range r.strategies() {
		if !s.recognizes(ref) {
			continue
		}
		return s.resolve(ctx, ref)
	}
	return nil, NotFoundError{Reference: ref}
}

// ParseIDLocator parses a buildpack locator of the form <id>[@<version>]
// into its id and version. An omitted version yields the empty string.
func ParseIDLocator(locator string) (id string, version string) {
	parts := strings.Split(locator, "@")
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func (r *Resolver) recognizesBuilder(ref string) bool {
	if strings.HasPrefix(ref, builderURNPrefix) {
		return true
	}
	_, _, _, ok := r.builderLookup(ref)
	return ok
}

func (r *Resolver) resolveBuilder(_ context.Context, ref string) (Buildpack, error) {
	id, version, layerInfo, ok := r.builderLookup(ref)
	if !ok {
		return nil, errors.Errorf("buildpack %s not found in builder", style.Symbol(ref))
	}

	info := dist.ModuleInfo{ID: id, Version: version, Homepage: layerInfo.Homepage, Name: layerInfo.Name}
	if md, ok := r.metadataMatch(id); ok && info.Homepage == "" {
		info.Homepage = md.Homepage
	}

	r.logger.Debugf("Buildpack %s is provided by the builder", style.Symbol(info.FullName()))

	return FromBuilder(dist.BuildpackDescriptor{
		WithAPI:    layerInfo.API,
		WithInfo:   info,
		WithStacks: layerInfo.Stacks,
		WithOrder:  layerInfo.Order,
	}), nil
}

// builderLookup matches an id[@version] locator, with or without the URN
// prefix, against the builder's layer metadata. A missing version resolves
// through the builder metadata when it names exactly one version of the id.
func (r *Resolver) builderLookup(ref string) (string, string, dist.ModuleLayerInfo, bool) {
	id, version := ParseIDLocator(strings.TrimPrefix(ref, builderURNPrefix+":"))
	if version == "" {
		if md, ok := r.metadataMatch(id); ok {
			version = md.Version
		}
	}

	byVersion, ok := r.rctx.Layers[id]
	if !ok {
		return id, version, dist.ModuleLayerInfo{}, false
	}

	if version == "" {
		if len(byVersion) != 1 {
			return id, version, dist.ModuleLayerInfo{}, false
		}
		for v, info := range byVersion {
			return id, v, info, true
		}
	}

	info, ok := byVersion[version]
	return id, version, info, ok
}

func (r *Resolver) metadataMatch(id string) (dist.ModuleInfo, bool) {
	var (
		found dist.ModuleInfo
		count int
	)
	for _, info := range r.rctx.Buildpacks {
		if info.ID == id {
			found = info
			count++
		}
	}
	return found, count == 1
}

func (r *Resolver) recognizesDirectory(ref string) bool {
	if paths.IsURI(ref) {
		return false
	}
	isDir, err := paths.IsDir(ref)
	return err == nil && isDir
}

func (r *Resolver) resolveDirectory(_ context.Context, ref string) (Buildpack, error) {
	r.logger.Debugf("Reading buildpack from directory %s", style.Symbol(ref))

	module, err := FromRootBlob(blob.NewBlob(ref))
	if err != nil {
		return nil, errors.Wrapf(err, "reading buildpack from directory %s", style.Symbol(ref))
	}
	return module, nil
}

func (r *Resolver) recognizesArchive(ref string) bool {
	if paths.IsURI(ref) {
		parsed, err := url.Parse(ref)
		if err != nil {
			return false
		}
		switch parsed.Scheme {
		case "file", "http", "https":
			return true
		}
		return false
	}

	fi, err := os.Stat(ref)
	return err == nil && fi.Mode().IsRegular()
}

func (r *Resolver) resolveArchive(ctx context.Context, ref string) (Buildpack, error) {
	r.logger.Debugf("Downloading buildpack from URI: %s", style.Symbol(ref))

	b, err := r.downloader.Download(ctx, ref)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading buildpack from %s", style.Symbol(ref))
	}

	module, err := FromRootBlob(b)
	if err != nil {
		return nil, errors.Wrapf(err, "extracting from %s", style.Symbol(ref))
	}
	return module, nil
}

func (r *Resolver) recognizesImage(ref string) bool {
	if strings.HasPrefix(ref, imageLocatorPrefix) {
		return true
	}

	// A bare token is an id locator, not an image reference.
	if !strings.ContainsAny(ref, "/:@") {
		return false
	}

	_, err := image.ParseReference(ref)
	return err == nil
}

func (r *Resolver) resolveImage(ctx context.Context, ref string) (Buildpack, error) {
	imgRef, err := image.ParseReference(strings.TrimPrefix(ref, imageLocatorPrefix))
	if err != nil {
		return nil, err
	}

	r.logger.Debugf("Downloading buildpack from image: %s", style.Symbol(imgRef.String()))

	img, err := r.rctx.Fetcher.Fetch(ctx, image.KindBuildpack, imgRef)
	if err != nil {
		return nil, err
	}

	module, err := r.extractPackaged(ctx, imgRef, img)
	if err != nil {
		return nil, errors.Wrapf(err, "extracting buildpacks from %s", style.Symbol(imgRef.String()))
	}
	return module, nil
}

func (r *Resolver) contentDir() (string, error) {
	if r.tmpDir != "" {
		return r.tmpDir, nil
	}

	dir, err := os.MkdirTemp("", "kiln.buildpacks.")
	if err != nil {
		return "", errors.Wrap(err, "creating temp directory")
	}
	r.tmpDir = dir
	return dir, nil
}
