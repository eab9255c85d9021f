package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/build"
	"github.com/kilnbuild/kiln/internal/builder"
	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/buildpack"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/image"
)

// creatorName is recorded in the ephemeral builder metadata.
const creatorName = "kiln"

// RunImageUndeterminedError reports that neither the build request nor the
// builder metadata names a run image.
var RunImageUndeterminedError = errors.New("run image must be specified in the builder image metadata")

// StackMismatchError reports disagreeing stack ids between the run image and
// the builder.
type StackMismatchError struct {
	BuilderStack string
	RunStack     string
}

func (e StackMismatchError) Error() string {
	return fmt.Sprintf("run image stack '%s' does not match builder stack '%s'", e.RunStack, e.BuilderStack)
}

// Container paths the lifecycle phases rely on. User bindings targeting them
// are honored but warned about.
var sensitiveContainerPaths = []string{"/cnb", "/layers", "/workspace", "/var/run/docker.sock"}

// BuildOptions describes a single image build.
type BuildOptions struct {
	// Image is the reference the built application image is committed as.
	// Required.
	Image string

	// Builder is the builder image the build runs on. Required.
	Builder string

	// RunImage overrides the run image advertised by the builder metadata.
	RunImage string

	// AppPath is the application source directory. Defaults to the current
	// working directory.
	AppPath string

	// Env is build-time environment made available to the buildpacks.
	Env map[string]string

	// Buildpacks are buildpack references layered onto the builder in
	// request order. Each may name a builder-resident buildpack
	// (urn:cnb:builder or id[@version]), a directory, an archive path or
	// URL, or a buildpack image (docker://).
	Buildpacks []string

	// AdditionalTags the built image is also committed as, in order.
	AdditionalTags []string

	// Bindings are host volumes mounted into the detect and build phase
	// containers, in "source:target[:mode]" form.
	Bindings []string

	// Network mode for the phase containers.
	Network string

	// PullPolicy governs how builder, run and buildpack images are fetched.
	PullPolicy image.PullPolicy

	// Platform pins every image in the build, "os[/arch[/variant]]". Empty
	// adopts the platform of the builder image.
	Platform string

	// Publish pushes the built image and its tags to the registry.
	Publish bool

	// ClearCache drops the build and launch caches before running.
	ClearCache bool

	// DefaultProcessType recorded in the built image.
	DefaultProcessType string

	// AdditionalMirrors supplements the run image mirrors advertised by the
	// builder metadata, keyed by run image name.
	AdditionalMirrors map[string][]string

	// PhaseTimeout bounds each lifecycle phase. Zero uses the client
	// default.
	PhaseTimeout time.Duration
}

// Build builds an application image from source and commits it to the engine
// or, when publishing, to its registry. It returns nil only when the image
// and every requested tag are in place.
func (c *Client) Build(ctx context.Context, opts BuildOptions) error {
	target, err := image.ParseReference(opts.Image)
	if err != nil {
		return err
	}

	if opts.Builder == "" {
		return errors.New("a builder is required")
	}
	builderRef, err := image.ParseReference(opts.Builder)
	if err != nil {
		return err
	}

	tags := make([]image.Reference, 0, len(opts.AdditionalTags))
	for _, tag := range opts.AdditionalTags {
		ref, err := image.ParseReference(tag)
		if err != nil {
			return err
		}
		tags = append(tags, ref)
	}

	fetcherOpts := []image.FetcherOption{image.WithPullPolicy(opts.PullPolicy)}
	if c.builderAuth != "" {
		fetcherOpts = append(fetcherOpts, image.WithRegistryAuth(builderRef.Domain(), c.builderAuth))
	}
	if opts.Platform != "" {
		platform, err := image.ParsePlatform(opts.Platform)
		if err != nil {
			return err
		}
		fetcherOpts = append(fetcherOpts, image.WithPlatform(platform))
	}

	appPath, err := resolveAppPath(opts.AppPath)
	if err != nil {
		return err
	}

	c.logger.Infof("Building image %s", style.Symbol(target.Name()))
	c.warnSensitiveBindings(opts.Bindings)

	fetcher := image.NewFetcher(c.logger, c.engine.Images(), fetcherOpts...)

	builderTarget := builderRef.InTaggedOrDigestForm().String()
	builderImage, err := fetcher.Fetch(ctx, image.KindBuilder, builderRef)
	if err != nil {
		return err
	}

	md, err := builder.DecodeMetadata(builderImage)
	if err != nil {
		return err
	}
	layersMD, err := builder.DecodeLayersMetadata(builderImage)
	if err != nil {
		return err
	}
	owner, err := builder.OwnerFromEnv(builderImage)
	if err != nil {
		return err
	}
	platformAPI, err := builder.FindLatestPlatformAPI(md)
	if err != nil {
		return err
	}
	c.logger.Debugf("Using Platform API version %s", style.Symbol(platformAPI.String()))

	runRef, err := c.resolveRunImage(opts, target, md)
	if err != nil {
		return err
	}
	runImage, err := fetcher.Fetch(ctx, image.KindRun, runRef)
	if err != nil {
		return err
	}
	if err := ensureStacksMatch(builderImage, runImage); err != nil {
		return err
	}

	resolver := buildpack.NewResolver(c.logger, c.downloader, buildpack.ResolverContext{
		Buildpacks: md.Buildpacks,
		Layers:     layersMD,
		Fetcher:    fetcher,
		Exporter:   c.engine.Images(),
	})
	defer func() {
		if err := resolver.Close(); err != nil {
			c.logger.Warnf("failed to clean up buildpack content: %s", err)
		}
	}()

	modules, err := resolver.ResolveAll(ctx, opts.Buildpacks)
	if err != nil {
		return err
	}

	ephemeral, err := builder.NewEphemeralBuilder(
		c.engine.Images(),
		builderImage,
		builderTarget,
		owner,
		md,
		builder.CreatorMetadata{Name: creatorName, Version: Version},
		opts.Env,
		modules,
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := ephemeral.Close(); err != nil {
			c.logger.Warnf("failed to clean up builder directory: %s", err)
		}
	}()

	phaseTimeout := c.phaseTimeout
	if opts.PhaseTimeout > 0 {
		phaseTimeout = opts.PhaseTimeout
	}

	lifecycleOpts := build.LifecycleOptions{
		Target:             target,
		BuilderName:        ephemeral.Name(),
		Owner:              owner,
		RunImage:           runRef.Name(),
		AppPath:            appPath,
		Network:            opts.Network,
		Volumes:            opts.Bindings,
		Publish:            opts.Publish,
		ClearCache:         opts.ClearCache,
		DefaultProcessType: opts.DefaultProcessType,
		PhaseTimeout:       phaseTimeout,
	}
	if err := c.runLifecycle(ctx, ephemeral, lifecycleOpts); err != nil {
		return err
	}

	for _, tag := range tags {
		if err := c.engine.Images().Tag(ctx, target.Name(), tag.Name()); err != nil {
			return err
		}
		c.logger.Infof("Tagged image %s", style.Symbol(tag.Name()))
	}

	if opts.Publish {
		if err := c.pushImages(ctx, target, tags); err != nil {
			return err
		}
	}

	return nil
}

// runLifecycle loads the ephemeral builder into the engine and drives the
// lifecycle phases on it. The loaded image is removed again on every path
// out; removal and volume cleanup failures are logged, never returned.
func (c *Client) runLifecycle(ctx context.Context, ephemeral *builder.EphemeralBuilder, opts build.LifecycleOptions) error {
	archivePath, err := ephemeral.Archive(ctx)
	if err != nil {
		return err
	}

	fh, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "opening builder archive")
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return errors.Wrap(err, "inspecting builder archive")
	}

	c.logger.Debugf("Loading ephemeral builder %s (%s)", style.Symbol(ephemeral.Name()), humanize.Bytes(uint64(fi.Size())))
	if err := c.engine.Images().Load(ctx, fh); err != nil {
		return errors.Wrapf(err, "loading builder %s", style.Symbol(ephemeral.Name()))
	}
	defer func() {
		if err := c.engine.Images().Remove(context.Background(), ephemeral.Name(), true); err != nil {
			c.logger.Warnf("failed to remove ephemeral builder image %s: %s", style.Symbol(ephemeral.Name()), err)
		}
	}()

	execution := build.NewLifecycleExecution(c.logger, c.engine, opts)
	defer func() {
		if err := execution.Cleanup(); err != nil {
			c.logger.Warnf("%s", err)
		}
	}()

	return execution.Run(ctx)
}

// resolveRunImage picks the run image for the build: the explicit override,
// or the builder's advertised run image with the mirror matching the target
// registry preferred.
func (c *Client) resolveRunImage(opts BuildOptions, target image.Reference, md builder.Metadata) (image.Reference, error) {
	if opts.RunImage != "" {
		c.logger.Debugf("Using provided run image %s", style.Symbol(opts.RunImage))
		return image.ParseReference(opts.RunImage)
	}

	base := md.Stack.RunImage
	if len(md.RunImages) > 0 {
		base = md.RunImages[0]
	}
	if base.Image == "" {
		return image.Reference{}, RunImageUndeterminedError
	}

	candidates := append([]string{base.Image}, base.Mirrors...)
	candidates = append(candidates, opts.AdditionalMirrors[base.Image]...)

	selected, err := config.ImageByRegistry(target.Domain(), candidates)
	if err != nil {
		return image.Reference{}, err
	}

	ref, err := image.ParseReference(selected)
	if err != nil {
		return image.Reference{}, err
	}
	return ref.InTaggedOrDigestForm(), nil
}

func (c *Client) warnSensitiveBindings(bindings []string) {
	for _, binding := range bindings {
		parts := strings.SplitN(binding, ":", 3)
		if len(parts) < 2 {
			continue
		}
		target := parts[1]
		for _, sensitive := range sensitiveContainerPaths {
			if target == sensitive || strings.HasPrefix(target, sensitive+"/") {
				c.logger.Warnf("Mounting to a sensitive directory %s", style.Symbol(target))
			}
		}
	}
}

func (c *Client) pushImages(ctx context.Context, target image.Reference, tags []image.Reference) error {
	for _, ref := range append([]image.Reference{target}, tags...) {
		c.logger.Infof("Pushing image %s", style.Symbol(ref.Name()))
		if err := c.engine.Images().Push(ctx, ref.Name(), c.publishAuth); err != nil {
			return err
		}
	}
	return nil
}

func ensureStacksMatch(builderImage, runImage engine.Image) error {
	builderStack := builder.StackID(builderImage)
	runStack := builder.StackID(runImage)
	if builderStack == "" || runStack == "" {
		return nil
	}
	if runStack != builderStack {
		return StackMismatchError{BuilderStack: builderStack, RunStack: runStack}
	}
	return nil
}

func resolveAppPath(appPath string) (string, error) {
	if appPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "getting working directory")
		}
		appPath = cwd
	}

	abs, err := filepath.Abs(appPath)
	if err != nil {
		return "", errors.Wrapf(err, "resolving app path %s", style.Symbol(appPath))
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrapf(err, "reading app path %s", style.Symbol(abs))
	}
	if !fi.IsDir() {
		return "", errors.Errorf("app path %s must be a directory", style.Symbol(abs))
	}

	return abs, nil
}
