package build

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/buildpacks/lifecycle/auth"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/cache"
	"github.com/kilnbuild/kiln/internal/paths"
	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/logging"
)

// LifecycleExecution runs the lifecycle phases in order against one target
// image. The layers and app volumes live for a single execution; the build
// and launch cache volumes are shared by every build of the same target.
type LifecycleExecution struct {
	logger       logging.Logger
	engine       engine.Client
	layersVolume string
	appVolume    string
	buildCache   *cache.VolumeCache
	launchCache  *cache.VolumeCache
	opts         LifecycleOptions
}

func NewLifecycleExecution(logger logging.Logger, client engine.Client, opts LifecycleOptions) *LifecycleExecution {
	return &LifecycleExecution{
		logger:       logger,
		engine:       client,
		layersVolume: paths.FilterReservedNames("kiln-layers-" + randString(10)),
		appVolume:    paths.FilterReservedNames("kiln-app-" + randString(10)),
		buildCache:   cache.NewVolumeCache(opts.Target, opts.Owner.String(), cache.BuildSuffix, client.Volumes()),
		launchCache:  cache.NewVolumeCache(opts.Target, opts.Owner.String(), cache.LaunchSuffix, client.Volumes()),
		opts:         opts,
	}
}

func randString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(rand.Intn(26))
	}
	return string(b)
}

func (l *LifecycleExecution) AppVolume() string {
	return l.appVolume
}

func (l *LifecycleExecution) LayersVolume() string {
	return l.layersVolume
}

func (l *LifecycleExecution) Run(ctx context.Context) error {
	l.logger.Debugf("Using build cache volume %s", style.Symbol(l.buildCache.Name()))
	if l.opts.ClearCache {
		if err := l.buildCache.Clear(ctx); err != nil {
			return errors.Wrap(err, "clearing build cache")
		}
		l.logger.Debugf("Build cache %s cleared", style.Symbol(l.buildCache.Name()))

		if err := l.launchCache.Clear(ctx); err != nil {
			return errors.Wrap(err, "clearing launch cache")
		}
		l.logger.Debugf("Launch cache %s cleared", style.Symbol(l.launchCache.Name()))
	}

	l.logger.Info(style.Step("DETECTING"))
	if err := l.Detect(ctx); err != nil {
		return err
	}

	l.logger.Info(style.Step("ANALYZING"))
	if err := l.Analyze(ctx); err != nil {
		return err
	}

	l.logger.Info(style.Step("RESTORING"))
	if l.opts.ClearCache {
		l.logger.Info("Skipping 'restore' due to clearing cache")
	} else if err := l.Restore(ctx); err != nil {
		return err
	}

	l.logger.Info(style.Step("BUILDING"))
	if err := l.Build(ctx); err != nil {
		return err
	}

	l.logger.Info(style.Step("EXPORTING"))
	return l.Export(ctx)
}

// Cleanup removes the per-execution volumes. Cache volumes stay for the next
// build of the same target.
func (l *LifecycleExecution) Cleanup() error {
	var reterr error
	if err := l.engine.Volumes().Remove(context.Background(), l.layersVolume, true); err != nil && !engine.IsNotFound(err) {
		reterr = errors.Wrapf(err, "failed to clean up layers volume %s", l.layersVolume)
	}
	if err := l.engine.Volumes().Remove(context.Background(), l.appVolume, true); err != nil && !engine.IsNotFound(err) {
		reterr = errors.Wrapf(err, "failed to clean up app volume %s", l.appVolume)
	}
	return reterr
}

func (l *LifecycleExecution) Detect(ctx context.Context) error {
	configProvider := NewPhaseConfigProvider(
		"detector",
		l,
		WithFlags(
			"-app", appDir,
			"-platform", platformDir,
			"-layers", layersDir,
		),
		WithNetwork(l.opts.Network),
		WithBinds(l.opts.Volumes...),
		WithAppSource(l.opts.AppPath, l.opts.Owner),
	)

	return l.runPhase(ctx, configProvider)
}

func (l *LifecycleExecution) Analyze(ctx context.Context) error {
	args := []string{
		"-layers", layersDir,
		"-cache-dir", cacheDir,
		l.opts.Target.Name(),
	}

	ops := []PhaseConfigProviderOperation{
		WithBinds(fmt.Sprintf("%s:%s", l.buildCache.Name(), cacheDir)),
	}

	if l.opts.Publish {
		authConfig, err := auth.BuildEnvVar(authn.DefaultKeychain, l.opts.Target.Name())
		if err != nil {
			return err
		}
		ops = append(ops, WithRoot(), WithRegistryAccess(authConfig))
	} else {
		ops = append(ops, WithDaemonAccess(), WithFlags("-daemon"))
	}

	ops = append(ops, WithArgs(args...))

	return l.runPhase(ctx, NewPhaseConfigProvider("analyzer", l, ops...))
}

func (l *LifecycleExecution) Restore(ctx context.Context) error {
	configProvider := NewPhaseConfigProvider(
		"restorer",
		l,
		WithRoot(),
		WithFlags(
			"-cache-dir", cacheDir,
			"-layers", layersDir,
		),
		WithBinds(fmt.Sprintf("%s:%s", l.buildCache.Name(), cacheDir)),
	)

	return l.runPhase(ctx, configProvider)
}

func (l *LifecycleExecution) Build(ctx context.Context) error {
	configProvider := NewPhaseConfigProvider(
		"builder",
		l,
		WithFlags(
			"-app", appDir,
			"-layers", layersDir,
			"-platform", platformDir,
		),
		WithNetwork(l.opts.Network),
		WithBinds(l.opts.Volumes...),
	)

	return l.runPhase(ctx, configProvider)
}

func (l *LifecycleExecution) Export(ctx context.Context) error {
	flags := []string{
		"-app", appDir,
		"-layers", layersDir,
		"-cache-dir", cacheDir,
		"-launch-cache", launchCacheDir,
		"-run-image", l.opts.RunImage,
	}
	if l.opts.DefaultProcessType != "" {
		flags = append(flags, "-process-type", l.opts.DefaultProcessType)
	}

	ops := []PhaseConfigProviderOperation{
		WithFlags(flags...),
		WithArgs(l.opts.Target.Name()),
		WithBinds(
			fmt.Sprintf("%s:%s", l.buildCache.Name(), cacheDir),
			fmt.Sprintf("%s:%s", l.launchCache.Name(), launchCacheDir),
		),
	}

	if l.opts.Publish {
		authConfig, err := auth.BuildEnvVar(authn.DefaultKeychain, l.opts.Target.Name(), l.opts.RunImage)
		if err != nil {
			return err
		}
		ops = append(ops, WithRegistryAccess(authConfig))
	} else {
		ops = append(ops, WithDaemonAccess())
	}

	return l.runPhase(ctx, NewPhaseConfigProvider("exporter", l, ops...))
}

func (l *LifecycleExecution) runPhase(ctx context.Context, provider *PhaseConfigProvider) error {
	return NewPhase(provider, l.engine.Containers(), l.logger, l.opts.PhaseTimeout).Run(ctx)
}
