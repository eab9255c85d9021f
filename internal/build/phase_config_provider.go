package build

import (
	"io"

	"github.com/kilnbuild/kiln/internal/builder"
	"github.com/kilnbuild/kiln/pkg/archive"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/logging"
)

const (
	appDir         = "/workspace"
	layersDir      = "/layers"
	platformDir    = "/platform"
	cacheDir       = "/cache"
	launchCacheDir = "/launch-cache"

	engineSocket = "/var/run/docker.sock"
)

type PhaseConfigProviderOperation func(*PhaseConfigProvider)

// PhaseConfigProvider assembles the container config for one lifecycle phase.
// Every phase container runs the phase binary from the ephemeral builder
// image with the layers and app volumes mounted.
type PhaseConfigProvider struct {
	name        string
	flags       []string
	args        []string
	config      engine.ContainerConfig
	infoWriter  io.Writer
	errorWriter io.Writer
}

func NewPhaseConfigProvider(name string, lifecycleExec *LifecycleExecution, ops ...PhaseConfigProviderOperation) *PhaseConfigProvider {
	provider := &PhaseConfigProvider{
		name: name,
		config: engine.ContainerConfig{
			Image:  lifecycleExec.opts.BuilderName,
			Labels: map[string]string{"author": "kiln"},
			Binds: []string{
				lifecycleExec.layersVolume + ":" + layersDir,
				lifecycleExec.appVolume + ":" + appDir,
			},
		},
		infoWriter:  logging.GetWriterForLevel(lifecycleExec.logger, logging.InfoLevel),
		errorWriter: logging.GetWriterForLevel(lifecycleExec.logger, logging.ErrorLevel),
	}

	for _, op := range ops {
		op(provider)
	}

	provider.config.Cmd = append([]string{"/cnb/lifecycle/" + name}, append(provider.flags, provider.args...)...)

	return provider
}

func (p *PhaseConfigProvider) Name() string { return p.name }

func (p *PhaseConfigProvider) ContainerConfig() engine.ContainerConfig { return p.config }

func (p *PhaseConfigProvider) InfoWriter() io.Writer { return p.infoWriter }

func (p *PhaseConfigProvider) ErrorWriter() io.Writer { return p.errorWriter }

// WithFlags adds flag arguments placed before the args.
func WithFlags(flags ...string) PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.flags = append(provider.flags, flags...)
	}
}

// WithArgs adds trailing arguments.
func WithArgs(args ...string) PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.args = append(provider.args, args...)
	}
}

func WithBinds(binds ...string) PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.config.Binds = append(provider.config.Binds, binds...)
	}
}

func WithNetwork(networkMode string) PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.config.NetworkMode = networkMode
	}
}

func WithRoot() PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.config.User = "root"
	}
}

// WithDaemonAccess lets the phase drive the container engine directly.
func WithDaemonAccess() PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.config.User = "root"
		provider.config.Binds = append(provider.config.Binds, engineSocket+":"+engineSocket)
	}
}

// WithRegistryAccess hands the phase registry credentials the way the
// lifecycle expects them.
func WithRegistryAccess(authConfig string) PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.config.Env = append(provider.config.Env, "CNB_REGISTRY_AUTH="+authConfig)
	}
}

// WithAppSource attaches the application directory as a tar stream copied
// into the container before it starts, owned by the build owner with
// normalized timestamps.
func WithAppSource(appPath string, owner builder.Owner) PhaseConfigProviderOperation {
	return func(provider *PhaseConfigProvider) {
		provider.config.Content = archive.ReadDirAsTar(appPath, appDir, owner.UID, owner.GID, -1, true, nil)
		provider.config.ContentPath = "/"
	}
}
