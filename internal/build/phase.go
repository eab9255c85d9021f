package build

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/container"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/logging"
)

// PhaseError reports a lifecycle phase that ran and exited non-zero.
type PhaseError struct {
	Phase      string
	StatusCode int64
}

func (e PhaseError) Error() string {
	return fmt.Sprintf("lifecycle phase '%s' failed with status code %d", e.Phase, e.StatusCode)
}

// Phase is one lifecycle phase ready to run in its own container.
type Phase struct {
	name        string
	containers  engine.ContainerAPI
	config      engine.ContainerConfig
	infoWriter  io.Writer
	errorWriter io.Writer
	timeout     time.Duration
	logger      logging.Logger
}

func NewPhase(provider *PhaseConfigProvider, containers engine.ContainerAPI, logger logging.Logger, timeout time.Duration) *Phase {
	return &Phase{
		name:        provider.Name(),
		containers:  containers,
		config:      provider.ContainerConfig(),
		infoWriter:  provider.InfoWriter(),
		errorWriter: provider.ErrorWriter(),
		timeout:     timeout,
		logger:      logger,
	}
}

// Run creates, runs and removes the phase container. The container is
// force-removed whether or not the phase succeeded; a removal failure is
// logged and never masks the phase result.
func (p *Phase) Run(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ctrID, err := p.containers.Create(ctx, p.config)
	if err != nil {
		return errors.Wrapf(err, "failed to create '%s' container", p.name)
	}
	defer func() {
		if err := p.containers.Remove(context.Background(), ctrID, true); err != nil {
			p.logger.Warnf("failed to clean up '%s' container: %s", p.name, err)
		}
	}()

	status, err := container.Run(ctx, p.containers, ctrID, p.infoWriter, p.errorWriter)
	if err != nil {
		return errors.Wrapf(err, "running '%s' container", p.name)
	}
	if status != 0 {
		return PhaseError{Phase: p.name, StatusCode: status}
	}
	return nil
}
