// Package container runs a created container to completion while streaming
// its output.
package container

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kilnbuild/kiln/pkg/engine"
)

// Run starts containerID, drains its demuxed output to out and errOut until
// the container exits, and returns the exit status. The output is fully
// drained before Run returns. A log streaming failure surfaces only when the
// container itself succeeded.
func Run(ctx context.Context, containers engine.ContainerAPI, containerID string, out, errOut io.Writer) (int64, error) {
	if err := containers.Start(ctx, containerID); err != nil {
		return 0, errors.Wrap(err, "container start")
	}

	var eg errgroup.Group
	eg.Go(func() error {
		return containers.Logs(ctx, containerID, out, errOut)
	})

	status, waitErr := containers.Wait(ctx, containerID)
	logErr := eg.Wait()

	if waitErr != nil {
		return 0, errors.Wrap(waitErr, "container wait")
	}
	if logErr != nil && status == 0 {
		return status, errors.Wrap(logErr, "container logs")
	}
	return status, nil
}
