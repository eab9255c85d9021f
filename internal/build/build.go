// Package build drives the lifecycle phases of a single image build inside
// containers created from an ephemeral builder image.
package build

import (
	"time"

	"github.com/kilnbuild/kiln/internal/builder"
	"github.com/kilnbuild/kiln/pkg/image"
)

// LifecycleOptions describes one lifecycle run. The build-time environment is
// already baked into the ephemeral builder, so phases carry no extra env.
type LifecycleOptions struct {
	// Target is the normalized reference of the image being built.
	Target image.Reference

	// BuilderName is the engine-side name of the ephemeral builder image
	// every phase container is created from.
	BuilderName string

	// Owner is the uid/gid the build runs as inside the containers.
	Owner builder.Owner

	RunImage           string
	AppPath            string
	Network            string
	Volumes            []string
	Publish            bool
	ClearCache         bool
	DefaultProcessType string

	// PhaseTimeout bounds each phase; zero means no limit.
	PhaseTimeout time.Duration
}
