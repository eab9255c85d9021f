// Package cache names the engine volumes that carry lifecycle state between
// builds and clears them on request.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/kilnbuild/kiln/internal/paths"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/image"
)

const volumePrefix = "kiln-cache"

// Suffixes of the two cache volumes attached to every build.
const (
	BuildSuffix  = "build"
	LaunchSuffix = "launch"
)

// VolumeCache is an engine volume holding reusable lifecycle state for one
// target image.
type VolumeCache struct {
	name    string
	volumes engine.VolumeAPI
}

// NewVolumeCache derives the cache volume name for a target image built by
// owner. The name is stable across builds of the same target, so cached
// layers are found again, and differs across registries, repositories, tags
// and owners.
func NewVolumeCache(target image.Reference, owner, suffix string, volumes engine.VolumeAPI) *VolumeCache {
	sum := sha256.Sum256([]byte(target.Name() + owner))
	return &VolumeCache{
		name:    paths.FilterReservedNames(fmt.Sprintf("%s-%x.%s", volumePrefix, sum[:16], suffix)),
		volumes: volumes,
	}
}

func (c *VolumeCache) Name() string {
	return c.name
}

// Clear removes the volume. Clearing a cache that does not exist is not an
// error.
func (c *VolumeCache) Clear(ctx context.Context) error {
	if err := c.volumes.Remove(ctx, c.name, true); err != nil && !engine.IsNotFound(err) {
		return err
	}
	return nil
}
