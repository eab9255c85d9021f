// Package engine defines the contract kiln needs from a container engine.
// The default implementation talks to a Docker-compatible daemon; tests
// substitute in-memory fakes.
package engine

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports that an image is not present on the engine. Detect it
// with IsNotFound; implementations wrap it with detail.
var ErrNotFound = errors.New("not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type Client interface {
	Images() ImageAPI
	Containers() ContainerAPI
	Volumes() VolumeAPI
}

type ImageAPI interface {
	// Inspect returns the engine-side image for ref. Absent images report
	// IsNotFound.
	Inspect(ctx context.Context, ref string) (Image, error)

	// Pull fetches ref from its registry, streaming progress to the
	// engine's configured output. platform is "os[/arch[/variant]]" or
	// empty; auth is a registry auth header value or empty.
	Pull(ctx context.Context, ref, platform, auth string) (Image, error)

	// Push publishes ref to its registry, streaming progress.
	Push(ctx context.Context, ref, auth string) error

	Tag(ctx context.Context, ref, target string) error

	// Load imports a layered image tarball into the engine.
	Load(ctx context.Context, archive io.Reader) error

	Remove(ctx context.Context, ref string, force bool) error

	// ExportLayers invokes fn once per layer of the engine-side image, in
	// stacking order, with the layer's tar content.
	ExportLayers(ctx context.Context, ref string, fn func(name string, r io.Reader) error) error
}

type ContainerAPI interface {
	Create(ctx context.Context, config ContainerConfig) (string, error)
	Start(ctx context.Context, containerID string) error

	// Wait blocks until the container exits and returns its status code.
	Wait(ctx context.Context, containerID string) (int64, error)

	// Logs follows the container's output, demuxed to the two writers.
	Logs(ctx context.Context, containerID string, stdout, stderr io.Writer) error

	Remove(ctx context.Context, containerID string, force bool) error
}

type VolumeAPI interface {
	Remove(ctx context.Context, name string, force bool) error
}

// ContainerConfig describes a container to create. Content, when set, is a
// tar stream copied into the container at ContentPath before it starts.
type ContainerConfig struct {
	Image       string
	Cmd         []string
	Env         []string
	User        string
	Labels      map[string]string
	Binds       []string
	NetworkMode string
	Content     io.Reader
	ContentPath string
}

// Image is an engine-side image inspection result.
type Image struct {
	ID           string
	OS           string
	Architecture string
	Variant      string
	Env          []string
	Labels       map[string]string
	User         string
	WorkingDir   string
	DiffIDs      []string
}

// Label returns the label value, reporting whether it is present.
func (i Image) Label(name string) (string, bool) {
	if i.Labels == nil {
		return "", false
	}
	value, ok := i.Labels[name]
	return value, ok
}

// EnvVar returns the value of an environment variable from the image config.
func (i Image) EnvVar(name string) (string, bool) {
	prefix := name + "="
	for _, kv := range i.Env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):], true
		}
	}
	return "", false
}
