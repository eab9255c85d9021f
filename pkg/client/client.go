/*
Package client provides a library for building container images from
application source with buildpacks, without a Dockerfile.

Create a Client, then call its Build method with a BuildOptions describing
the build. The Client drives a container engine through every step: fetching
the builder and run images, assembling an ephemeral builder with the
requested buildpacks, running the lifecycle phases in containers, and
committing the result to the engine or a registry.
*/
package client

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/pkg/blob"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/logging"
)

// BlobDownloader turns a path or URI into readable blob content.
type BlobDownloader interface {
	// Download returns a blob for the given path or URI. HTTP content is
	// cached locally and revalidated on later calls.
	Download(ctx context.Context, pathOrURI string, options ...blob.DownloadOption) (blob.Blob, error)
}

// Client orchestrates image builds against a container engine. A Client is
// safe to reuse across builds.
type Client struct {
	logger       logging.Logger
	engine       engine.Client
	downloader   BlobDownloader
	builderAuth  string
	publishAuth  string
	phaseTimeout time.Duration
}

// Option customizes a Client. Values in these functions are set through
// currying.
type Option func(c *Client)

// WithLogger supplies your own logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithEngine supplies the container engine builds run against.
func WithEngine(eng engine.Client) Option {
	return func(c *Client) {
		c.engine = eng
	}
}

// WithDownloader supplies your own downloader.
func WithDownloader(downloader BlobDownloader) Option {
	return func(c *Client) {
		c.downloader = downloader
	}
}

// WithRegistryAuth supplies registry auth headers. builderAuth authenticates
// pulls of the builder, run and buildpack images; when set, those images must
// all live in the builder's registry. publishAuth authenticates pushes of the
// built image.
func WithRegistryAuth(builderAuth, publishAuth string) Option {
	return func(c *Client) {
		c.builderAuth = builderAuth
		c.publishAuth = publishAuth
	}
}

// WithPhaseTimeout bounds each lifecycle phase. Zero means no limit.
func WithPhaseTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.phaseTimeout = timeout
	}
}

// NewClient creates a Client with the given options. Omitted collaborators
// are defaulted: a logger on the standard streams, the Docker engine from
// the environment, and a downloader caching under the kiln home.
func NewClient(opts ...Option) (*Client, error) {
	client := &Client{}
	for _, opt := range opts {
		opt(client)
	}

	if client.logger == nil {
		client.logger = logging.NewLogWithWriters(os.Stdout, os.Stderr)
	}

	if client.engine == nil {
		eng, err := engine.NewDocker(client.logger)
		if err != nil {
			return nil, err
		}
		client.engine = eng
	}

	if client.downloader == nil {
		home, err := config.KilnHome()
		if err != nil {
			return nil, errors.Wrap(err, "getting kiln home")
		}
		client.downloader = blob.NewDownloader(client.logger, filepath.Join(home, "download-cache"))
	}

	return client, nil
}
