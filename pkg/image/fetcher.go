package image

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/logging"
)

type FetcherOption func(*Fetcher)

func WithPullPolicy(policy PullPolicy) FetcherOption {
	return func(f *Fetcher) {
		f.policy = policy
	}
}

// WithRegistryAuth pins every fetch to the authenticated registry domain and
// supplies the auth header used for pulls.
func WithRegistryAuth(domain, header string) FetcherOption {
	return func(f *Fetcher) {
		f.authDomain = domain
		f.authHeader = header
	}
}

func WithPlatform(platform Platform) FetcherOption {
	return func(f *Fetcher) {
		f.platform = &platform
	}
}

// Fetcher fetches the images of one build through the engine, enforcing the
// pull policy, registry pinning and a consistent platform.
type Fetcher struct {
	logger     logging.Logger
	images     engine.ImageAPI
	policy     PullPolicy
	authDomain string
	authHeader string
	platform   *Platform
}

func NewFetcher(logger logging.Logger, images engine.ImageAPI, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		logger: logger,
		images: images,
		policy: PullAlways,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// EffectivePlatform is the platform the build is pinned to: the requested
// platform, or the platform of the first fetched image.
func (f *Fetcher) EffectivePlatform() (Platform, bool) {
	if f.platform == nil {
		return Platform{}, false
	}
	return *f.platform, true
}

func (f *Fetcher) Fetch(ctx context.Context, kind Kind, ref Reference) (engine.Image, error) {
	if f.authHeader != "" && ref.Domain() != f.authDomain {
		return engine.Image{}, RegistryMismatchError{Kind: kind, Ref: ref.String(), Domain: f.authDomain}
	}

	target := ref.InTaggedOrDigestForm().String()

	img, err := f.fetch(ctx, target)
	if err != nil {
		return engine.Image{}, err
	}

	if err := f.ensurePlatform(ref, img); err != nil {
		return engine.Image{}, err
	}
	return img, nil
}

func (f *Fetcher) fetch(ctx context.Context, target string) (engine.Image, error) {
	switch f.policy {
	case PullNever:
		img, err := f.images.Inspect(ctx, target)
		if err != nil {
			if engine.IsNotFound(err) {
				return engine.Image{}, errors.Wrapf(engine.ErrNotFound, "image %s does not exist on the daemon", style.Symbol(target))
			}
			return engine.Image{}, err
		}
		return img, nil

	case PullIfNotPresent:
		img, err := f.images.Inspect(ctx, target)
		if err == nil {
			return img, nil
		}
		if !engine.IsNotFound(err) {
			return engine.Image{}, err
		}
		return f.pull(ctx, target)

	default:
		return f.pull(ctx, target)
	}
}

func (f *Fetcher) pull(ctx context.Context, target string) (engine.Image, error) {
	f.logger.Debugf("Pulling image %s", style.Symbol(target))

	var platform string
	if f.platform != nil {
		platform = f.platform.String()
	}

	return f.images.Pull(ctx, target, platform, f.authHeader)
}

func (f *Fetcher) ensurePlatform(ref Reference, img engine.Image) error {
	actual := Platform{OS: img.OS, Architecture: img.Architecture, Variant: img.Variant}

	if f.platform == nil {
		f.platform = &actual
		return nil
	}

	if !f.platform.Matches(actual) {
		return PlatformMismatchError{
			Ref:       ref.String(),
			Requested: f.platform.String(),
			Actual:    actual.String(),
		}
	}
	return nil
}
