package builder

import (
	"github.com/Masterminds/semver"
	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/style"
)

// SupportedPlatformAPIVersions lists the lifecycle Platform API versions the
// executor drives, oldest first.
var SupportedPlatformAPIVersions = []*semver.Version{
	semver.MustParse("0.3"),
	semver.MustParse("0.4"),
}

// FindLatestPlatformAPI picks the newest Platform API version both the
// builder's lifecycle and the executor support. Builders predating API
// advertisement run the oldest supported version.
func FindLatestPlatformAPI(md Metadata) (*semver.Version, error) {
	advertised := append(md.Lifecycle.APIs.Platform.Deprecated, md.Lifecycle.APIs.Platform.Supported...)
	if len(advertised) == 0 && md.Lifecycle.API.PlatformVersion != "" {
		advertised = []string{md.Lifecycle.API.PlatformVersion}
	}
	if len(advertised) == 0 {
		return SupportedPlatformAPIVersions[0], nil
	}

	parsed := make([]*semver.Version, 0, len(advertised))
	for _, raw := range advertised {
		version, err := semver.NewVersion(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing builder Platform API version %s", style.Symbol(raw))
		}
		parsed = append(parsed, version)
	}

	for i := len(SupportedPlatformAPIVersions) - 1; i >= 0; i-- {
		for _, version := range parsed {
			if SupportedPlatformAPIVersions[i].Equal(version) {
				return version, nil
			}
		}
	}

	return nil, errors.New("unable to find a supported Platform API version")
}
