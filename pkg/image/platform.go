package image

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/style"
)

type Platform struct {
	OS           string
	Architecture string
	Variant      string
}

// ParsePlatform parses "os[/arch[/variant]]".
func ParsePlatform(value string) (Platform, error) {
	parts := strings.Split(value, "/")
	if len(parts) > 3 {
		return Platform{}, errors.Errorf("invalid platform %s: expected format 'os[/arch[/variant]]'", style.Symbol(value))
	}
	for _, part := range parts {
		if part == "" {
			return Platform{}, errors.Errorf("invalid platform %s: expected format 'os[/arch[/variant]]'", style.Symbol(value))
		}
	}

	platform := Platform{OS: parts[0]}
	if len(parts) > 1 {
		platform.Architecture = parts[1]
	}
	if len(parts) > 2 {
		platform.Variant = parts[2]
	}
	return platform, nil
}

func (p Platform) String() string {
	parts := []string{p.OS}
	if p.Architecture != "" {
		parts = append(parts, p.Architecture)
	}
	if p.Variant != "" {
		parts = append(parts, p.Variant)
	}
	return strings.Join(parts, "/")
}

// Matches compares platforms field-wise; an empty architecture or variant on
// either side matches anything.
func (p Platform) Matches(o Platform) bool {
	if p.OS != o.OS {
		return false
	}
	if p.Architecture != "" && o.Architecture != "" && p.Architecture != o.Architecture {
		return false
	}
	if p.Variant != "" && o.Variant != "" && p.Variant != o.Variant {
		return false
	}
	return true
}
