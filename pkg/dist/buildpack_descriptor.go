package dist

import (
	"strings"

	"github.com/buildpacks/lifecycle/api"
)

// BuildpackDescriptor is a decoded buildpack.toml.
type BuildpackDescriptor struct {
	WithAPI    *api.Version `toml:"api"`
	WithInfo   ModuleInfo   `toml:"buildpack"`
	WithStacks []Stack      `toml:"stacks"`
	WithOrder  Order        `toml:"order"`
}

func (b *BuildpackDescriptor) API() *api.Version {
	return b.WithAPI
}

func (b *BuildpackDescriptor) Info() ModuleInfo {
	return b.WithInfo
}

func (b *BuildpackDescriptor) Stacks() []Stack {
	return b.WithStacks
}

func (b *BuildpackDescriptor) Order() Order {
	return b.WithOrder
}

func (b *BuildpackDescriptor) EscapedID() string {
	return strings.ReplaceAll(b.Info().ID, "/", "_")
}
