package dist

// AssumedBuildpackAPIVersion is applied to buildpacks whose descriptor
// predates the api field.
const AssumedBuildpackAPIVersion = "0.1"

// BuildpacksDir is where buildpacks live inside a builder image.
const BuildpacksDir = "/cnb/buildpacks"

type ModuleInfo struct {
	ID       string `toml:"id" json:"id"`
	Name     string `toml:"name,omitempty" json:"name,omitempty"`
	Version  string `toml:"version" json:"version,omitempty"`
	Homepage string `toml:"homepage,omitempty" json:"homepage,omitempty"`
}

func (b ModuleInfo) FullName() string {
	if b.Version != "" {
		return b.ID + "@" + b.Version
	}
	return b.ID
}

// Satisfy stringer
func (b ModuleInfo) String() string { return b.FullName() }

// Match compares two buildpacks by ID and Version
func (b ModuleInfo) Match(o ModuleInfo) bool {
	return b.ID == o.ID && b.Version == o.Version
}

type Stack struct {
	ID     string   `toml:"id" json:"id"`
	Mixins []string `toml:"mixins,omitempty" json:"mixins,omitempty"`
}

type Order []OrderEntry

type OrderEntry struct {
	Group []ModuleRef `toml:"group" json:"group"`
}

type ModuleRef struct {
	ModuleInfo
	Optional bool `toml:"optional,omitempty" json:"optional,omitempty"`
}
