package dist

import (
	"github.com/buildpacks/lifecycle/api"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/pkg/errors"
)

// BuildpackLayersLabel names the label carrying ModuleLayers metadata on
// builder and buildpack images.
const BuildpackLayersLabel = "io.buildpacks.buildpack.layers"

// ModuleLayers is the decoded io.buildpacks.buildpack.layers label:
// buildpack id -> version -> layer detail.
type ModuleLayers map[string]map[string]ModuleLayerInfo

type ModuleLayerInfo struct {
	API         *api.Version `json:"api"`
	Stacks      []Stack      `json:"stacks,omitempty"`
	Order       Order        `json:"order,omitempty"`
	LayerDiffID string       `json:"layerDiffID"`
	Homepage    string       `json:"homepage,omitempty"`
	Name        string       `json:"name,omitempty"`
}

// Get looks up layer info by buildpack id and version. An empty version
// matches a sole entry for the id.
func (m ModuleLayers) Get(id, version string) (ModuleLayerInfo, bool) {
	byVersion, ok := m[id]
	if !ok {
		return ModuleLayerInfo{}, false
	}

	if version == "" {
		if len(byVersion) == 1 {
			for _, info := range byVersion {
				return info, true
			}
		}
		return ModuleLayerInfo{}, false
	}

	info, ok := byVersion[version]
	return info, ok
}

func AddToLayersMD(layerMD ModuleLayers, descriptor BuildpackDescriptor, diffID string) {
	info := descriptor.Info()
	if _, ok := layerMD[info.ID]; !ok {
		layerMD[info.ID] = map[string]ModuleLayerInfo{}
	}
	layerMD[info.ID][info.Version] = ModuleLayerInfo{
		API:         descriptor.API(),
		Stacks:      descriptor.Stacks(),
		Order:       descriptor.Order(),
		LayerDiffID: diffID,
		Homepage:    info.Homepage,
		Name:        info.Name,
	}
}

func LayerDiffID(layerTarPath string) (v1.Hash, error) {
	layer, err := tarball.LayerFromFile(layerTarPath)
	if err != nil {
		return v1.Hash{}, errors.Wrap(err, "reading layer tar")
	}

	hash, err := layer.DiffID()
	if err != nil {
		return v1.Hash{}, errors.Wrap(err, "generating diff id")
	}

	return hash, nil
}
