// Package builder decodes the build-time contract baked into builder images
// and assembles the ephemeral builder used for a single build.
package builder

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/dist"
	"github.com/kilnbuild/kiln/pkg/engine"
)

const (
	MetadataLabel = "io.buildpacks.builder.metadata"
	OrderLabel    = "io.buildpacks.buildpack.order"
	StackIDLabel  = "io.buildpacks.stack.id"

	EnvUID = "CNB_USER_ID"
	EnvGID = "CNB_GROUP_ID"
)

// Metadata is decoded from a builder image's metadata label.
type Metadata struct {
	Description string             `json:"description"`
	Buildpacks  []dist.ModuleInfo  `json:"buildpacks"`
	Stack       StackMetadata      `json:"stack"`
	RunImages   []RunImageMetadata `json:"images"`
	Lifecycle   LifecycleMetadata  `json:"lifecycle"`
	CreatedBy   CreatorMetadata    `json:"createdBy"`
}

type CreatorMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type LifecycleMetadata struct {
	Version string `json:"version"`
	// Deprecated: use APIs instead
	API  LifecycleAPI  `json:"api"`
	APIs LifecycleAPIs `json:"apis"`
}

type LifecycleAPI struct {
	BuildpackVersion string `json:"buildpack"`
	PlatformVersion  string `json:"platform"`
}

type LifecycleAPIs struct {
	Buildpack APIVersions `json:"buildpack"`
	Platform  APIVersions `json:"platform"`
}

type APIVersions struct {
	Deprecated []string `json:"deprecated"`
	Supported  []string `json:"supported"`
}

type StackMetadata struct {
	RunImage RunImageMetadata `json:"runImage" toml:"run-image"`
}

type RunImageMetadata struct {
	Image   string   `json:"image" toml:"image"`
	Mirrors []string `json:"mirrors" toml:"mirrors"`
}

// MetadataError is a fatal defect in a builder image's build-time contract: a
// missing or malformed label, or a bad owner env var.
type MetadataError struct {
	Label  string
	Detail string
	Err    error
}

func (e MetadataError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Detail, style.Symbol(e.Label))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e MetadataError) Unwrap() error {
	return e.Err
}

// DecodeMetadata reads the builder metadata label. The label is required;
// builders are never usable without it.
func DecodeMetadata(img engine.Image) (Metadata, error) {
	var md Metadata
	if err := decodeLabel(img, MetadataLabel, &md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// DecodeLayersMetadata reads the buildpack layers label describing the
// buildpack content already present in the builder.
func DecodeLayersMetadata(img engine.Image) (dist.ModuleLayers, error) {
	var layers dist.ModuleLayers
	if err := decodeLabel(img, dist.BuildpackLayersLabel, &layers); err != nil {
		return nil, err
	}
	return layers, nil
}

// StackID returns the image's stack id, empty when the label is absent. Stack
// compatibility is only enforced when both sides declare one.
func StackID(img engine.Image) string {
	value, _ := img.Label(StackIDLabel)
	return value
}

func decodeLabel(img engine.Image, label string, target interface{}) error {
	value, ok := img.Label(label)
	if !ok {
		return MetadataError{Label: label, Detail: "missing required label"}
	}
	if err := json.Unmarshal([]byte(value), target); err != nil {
		return MetadataError{Label: label, Detail: "parsing label", Err: err}
	}
	return nil
}

// Owner is the user identity the build runs as, read from the builder image's
// environment and applied to generated layers and phase containers.
type Owner struct {
	UID int
	GID int
}

func (o Owner) String() string {
	return fmt.Sprintf("%d:%d", o.UID, o.GID)
}

// OwnerFromEnv extracts the build owner from the builder image's CNB_USER_ID
// and CNB_GROUP_ID env vars. Both are required and must be numeric.
func OwnerFromEnv(img engine.Image) (Owner, error) {
	uid, err := ownerVar(img, EnvUID)
	if err != nil {
		return Owner{}, err
	}
	gid, err := ownerVar(img, EnvGID)
	if err != nil {
		return Owner{}, err
	}
	return Owner{UID: uid, GID: gid}, nil
}

func ownerVar(img engine.Image, name string) (int, error) {
	value, ok := img.EnvVar(name)
	if !ok {
		return 0, MetadataError{Label: name, Detail: "missing required env var"}
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, MetadataError{Label: name, Detail: "parsing env var", Err: err}
	}
	return parsed, nil
}
