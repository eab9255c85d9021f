// Package config reads and writes the kiln config file.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"
)

const (
	envKilnHome = "KILN_HOME"
	dirName     = ".kiln"
	fileName    = "config.toml"
)

// Config is the persisted kiln configuration.
type Config struct {
	DefaultBuilder string     `toml:"default-builder-image,omitempty"`
	RunImages      []RunImage `toml:"run-images,omitempty"`
}

// RunImage carries user-configured mirrors for a run image.
type RunImage struct {
	Image   string   `toml:"image"`
	Mirrors []string `toml:"mirrors"`
}

// KilnHome is the directory kiln state lives under: KILN_HOME when set,
// otherwise ~/.kiln.
func KilnHome() (string, error) {
	if home := os.Getenv(envKilnHome); home != "" {
		return home, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "getting user home")
	}
	return filepath.Join(userHome, dirName), nil
}

// DefaultConfigPath is the config file location under the kiln home.
func DefaultConfigPath() (string, error) {
	home, err := KilnHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fileName), nil
}

// Read loads the config at path. A missing file is an empty config.
func Read(path string) (Config, error) {
	cfg := Config{}
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "reading config file at path %s", path)
	}
	return cfg, nil
}

// Write saves cfg at path, creating the directory when needed.
func Write(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()

	return toml.NewEncoder(w).Encode(cfg)
}

// ImageByRegistry picks the first of images whose registry matches registry,
// falling back to the first image.
func ImageByRegistry(registry string, images []string) (string, error) {
	if len(images) == 0 {
		return "", errors.New("no images provided to search")
	}

	for _, img := range images {
		reg, err := Registry(img)
		if err != nil {
			continue
		}
		if reg == registry {
			return img, nil
		}
	}
	return images[0], nil
}

// Registry parses the registry host out of an image name.
func Registry(imageName string) (string, error) {
	ref, err := name.ParseReference(imageName, name.WeakValidation)
	if err != nil {
		return "", err
	}
	return ref.Context().RegistryStr(), nil
}
