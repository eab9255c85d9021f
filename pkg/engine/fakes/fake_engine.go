// Package fakes provides an in-memory engine for tests.
package fakes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/pkg/engine"
)

type Engine struct {
	ImagesAPI     *Images
	ContainersAPI *Containers
	VolumesAPI    *Volumes
}

func NewEngine() *Engine {
	return &Engine{
		ImagesAPI:     NewImages(),
		ContainersAPI: NewContainers(),
		VolumesAPI:    NewVolumes(),
	}
}

func (e *Engine) Images() engine.ImageAPI         { return e.ImagesAPI }
func (e *Engine) Containers() engine.ContainerAPI { return e.ContainersAPI }
func (e *Engine) Volumes() engine.VolumeAPI       { return e.VolumesAPI }

type PullCall struct {
	Ref      string
	Platform string
	Auth     string
}

type TagCall struct {
	Ref    string
	Target string
}

type Layer struct {
	Name    string
	Content []byte
}

type Images struct {
	mu sync.Mutex

	Local  map[string]engine.Image
	Remote map[string]engine.Image

	// LayersByRef backs ExportLayers for images in Local.
	LayersByRef map[string][]Layer

	PullCalls      []PullCall
	PullErrs       map[string]error
	PushedRefs     []string
	PushErrs       map[string]error
	TagCalls       []TagCall
	LoadedArchives [][]byte
	LoadErr        error
	// LoadFn, when set, observes each loaded archive.
	LoadFn      func(content []byte) error
	RemovedRefs []string
}

func NewImages() *Images {
	return &Images{
		Local:       map[string]engine.Image{},
		Remote:      map[string]engine.Image{},
		LayersByRef: map[string][]Layer{},
		PullErrs:    map[string]error{},
		PushErrs:    map[string]error{},
	}
}

func (a *Images) Inspect(_ context.Context, ref string) (engine.Image, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	img, ok := a.Local[ref]
	if !ok {
		return engine.Image{}, errors.Wrapf(engine.ErrNotFound, "image '%s'", ref)
	}
	return img, nil
}

func (a *Images) Pull(_ context.Context, ref, platform, auth string) (engine.Image, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.PullCalls = append(a.PullCalls, PullCall{Ref: ref, Platform: platform, Auth: auth})

	if err := a.PullErrs[ref]; err != nil {
		return engine.Image{}, err
	}

	img, ok := a.Remote[ref]
	if !ok {
		return engine.Image{}, errors.Wrapf(engine.ErrNotFound, "image '%s'", ref)
	}

	a.Local[ref] = img
	return img, nil
}

func (a *Images) Push(_ context.Context, ref, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.PushErrs[ref]; err != nil {
		return err
	}
	if _, ok := a.Local[ref]; !ok {
		return errors.Wrapf(engine.ErrNotFound, "image '%s'", ref)
	}

	a.PushedRefs = append(a.PushedRefs, ref)
	return nil
}

func (a *Images) Tag(_ context.Context, ref, target string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	img, ok := a.Local[ref]
	if !ok {
		return errors.Wrapf(engine.ErrNotFound, "image '%s'", ref)
	}

	a.TagCalls = append(a.TagCalls, TagCall{Ref: ref, Target: target})
	a.Local[target] = img
	return nil
}

func (a *Images) Load(_ context.Context, archive io.Reader) error {
	content, err := io.ReadAll(archive)
	if err != nil {
		return err
	}

	a.mu.Lock()
	loadErr := a.LoadErr
	loadFn := a.LoadFn
	if loadErr == nil {
		a.LoadedArchives = append(a.LoadedArchives, content)
	}
	a.mu.Unlock()

	if loadErr != nil {
		return loadErr
	}
	if loadFn != nil {
		return loadFn(content)
	}
	return nil
}

func (a *Images) Remove(_ context.Context, ref string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.Local[ref]; !ok {
		return errors.Wrapf(engine.ErrNotFound, "image '%s'", ref)
	}

	delete(a.Local, ref)
	a.RemovedRefs = append(a.RemovedRefs, ref)
	return nil
}

func (a *Images) ExportLayers(_ context.Context, ref string, fn func(name string, r io.Reader) error) error {
	a.mu.Lock()
	layers, ok := a.LayersByRef[ref]
	a.mu.Unlock()

	if !ok {
		return errors.Wrapf(engine.ErrNotFound, "image '%s'", ref)
	}

	for _, layer := range layers {
		if err := fn(layer.Name, bytes.NewReader(layer.Content)); err != nil {
			return err
		}
	}
	return nil
}

type Containers struct {
	mu sync.Mutex

	nextID  int
	Created map[string]engine.ContainerConfig
	// CopiedContent holds the drained Content stream per container.
	CopiedContent map[string][]byte
	StartedIDs    []string
	RemovedIDs    []string

	// ExitCodes, WaitErrs, Outputs and RemoveErrs are keyed by lifecycle
	// phase, derived from the container command's binary name.
	ExitCodes  map[string]int64
	WaitErrs   map[string]error
	Outputs    map[string]string
	RemoveErrs map[string]error
}

func NewContainers() *Containers {
	return &Containers{
		Created:       map[string]engine.ContainerConfig{},
		CopiedContent: map[string][]byte{},
		ExitCodes:     map[string]int64{},
		WaitErrs:      map[string]error{},
		Outputs:       map[string]string{},
		RemoveErrs:    map[string]error{},
	}
}

func (a *Containers) Create(_ context.Context, config engine.ContainerConfig) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	id := fmt.Sprintf("container-%d", a.nextID)

	if config.Content != nil {
		content, err := io.ReadAll(config.Content)
		if err != nil {
			return "", err
		}
		a.CopiedContent[id] = content
		config.Content = nil
	}

	a.Created[id] = config
	return id, nil
}

func (a *Containers) Start(_ context.Context, containerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.Created[containerID]; !ok {
		return errors.Errorf("container '%s' does not exist", containerID)
	}
	a.StartedIDs = append(a.StartedIDs, containerID)
	return nil
}

func (a *Containers) Wait(_ context.Context, containerID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	phase := a.phaseOf(containerID)
	if err := a.WaitErrs[phase]; err != nil {
		return 0, err
	}
	return a.ExitCodes[phase], nil
}

func (a *Containers) Logs(_ context.Context, containerID string, stdout, _ io.Writer) error {
	a.mu.Lock()
	output := a.Outputs[a.phaseOf(containerID)]
	a.mu.Unlock()

	if output != "" {
		_, err := stdout.Write([]byte(output))
		return err
	}
	return nil
}

func (a *Containers) Remove(_ context.Context, containerID string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.Created[containerID]; !ok {
		return errors.Errorf("container '%s' does not exist", containerID)
	}
	if err := a.RemoveErrs[a.phaseOf(containerID)]; err != nil {
		return err
	}
	a.RemovedIDs = append(a.RemovedIDs, containerID)
	return nil
}

// ConfigsFor returns the configs of created containers whose command ran the
// named lifecycle phase, in creation order.
func (a *Containers) ConfigsFor(phase string) []engine.ContainerConfig {
	a.mu.Lock()
	defer a.mu.Unlock()

	var configs []engine.ContainerConfig
	for i := 1; i <= a.nextID; i++ {
		id := fmt.Sprintf("container-%d", i)
		config, ok := a.Created[id]
		if ok && phaseOfConfig(config) == phase {
			configs = append(configs, config)
		}
	}
	return configs
}

func (a *Containers) phaseOf(containerID string) string {
	return phaseOfConfig(a.Created[containerID])
}

func phaseOfConfig(config engine.ContainerConfig) string {
	if len(config.Cmd) == 0 {
		return ""
	}
	return path.Base(config.Cmd[0])
}

type Volumes struct {
	mu sync.Mutex

	RemovedVolumes []string
	RemoveErrs     map[string]error
}

func NewVolumes() *Volumes {
	return &Volumes{RemoveErrs: map[string]error{}}
}

func (a *Volumes) Remove(_ context.Context, name string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.RemoveErrs[name]; err != nil {
		return err
	}
	a.RemovedVolumes = append(a.RemovedVolumes, name)
	return nil
}
