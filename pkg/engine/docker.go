package engine

import (
	"archive/tar"
	"context"
	"encoding/json"
	"io"
	"os"
	"path"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/internal/style"
	"github.com/kilnbuild/kiln/pkg/archive"
	"github.com/kilnbuild/kiln/pkg/logging"
)

// Docker adapts a Docker-compatible daemon to the engine contract.
type Docker struct {
	docker client.CommonAPIClient
	logger logging.Logger
}

type DockerOption func(*Docker)

// WithDockerAPI overrides the daemon client, primarily for tests.
func WithDockerAPI(api client.CommonAPIClient) DockerOption {
	return func(d *Docker) {
		d.docker = api
	}
}

// NewDocker returns an engine client for the daemon configured in the
// environment (DOCKER_HOST et al).
func NewDocker(logger logging.Logger, ops ...DockerOption) (*Docker, error) {
	d := &Docker{logger: logger}
	for _, op := range ops {
		op(d)
	}

	if d.docker == nil {
		var err error
		d.docker, err = client.NewClientWithOpts(client.FromEnv, client.WithVersion("1.38"))
		if err != nil {
			return nil, errors.Wrap(err, "creating docker client")
		}
	}

	return d, nil
}

func (d *Docker) Images() ImageAPI         { return &dockerImages{d} }
func (d *Docker) Containers() ContainerAPI { return &dockerContainers{d} }
func (d *Docker) Volumes() VolumeAPI       { return &dockerVolumes{d} }

func (d *Docker) showProgress(rc io.Reader) error {
	writer := logging.GetWriterForLevel(d.logger, logging.InfoLevel)
	termFd, isTerm := logging.IsTerminal(writer)
	return jsonmessage.DisplayJSONMessagesStream(rc, &colorizedWriter{writer}, termFd, isTerm, nil)
}

type dockerImages struct {
	d *Docker
}

func (a *dockerImages) Inspect(ctx context.Context, ref string) (Image, error) {
	raw, _, err := a.d.docker.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Image{}, errors.Wrapf(ErrNotFound, "image %s", style.Symbol(ref))
		}
		return Image{}, errors.Wrapf(err, "inspecting image %s", style.Symbol(ref))
	}
	return imageFromInspect(raw), nil
}

func (a *dockerImages) Pull(ctx context.Context, ref, platform, auth string) (Image, error) {
	rc, err := a.d.docker.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: auth, Platform: platform})
	if err != nil {
		return Image{}, errors.Wrapf(err, "pulling image %s", style.Symbol(ref))
	}
	defer rc.Close()

	if err := a.d.showProgress(rc); err != nil {
		return Image{}, errors.Wrapf(err, "pulling image %s", style.Symbol(ref))
	}

	return a.Inspect(ctx, ref)
}

func (a *dockerImages) Push(ctx context.Context, ref, auth string) error {
	if auth == "" {
		auth = "{}"
	}

	rc, err := a.d.docker.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return errors.Wrapf(err, "pushing image %s", style.Symbol(ref))
	}
	defer rc.Close()

	if err := a.d.showProgress(rc); err != nil {
		return errors.Wrapf(err, "pushing image %s", style.Symbol(ref))
	}

	return nil
}

func (a *dockerImages) Tag(ctx context.Context, ref, target string) error {
	if err := a.d.docker.ImageTag(ctx, ref, target); err != nil {
		return errors.Wrapf(err, "tagging image %s as %s", style.Symbol(ref), style.Symbol(target))
	}
	return nil
}

func (a *dockerImages) Load(ctx context.Context, archiveReader io.Reader) error {
	resp, err := a.d.docker.ImageLoad(ctx, archiveReader, false)
	if err != nil {
		return errors.Wrap(err, "loading image")
	}
	defer resp.Body.Close()

	if resp.JSON {
		if err := a.d.showProgress(resp.Body); err != nil {
			return errors.Wrap(err, "loading image")
		}
		return nil
	}

	_, err = io.Copy(logging.GetWriterForLevel(a.d.logger, logging.DebugLevel), resp.Body)
	return err
}

func (a *dockerImages) Remove(ctx context.Context, ref string, force bool) error {
	_, err := a.d.docker.ImageRemove(ctx, ref, image.RemoveOptions{Force: force, PruneChildren: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return errors.Wrapf(ErrNotFound, "image %s", style.Symbol(ref))
		}
		return errors.Wrapf(err, "removing image %s", style.Symbol(ref))
	}
	return nil
}

// ExportLayers saves the image and replays its layer blobs in the stacking
// order recorded by the save manifest. The save stream is spooled to a temp
// file because the manifest trails the layers in the stream.
func (a *dockerImages) ExportLayers(ctx context.Context, ref string, fn func(name string, r io.Reader) error) error {
	rc, err := a.d.docker.ImageSave(ctx, []string{ref})
	if err != nil {
		return errors.Wrapf(err, "saving image %s", style.Symbol(ref))
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "kiln.image-export.*.tar")
	if err != nil {
		return errors.Wrap(err, "creating temp file for image export")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, rc); err != nil {
		return errors.Wrapf(err, "spooling image %s", style.Symbol(ref))
	}

	layerNames, err := savedLayerOrder(tmp)
	if err != nil {
		return errors.Wrapf(err, "reading save manifest for image %s", style.Symbol(ref))
	}

	for _, layerName := range layerNames {
		layer, err := seekTarEntry(tmp, layerName)
		if err != nil {
			return errors.Wrapf(err, "exporting layers of image %s", style.Symbol(ref))
		}
		if err := fn(layerName, layer); err != nil {
			return err
		}
	}

	return nil
}

func savedLayerOrder(tarFile *os.File) ([]string, error) {
	if _, err := tarFile.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	_, buf, err := archive.ReadTarEntry(tarFile, "manifest.json")
	if err != nil {
		return nil, err
	}

	var manifest []struct {
		Layers []string `json:"Layers"`
	}
	if err := json.Unmarshal(buf, &manifest); err != nil {
		return nil, errors.Wrap(err, "parsing manifest.json")
	}
	if len(manifest) != 1 {
		return nil, errors.Errorf("expected a single image in save archive, got %d", len(manifest))
	}

	return manifest[0].Layers, nil
}

func seekTarEntry(tarFile *os.File, name string) (io.Reader, error) {
	if _, err := tarFile.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	tr := tar.NewReader(tarFile)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, errors.Errorf("layer %s missing from save archive", style.Symbol(name))
		}
		if err != nil {
			return nil, err
		}
		if path.Clean(header.Name) == path.Clean(name) {
			return tr, nil
		}
	}
}

func imageFromInspect(raw types.ImageInspect) Image {
	img := Image{
		ID:           raw.ID,
		OS:           raw.Os,
		Architecture: raw.Architecture,
		Variant:      raw.Variant,
		DiffIDs:      raw.RootFS.Layers,
	}
	if raw.Config != nil {
		img.Env = raw.Config.Env
		img.Labels = raw.Config.Labels
		img.User = raw.Config.User
		img.WorkingDir = raw.Config.WorkingDir
	}
	return img
}

type dockerContainers struct {
	d *Docker
}

func (a *dockerContainers) Create(ctx context.Context, cfg ContainerConfig) (string, error) {
	ctr, err := a.d.docker.ContainerCreate(ctx,
		&container.Config{
			Image:  cfg.Image,
			Cmd:    strslice.StrSlice(cfg.Cmd),
			Env:    cfg.Env,
			User:   cfg.User,
			Labels: cfg.Labels,
		},
		&container.HostConfig{
			Binds:       cfg.Binds,
			NetworkMode: container.NetworkMode(cfg.NetworkMode),
		},
		nil, nil, "")
	if err != nil {
		return "", errors.Wrap(err, "creating container")
	}

	if cfg.Content != nil {
		if err := a.d.docker.CopyToContainer(ctx, ctr.ID, cfg.ContentPath, cfg.Content, types.CopyToContainerOptions{}); err != nil {
			_ = a.Remove(ctx, ctr.ID, true)
			return "", errors.Wrap(err, "copying content to container")
		}
	}

	return ctr.ID, nil
}

func (a *dockerContainers) Start(ctx context.Context, containerID string) error {
	if err := a.d.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return errors.Wrap(err, "container start")
	}
	return nil
}

func (a *dockerContainers) Wait(ctx context.Context, containerID string) (int64, error) {
	bodyChan, errChan := a.d.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case body := <-bodyChan:
		if body.Error != nil {
			return body.StatusCode, errors.New(body.Error.Message)
		}
		return body.StatusCode, nil
	case err := <-errChan:
		return 0, err
	}
}

func (a *dockerContainers) Logs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	logs, err := a.d.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return errors.Wrap(err, "container logs")
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(stdout, stderr, logs)
	return err
}

func (a *dockerContainers) Remove(ctx context.Context, containerID string, force bool) error {
	if err := a.d.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		return errors.Wrap(err, "removing container")
	}
	return nil
}

type dockerVolumes struct {
	d *Docker
}

func (a *dockerVolumes) Remove(ctx context.Context, name string, force bool) error {
	if err := a.d.docker.VolumeRemove(ctx, name, force); err != nil {
		if errdefs.IsNotFound(err) {
			return errors.Wrapf(ErrNotFound, "volume %s", style.Symbol(name))
		}
		return errors.Wrapf(err, "removing volume %s", style.Symbol(name))
	}
	return nil
}

// colorizedWriter highlights the interesting bits of daemon progress output.
type colorizedWriter struct {
	writer io.Writer
}

type colorFunc = func(string, ...interface{}) string

func (w *colorizedWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	colorizers := map[string]colorFunc{
		"Waiting":           style.Waiting,
		"Pulling fs layer":  style.Waiting,
		"Downloading":       style.Working,
		"Download complete": style.Complete,
		"Extracting":        style.Working,
		"Pull complete":     style.Complete,
		"Pushing":           style.Working,
		"Pushed":            style.Complete,
		"Already exists":    style.Complete,
		"=":                 style.ProgressBar,
		">":                 style.ProgressBar,
	}
	for pattern, colorize := range colorizers {
		msg = strings.ReplaceAll(msg, pattern, colorize(pattern))
	}
	return w.writer.Write([]byte(msg))
}
