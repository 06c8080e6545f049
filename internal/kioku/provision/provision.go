// Package provision runs the sentence-encoder container that serves
// embeddings over HTTP.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bdobrica/Kioku/common/retry"
)

const (
	labelManagedBy = "kioku.managed-by"
	labelModel     = "kioku.model-id"
	managedByValue = "kioku"

	// containerPort is where text-embeddings-inference listens.
	containerPort = "80/tcp"
	dataDir       = "/data"

	stopTimeout          = 10 * time.Second
	defaultHealthTimeout = 5 * time.Minute
)

// dockerAPI is the subset of the Docker client used here.
type dockerAPI interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Prober reports whether the encoder answers requests.
type Prober interface {
	Health(ctx context.Context) error
}

// Spec describes the encoder container.
type Spec struct {
	Image   string
	Name    string
	ModelID string
	// HostPort is published on localhost and mapped to the server port.
	HostPort int
	// DataVolume is a named volume caching downloaded model weights.
	DataVolume string
	// HealthTimeout bounds the wait for the model to load. Default: 5m.
	HealthTimeout time.Duration
}

// Status reports what EnsureEncoder did.
type Status struct {
	ContainerID string
	Pulled      bool
	Created     bool
	Started     bool
}

// Provisioner manages the encoder container.
type Provisioner struct {
	api         dockerAPI
	logger      *slog.Logger
	healthRetry retry.Config
}

// New connects to the Docker daemon named by DOCKER_HOST, or the default
// socket.
func New(logger *slog.Logger) (*Provisioner, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newProvisioner(cli, logger), nil
}

func newProvisioner(api dockerAPI, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		api:    api,
		logger: logger,
		healthRetry: retry.Config{
			MaxAttempts:  1 << 20,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     3 * time.Second,
		},
	}
}

func (s Spec) validate() error {
	switch {
	case s.Image == "":
		return errors.New("provision: image is required")
	case s.Name == "":
		return errors.New("provision: container name is required")
	case s.ModelID == "":
		return errors.New("provision: model id is required")
	case s.HostPort <= 0 || s.HostPort > 65535:
		return fmt.Errorf("provision: invalid host port %d", s.HostPort)
	}
	return nil
}

// EnsureEncoder makes sure the encoder container exists and runs, then
// waits until probe reports healthy. A nil probe skips the wait.
func (p *Provisioner) EnsureEncoder(ctx context.Context, spec Spec, probe Prober) (Status, error) {
	if err := spec.validate(); err != nil {
		return Status{}, err
	}
	log := p.logger.With("container", spec.Name, "image", spec.Image)

	var st Status
	inspect, err := p.api.ContainerInspect(ctx, spec.Name)
	switch {
	case err == nil:
		st.ContainerID = inspect.ID
		if inspect.State != nil && inspect.State.Running {
			log.Info("encoder container already running", "id", shortID(inspect.ID))
			return st, p.waitHealthy(ctx, spec, probe)
		}
	case dockerclient.IsErrNotFound(err):
		pulled, err := p.ensureImage(ctx, spec.Image)
		if err != nil {
			return st, err
		}
		st.Pulled = pulled
		id, err := p.create(ctx, spec)
		if err != nil {
			return st, err
		}
		st.ContainerID, st.Created = id, true
		log.Info("encoder container created", "id", shortID(id), "model", spec.ModelID)
	default:
		return st, fmt.Errorf("inspect container %q: %w", spec.Name, err)
	}

	if err := p.api.ContainerStart(ctx, st.ContainerID, container.StartOptions{}); err != nil {
		return st, fmt.Errorf("start container %q: %w", spec.Name, err)
	}
	st.Started = true
	log.Info("encoder container started", "id", shortID(st.ContainerID), "port", spec.HostPort)

	return st, p.waitHealthy(ctx, spec, probe)
}

func (p *Provisioner) ensureImage(ctx context.Context, ref string) (bool, error) {
	_, _, err := p.api.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return false, nil
	}
	if !dockerclient.IsErrNotFound(err) {
		return false, fmt.Errorf("inspect image %q: %w", ref, err)
	}

	p.logger.Info("pulling encoder image", "image", ref)
	rc, err := p.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return false, fmt.Errorf("pull image %q: %w", ref, err)
	}
	defer rc.Close()
	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return false, fmt.Errorf("pull image %q: %w", ref, err)
	}
	return true, nil
}

func (p *Provisioner) create(ctx context.Context, spec Spec) (string, error) {
	port := nat.Port(containerPort)
	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          []string{"--model-id", spec.ModelID},
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels: map[string]string{
			labelManagedBy: managedByValue,
			labelModel:     spec.ModelID,
		},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.HostPort)}},
		},
	}
	if spec.DataVolume != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: spec.DataVolume,
			Target: dataDir,
		}}
	}

	resp, err := p.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %q: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (p *Provisioner) waitHealthy(ctx context.Context, spec Spec, probe Prober) error {
	if probe == nil {
		return nil
	}
	timeout := spec.HealthTimeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := retry.Do(ctx, p.healthRetry, func() error { return probe.Health(ctx) })
	if err != nil {
		return fmt.Errorf("encoder %q not healthy after %s: %w", spec.Name, time.Since(started).Round(time.Second), err)
	}
	p.logger.Info("encoder healthy", "container", spec.Name, "waited", time.Since(started).Round(time.Millisecond))
	return nil
}

// StopEncoder stops the named container, and removes it when remove is set.
// A missing container is not an error. The model volume is kept.
func (p *Provisioner) StopEncoder(ctx context.Context, name string, remove bool) error {
	timeout := int(stopTimeout.Seconds())
	err := p.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %q: %w", name, err)
	}
	p.logger.Info("encoder container stopped", "container", name)
	if !remove {
		return nil
	}
	err = p.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: false})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("remove container %q: %w", name, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
