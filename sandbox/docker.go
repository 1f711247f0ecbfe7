package sandbox

import (
	"context"
	"fmt"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// DockerAPI is the subset of the engine client used by DockerRuntime.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerUpdate(ctx context.Context, containerID string, updateConfig container.UpdateConfig) (container.UpdateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// DockerRuntime implements Runtime against the Docker engine API. It holds
// only the client, which is safe for concurrent use.
type DockerRuntime struct {
	logger *zap.Logger
	api    DockerAPI
}

// NewDockerRuntime connects to the engine at host, or to the environment's
// default (DOCKER_HOST or the local socket) when host is empty.
func NewDockerRuntime(logger *zap.Logger, host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	logger.Info("connected to container engine", zap.String("host", cli.DaemonHost()))
	return NewDockerRuntimeWithAPI(logger, cli), nil
}

// NewDockerRuntimeWithAPI wraps an existing engine client.
func NewDockerRuntimeWithAPI(logger *zap.Logger, api DockerAPI) *DockerRuntime {
	return &DockerRuntime{logger: logger, api: api}
}

// Create creates a stopped, network-disabled container named name.
func (d *DockerRuntime) Create(ctx context.Context, name string, spec ContainerSpec) error {
	_, err := d.api.ContainerCreate(ctx,
		&container.Config{
			Image:           spec.Image,
			Cmd:             spec.Command,
			WorkingDir:      spec.WorkingDir,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			NetworkMode: "none",
			AutoRemove:  spec.AutoRemove,
		},
		nil, nil, name)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ApplyLimits sets the memory and memory+swap ceilings.
func (d *DockerRuntime) ApplyLimits(ctx context.Context, name string, limits ResourceLimits) error {
	_, err := d.api.ContainerUpdate(ctx, name, container.UpdateConfig{
		Resources: container.Resources{
			Memory:     limits.Memory,
			MemorySwap: limits.MemorySwap,
		},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Upload streams a tar archive (optionally gzip-compressed) to dir; the
// engine expands it in place.
func (d *DockerRuntime) Upload(ctx context.Context, name, dir string, archive io.Reader) error {
	err := d.api.CopyToContainer(ctx, name, dir, archive, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Start starts the container's entry point.
func (d *DockerRuntime) Start(ctx context.Context, name string) error {
	if err := d.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return classify(err)
	}
	return nil
}

// Kill sends SIGKILL. A stopped container reports ErrNotRunning, a removed
// one ErrNotFound.
func (d *DockerRuntime) Kill(ctx context.Context, name string) error {
	if err := d.api.ContainerKill(ctx, name, "SIGKILL"); err != nil {
		if cerrdefs.IsConflict(err) {
			return fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		return classify(err)
	}
	return nil
}

// Logs follows the container's stdout and stderr from the beginning.
func (d *DockerRuntime) Logs(ctx context.Context, name string) (LogStream, error) {
	rc, err := d.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "all",
	})
	if err != nil {
		return nil, classify(err)
	}
	return newFrameStream(rc), nil
}

// Inspect reports the container's state and exit code.
func (d *DockerRuntime) Inspect(ctx context.Context, name string) (State, error) {
	resp, err := d.api.ContainerInspect(ctx, name)
	if err != nil {
		return State{}, classify(err)
	}
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return State{}, nil
	}

	state := State{
		Running:   resp.State.Running,
		OOMKilled: resp.State.OOMKilled,
	}
	if !resp.State.Running {
		exitCode := resp.State.ExitCode
		state.ExitCode = &exitCode
	}
	return state, nil
}

// Remove force-removes the container and its anonymous volumes.
func (d *DockerRuntime) Remove(ctx context.Context, name string) error {
	err := d.api.ContainerRemove(ctx, name, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		if cerrdefs.IsConflict(err) {
			// Auto-removal is already in progress.
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return classify(err)
	}
	return nil
}

// EnsureImage pulls ref so the first request does not fail on a missing
// image.
func (d *DockerRuntime) EnsureImage(ctx context.Context, ref string) error {
	rc, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	d.logger.Info("pulled sandbox image", zap.String("image", ref))
	return nil
}

// Close releases the engine client.
func (d *DockerRuntime) Close() error {
	return d.api.Close()
}

func classify(err error) error {
	switch {
	case cerrdefs.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case cerrdefs.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrNameConflict, err)
	default:
		return err
	}
}
