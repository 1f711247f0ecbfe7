package sandbox

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// rootfulPodmanSocket is where a system-wide podman service listens.
const rootfulPodmanSocket = "/run/podman/podman.sock"

// PodmanHost resolves the API endpoint of the podman service. An explicit
// host wins; otherwise the rootless socket under XDG_RUNTIME_DIR is used
// when it exists, falling back to the rootful one.
func PodmanHost(host string) string {
	if host != "" {
		return host
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		sock := filepath.Join(dir, "podman", "podman.sock")
		if _, err := os.Stat(sock); err == nil {
			return "unix://" + sock
		}
	}
	return "unix://" + rootfulPodmanSocket
}

// NewPodmanRuntime talks to podman through its Docker-compatible API, so
// the whole lifecycle is shared with DockerRuntime.
func NewPodmanRuntime(logger *zap.Logger, host string) (*DockerRuntime, error) {
	return NewDockerRuntime(logger.With(zap.String("backend", "podman")), PodmanHost(host))
}
