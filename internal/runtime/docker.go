package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/mediback/mediback/internal/logger"
)

// Docker drives units through the Docker engine API.
type Docker struct {
	cli *client.Client
	log logger.Logger
}

var _ Runtime = (*Docker)(nil)

// NewDocker connects using the standard environment (DOCKER_HOST etc.) and
// negotiates the API version with the daemon.
func NewDocker(log logger.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client init: %w", err)
	}
	return &Docker{cli: cli, log: log}, nil
}

// State reports the unit's current lifecycle state.
func (d *Docker) State(ctx context.Context, name string) (State, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return StateNotFound, nil
		}
		return StateUnknown, fmt.Errorf("inspect %q: %w", name, err)
	}
	switch info.State.Status {
	case "running":
		return StateRunning, nil
	case "exited", "created", "dead":
		return StateExited, nil
	case "paused":
		return StatePaused, nil
	case "restarting":
		return StateRestarting, nil
	}
	return StateUnknown, nil
}

// Stop issues a stop with the given grace timeout. No retries; the caller
// observes the resulting state.
func (d *Docker) Stop(ctx context.Context, name string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	d.log.Info("stopping unit", "unit", name, "timeout", timeout.String())
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrStopFailed, name, err)
	}
	return nil
}

// Start issues a start. No retries.
func (d *Docker) Start(ctx context.Context, name string) error {
	d.log.Info("starting unit", "unit", name)
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrStartFailed, name, err)
	}
	return nil
}

// DataRoot resolves the unit's data directory from its mounts. Preference
// order: a mount whose destination looks like a config directory, then the
// first mount. Media-server images mount their state at /config or under
// .../Application Support.
func (d *Docker) DataRoot(ctx context.Context, name string) (string, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("inspect %q: %w", name, err)
	}
	if len(info.Mounts) == 0 {
		return "", fmt.Errorf("unit %q has no mounts to back up", name)
	}
	for _, m := range info.Mounts {
		dest := strings.ToLower(m.Destination)
		if strings.HasSuffix(dest, "/config") || strings.Contains(dest, "application support") {
			return m.Source, nil
		}
	}
	return info.Mounts[0].Source, nil
}
