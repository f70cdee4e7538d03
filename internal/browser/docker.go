package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/google/uuid"
)

// DockerConfig configures the containerized Chrome backend.
type DockerConfig struct {
	// Image is the headless Chrome image, e.g. browserless/chrome:latest.
	Image string

	ViewportWidth  int
	ViewportHeight int

	Logger *slog.Logger
}

// DockerLauncher runs one Chrome container per Launch call and connects
// to it over the DevTools websocket. Used where launching Chrome on the
// service host is not an option.
type DockerLauncher struct {
	cfg DockerConfig
	cli *client.Client
}

// NewDockerLauncher creates the launcher and its Docker client.
func NewDockerLauncher(cfg DockerConfig) (*DockerLauncher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("browser: docker client: %w", err)
	}
	return &DockerLauncher{cfg: cfg, cli: cli}, nil
}

// EnsureImage pulls the Chrome image if it is not present locally.
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("browser: list images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.cfg.Image {
				return nil
			}
		}
	}

	reader, err := d.cli.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("browser: pull %s: %w", d.cfg.Image, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Launch starts a Chrome container and connects rod to it. The returned
// browser owns the container; closing it stops and removes it.
func (d *DockerLauncher) Launch(ctx context.Context) (Browser, error) {
	name := "linkpilot-" + uuid.NewString()[:8]

	containerCfg := &container.Config{
		Image: d.cfg.Image,
		Labels: map[string]string{
			"managed-by": "linkpilot",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			fmt.Sprintf("DEFAULT_LAUNCH_ARGS=[\"--window-size=%d,%d\"]",
				d.cfg.ViewportWidth, d.cfg.ViewportHeight),
		},
		ExposedPorts: nat.PortSet{"3000/tcp": struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("%w: create container: %v", ErrLaunch, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: start container: %v", ErrLaunch, err)
	}

	inspect, err := d.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: inspect container: %v", ErrLaunch, err)
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: no published port on container %s", ErrLaunch, resp.ID[:12])
	}
	hostPort := bindings[0].HostPort

	if err := d.waitReady(ctx, hostPort); err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	wsURL, err := launcher.ResolveURL("localhost:" + hostPort)
	if err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: resolve devtools url: %v", ErrLaunch, err)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		d.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: connect: %v", ErrLaunch, err)
	}

	d.cfg.Logger.Info("browser: launched chrome container",
		"container", resp.ID[:12], "port", hostPort)

	containerID := resp.ID
	return &rodBrowser{
		browser: b,
		cleanup: func() { d.removeContainer(containerID) },
		logger:  d.cfg.Logger,
	}, nil
}

// Close releases the Docker client.
func (d *DockerLauncher) Close() error {
	return d.cli.Close()
}

func (d *DockerLauncher) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 10
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		d.cfg.Logger.Warn("browser: stop container", "container", id[:12], "error", err)
	}
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		d.cfg.Logger.Warn("browser: remove container", "container", id[:12], "error", err)
	}
}

// waitReady polls the DevTools version endpoint until the container
// accepts connections.
func (d *DockerLauncher) waitReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)

	for i := 0; i < 20; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("chrome container not ready on port %s", port)
}
