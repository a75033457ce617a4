package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// Docker implements Runtime on top of the Docker Engine API.
type Docker struct {
	client *client.Client
	host   string
	pull   bool
}

// DockerOption configures a Docker runtime.
type DockerOption func(*Docker)

// WithHost connects to an explicit daemon address instead of DOCKER_HOST.
func WithHost(host string) DockerOption {
	return func(d *Docker) {
		d.host = host
	}
}

// WithPull controls whether Run pulls images that are missing locally.
func WithPull(pull bool) DockerOption {
	return func(d *Docker) {
		d.pull = pull
	}
}

// NewDocker connects to the Docker daemon.
// Unlike a best-effort client, an unreachable daemon is an error.
func NewDocker(opts ...DockerOption) (*Docker, error) {
	d := &Docker{pull: true}
	for _, opt := range opts {
		opt(d)
	}

	var (
		cli *client.Client
		err error
	)
	if d.host != "" {
		cli, err = client.NewClientWithOpts(client.WithHost(d.host), client.WithAPIVersionNegotiation())
		if err == nil {
			err = ping(cli)
		}
	} else {
		cli, err = createDockerClient()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	d.client = cli
	return d, nil
}

// createDockerClient creates a Docker client, trying multiple socket locations
// for compatibility with Docker Desktop on macOS.
func createDockerClient() (*client.Client, error) {
	// First try with environment settings (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		if err := ping(cli); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	socketPaths := []string{
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                               // Linux default
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",     // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}
		if err := ping(cli); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

func ping(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

// Ping checks that the daemon answers.
func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// List returns containers carrying all of the given labels.
func (d *Docker) List(ctx context.Context, labels map[string]string) ([]Summary, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: labelFilters(labels),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]Summary, 0, len(containers))
	for _, c := range containers {
		out = append(out, Summary{
			ID:      c.ID,
			Image:   c.Image,
			Labels:  c.Labels,
			Created: c.Created,
			State:   c.State,
		})
	}
	return out, nil
}

// Run creates and starts a detached container.
func (d *Docker) Run(ctx context.Context, cfg RunConfig) (string, error) {
	if d.pull {
		if err := d.ensureImage(ctx, cfg.Image); err != nil {
			return "", fmt.Errorf("failed to pull image: %w", err)
		}
	}

	containerCfg := &container.Config{
		Image:  cfg.Image,
		Cmd:    cfg.Cmd,
		Labels: cfg.Labels,
	}
	hostCfg := &container.HostConfig{
		AutoRemove: cfg.AutoRemove,
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, nil
}

// Inspect reloads a container's state.
func (d *Docker) Inspect(ctx context.Context, id string) (*State, error) {
	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "container "+id)
	}

	st := &State{ID: inspect.ID}
	if inspect.State != nil {
		st.Running = inspect.State.Running
		st.Status = inspect.State.Status
	}
	return st, nil
}

// ExecCreate prepares cmd inside the container with stdout and stderr attached.
func (d *Docker) ExecCreate(ctx context.Context, id string, cmd []string) (string, error) {
	resp, err := d.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", wrapNotFound(err, "container "+id))
	}
	return resp.ID, nil
}

// ExecStart attaches to the exec and demultiplexes its output until it exits.
func (d *Docker) ExecStart(ctx context.Context, execID string, stdout, stderr io.Writer) error {
	attachResp, err := d.client.ContainerExecAttach(ctx, execID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, attachResp.Reader); err != nil {
		return fmt.Errorf("failed to read output: %w", err)
	}
	return nil
}

// ExecInspect reports whether the exec is still running and its exit code.
func (d *Docker) ExecInspect(ctx context.Context, execID string) (*ExecState, error) {
	inspectResp, err := d.client.ContainerExecInspect(ctx, execID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return execState(inspectResp), nil
}

// PutArchive uploads a tar stream and extracts it into dir.
func (d *Docker) PutArchive(ctx context.Context, id, dir string, content io.Reader) error {
	err := d.client.CopyToContainer(ctx, id, dir, content, container.CopyToContainerOptions{})
	if err != nil {
		return wrapNotFound(err, dir)
	}
	return nil
}

// GetArchive downloads path from the container as a tar stream.
func (d *Docker) GetArchive(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := d.client.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, wrapNotFound(err, path)
	}
	return rc, nil
}

// Remove deletes a container.
func (d *Docker) Remove(ctx context.Context, id string, force bool) error {
	err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if err != nil {
		return wrapNotFound(err, "container "+id)
	}
	return nil
}

// Close closes the Docker client.
func (d *Docker) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// ensureImage pulls an image if not present locally.
func (d *Docker) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := d.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil // Image exists
	}

	reader, err := d.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Consume the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// labelFilters builds a label-equality filter set in a stable key order.
func labelFilters(labels map[string]string) filters.Args {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := filters.NewArgs()
	for _, k := range keys {
		args.Add("label", k+"="+labels[k])
	}
	return args
}

// execState maps an inspect response onto ExecState. A still-running exec
// has not reported an exit code yet.
func execState(inspect container.ExecInspect) *ExecState {
	st := &ExecState{Running: inspect.Running}
	if !inspect.Running {
		code := inspect.ExitCode
		st.ExitCode = &code
	}
	return st
}

func wrapNotFound(err error, what string) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s: %w: %v", what, ErrNotFound, err)
	}
	return err
}
