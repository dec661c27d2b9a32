package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
)

// Engine is the subset of the Docker daemon the provider drives.
type Engine interface {
	BuildImage(ctx context.Context, dir, tag string, onOutput func(string)) error
	RunContainer(ctx context.Context, name, image string, port int) (string, error)
	RemoveContainer(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, tag string) error
}

// DaemonEngine wraps the Docker SDK client.
type DaemonEngine struct {
	inner *client.Client
}

var _ Engine = (*DaemonEngine)(nil)

// NewEngine creates a Docker client using environment defaults.
func NewEngine(host string) (*DaemonEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DaemonEngine{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (e *DaemonEngine) Ping(ctx context.Context) error {
	if e == nil || e.inner == nil {
		return errors.New("docker client not initialized")
	}
	ping, err := e.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return errors.New("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (e *DaemonEngine) Close() error {
	if e.inner == nil {
		return nil
	}
	return e.inner.Close()
}

// BuildImage builds dir into tag, streaming rendered output lines to onOutput.
func (e *DaemonEngine) BuildImage(ctx context.Context, dir, tag string, onOutput func(string)) error {
	if dir == "" {
		return errors.New("build directory cannot be empty")
	}
	if tag == "" {
		return errors.New("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := e.inner.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			if onOutput != nil {
				onOutput(errMsg)
			}
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
}

// RunContainer starts image publishing port on a random host port and returns that host port.
func (e *DaemonEngine) RunContainer(ctx context.Context, name, img string, port int) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("container name cannot be empty")
	}
	containerPort, err := nat.NewPort("tcp", fmt.Sprint(port))
	if err != nil {
		return "", fmt.Errorf("container port: %w", err)
	}
	cfg := &container.Config{
		Image:        img,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{containerPort: []nat.PortBinding{{HostIP: "0.0.0.0"}}},
	}
	created, err := e.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := e.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}

	for attempt := 0; attempt < 10; attempt++ {
		inspect, err := e.inner.ContainerInspect(ctx, created.ID)
		if err != nil {
			return "", fmt.Errorf("container inspect: %w", err)
		}
		if inspect.NetworkSettings != nil {
			if hostPort := firstHostPort(inspect.NetworkSettings.Ports[containerPort]); hostPort != "" {
				return hostPort, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", errors.New("container started without a published host port")
}

// RemoveContainer force-removes a container; a missing container is not an error.
func (e *DaemonEngine) RemoveContainer(ctx context.Context, name string) error {
	if err := e.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// RemoveImage deletes a built image; a missing image is not an error.
func (e *DaemonEngine) RemoveImage(ctx context.Context, tag string) error {
	if _, err := e.inner.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

func firstHostPort(bindings []nat.PortBinding) string {
	for _, b := range bindings {
		if p := strings.TrimSpace(b.HostPort); p != "" {
			return p
		}
	}
	return ""
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	ID          string `json:"id"`
	Progress    string `json:"progress"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m buildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m buildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimRight(m.Stream, "\n")
	}
	if m.Status == "" {
		return ""
	}
	parts := make([]string, 0, 3)
	if id := strings.TrimSpace(m.ID); id != "" {
		parts = append(parts, id)
	}
	parts = append(parts, strings.TrimSpace(m.Status))
	if p := strings.TrimSpace(m.Progress); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
