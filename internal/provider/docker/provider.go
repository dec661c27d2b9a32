// Package docker implements provider.Client by building previews on a local Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/previewd/internal/buildprofile"
	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/provider"
)

const dockerfileName = "Dockerfile"

// Config controls where previews are built and how they are addressed.
type Config struct {
	Workdir      string
	PreviewHost  string
	BuildTimeout time.Duration
}

type deployment struct {
	id        string
	tag       string
	container string
	state     domain.DeploymentStatus
	url       string
	errMsg    string
	logs      *logTail
	cancel    context.CancelFunc
	done      chan struct{}
}

// Provider builds each deployment as a container image and runs it.
type Provider struct {
	engine     Engine
	workspaces *workspaces
	cfg        Config
	logger     *slog.Logger

	mu          sync.Mutex
	deployments map[string]*deployment
}

var _ provider.Client = (*Provider)(nil)

// New constructs a Provider backed by engine.
func New(engine Engine, cfg Config, logger *slog.Logger) (*Provider, error) {
	if engine == nil {
		return nil, fmt.Errorf("docker engine required")
	}
	ws, err := newWorkspaces(cfg.Workdir)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.PreviewHost) == "" {
		cfg.PreviewHost = "localhost"
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provider{
		engine:      engine,
		workspaces:  ws,
		cfg:         cfg,
		logger:      logger,
		deployments: make(map[string]*deployment),
	}, nil
}

// Create writes files to a fresh workspace and starts an asynchronous image build.
func (p *Provider) Create(ctx context.Context, files domain.FileSet, settings provider.Settings) (provider.Deployment, error) {
	if err := files.Validate(); err != nil {
		return provider.Deployment{}, err
	}
	if err := ctx.Err(); err != nil {
		return provider.Deployment{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	profile := provider.ResolveProfile(files, settings)
	plan := buildprofile.PlanContainer(profile, files)

	id := "dpl_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	extra := map[string]string{buildprofile.BuildScriptPath(): plan.BuildScript}
	if plan.Dockerfile != "" {
		extra[dockerfileName] = plan.Dockerfile
	}
	dir, err := p.workspaces.prepare(id, files, extra)
	if err != nil {
		_ = p.workspaces.cleanup(id)
		return provider.Deployment{}, fmt.Errorf("prepare workspace: %w", err)
	}

	name := provider.DeploymentName(settings)
	buildCtx, cancel := context.WithTimeout(context.Background(), p.cfg.BuildTimeout)
	d := &deployment{
		id:        id,
		tag:       fmt.Sprintf("previewd/%s:%s", name, strings.ToLower(id)),
		container: "previewd-" + strings.ToLower(id),
		state:     domain.DeploymentQueued,
		logs:      newLogTail(provider.MaxLogBytes),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	p.mu.Lock()
	p.deployments[id] = d
	p.mu.Unlock()

	go p.build(buildCtx, d, dir, plan.Port)

	p.logger.Info("docker deployment created", "deployment_id", id, "framework", profile.Framework, "files", files.Len())
	return provider.Deployment{ID: id, Profile: profile}, nil
}

func (p *Provider) build(ctx context.Context, d *deployment, dir string, port int) {
	defer close(d.done)
	defer d.cancel()

	p.setState(d, domain.DeploymentBuilding, "", "")
	if err := p.engine.BuildImage(ctx, dir, d.tag, d.logs.append); err != nil {
		p.setState(d, domain.DeploymentError, "", failureMessage(ctx, err))
		return
	}
	hostPort, err := p.engine.RunContainer(ctx, d.container, d.tag, port)
	if err != nil {
		d.logs.append(err.Error())
		p.setState(d, domain.DeploymentError, "", failureMessage(ctx, err))
		return
	}
	url := fmt.Sprintf("http://%s:%s", p.cfg.PreviewHost, hostPort)
	p.setState(d, domain.DeploymentReady, url, "")
	p.logger.Info("docker deployment ready", "deployment_id", d.id, "url", url)
}

func failureMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "build cancelled or timed out"
	}
	return err.Error()
}

func (p *Provider) setState(d *deployment, state domain.DeploymentStatus, url, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d.state = state
	if url != "" {
		d.url = url
	}
	if errMsg != "" {
		d.errMsg = errMsg
	}
}

func (p *Provider) lookup(id string) (*deployment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.deployments[id]
	return d, ok
}

// Poll reports the state of a deployment created by this provider.
func (p *Provider) Poll(ctx context.Context, id string) (provider.Status, error) {
	if err := ctx.Err(); err != nil {
		return provider.Status{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.deployments[id]
	if !ok {
		return provider.Status{}, fmt.Errorf("%w: unknown deployment %s", domain.ErrProviderUnavailable, id)
	}
	return provider.Status{State: d.state, URL: d.url, ErrorMessage: d.errMsg}, nil
}

// FetchLogs returns the tail of the build output.
func (p *Provider) FetchLogs(_ context.Context, id string) string {
	d, ok := p.lookup(id)
	if !ok {
		return ""
	}
	return d.logs.String()
}

// Delete stops the build, removes the container, image and workspace.
func (p *Provider) Delete(ctx context.Context, id string) bool {
	d, ok := p.lookup(id)
	if !ok {
		return true
	}
	d.cancel()
	select {
	case <-d.done:
	case <-ctx.Done():
		p.logger.Warn("delete gave up waiting for build", "deployment_id", id)
		return false
	}

	ok = true
	if err := p.engine.RemoveContainer(ctx, d.container); err != nil {
		p.logger.Warn("remove preview container failed", "deployment_id", id, "error", err)
		ok = false
	}
	if err := p.engine.RemoveImage(ctx, d.tag); err != nil {
		p.logger.Warn("remove preview image failed", "deployment_id", id, "error", err)
		ok = false
	}
	if err := p.workspaces.cleanup(id); err != nil {
		p.logger.Warn("cleanup workspace failed", "deployment_id", id, "error", err)
		ok = false
	}
	if ok {
		p.mu.Lock()
		delete(p.deployments, id)
		p.mu.Unlock()
	}
	return ok
}
