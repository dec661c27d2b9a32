// Package provider defines the deployment client contract used by the orchestrator.
package provider

import (
	"context"
	"strings"

	"github.com/splax/previewd/internal/buildprofile"
	"github.com/splax/previewd/internal/domain"
)

// Settings carries per-deployment options.
type Settings struct {
	Name      string
	ProjectID string
	Overrides buildprofile.Overrides
}

// Deployment is returned when the provider accepts a create request.
type Deployment struct {
	ID      string
	URL     string
	Profile buildprofile.Profile
}

// Status is an observation of a deployment's remote state.
type Status struct {
	State        domain.DeploymentStatus
	URL          string
	ErrorMessage string
}

// Client wraps a build/hosting service.
//
// Create fails with domain.ErrProviderUnavailable, domain.ErrQuotaExceeded or
// domain.ErrInvalidInput. Poll is purely observational. FetchLogs and Delete
// are best effort and never fail the caller: FetchLogs returns "" and Delete
// returns false on error.
type Client interface {
	Create(ctx context.Context, files domain.FileSet, settings Settings) (Deployment, error)
	Poll(ctx context.Context, id string) (Status, error)
	FetchLogs(ctx context.Context, id string) string
	Delete(ctx context.Context, id string) bool
}

// ResolveProfile infers the build profile for files and applies explicit overrides.
func ResolveProfile(files domain.FileSet, settings Settings) buildprofile.Profile {
	return buildprofile.Detect(files).Apply(settings.Overrides)
}

// DeploymentName derives a provider-safe name from settings.
func DeploymentName(settings Settings) string {
	name := strings.TrimSpace(settings.Name)
	if name == "" {
		name = strings.TrimSpace(settings.ProjectID)
	}
	if name == "" {
		return "preview"
	}
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 52 {
		out = strings.Trim(out[:52], "-")
	}
	if out == "" {
		return "preview"
	}
	return out
}
