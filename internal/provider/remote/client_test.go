package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", " token-123 ", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestCreateSendsFilesAndSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v13/deployments" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("teamId"); got != "team_1" {
			t.Fatalf("expected teamId query, got %q", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token-123" {
			t.Fatalf("unexpected auth header %q", auth)
		}
		var body createRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Name != "my-shop" {
			t.Fatalf("unexpected name %q", body.Name)
		}
		if len(body.Files) != 2 || body.Files[0].File != "package.json" {
			t.Fatalf("unexpected files %+v", body.Files)
		}
		if body.ProjectSettings.Framework == nil || *body.ProjectSettings.Framework != "nextjs" {
			t.Fatalf("expected nextjs framework, got %+v", body.ProjectSettings.Framework)
		}
		if body.Target != "preview" {
			t.Fatalf("unexpected target %q", body.Target)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "dpl_1", "url": "my-shop-abc.vercel.app", "readyState": "QUEUED"})
	}, WithTeamID("team_1"))

	files := domain.NewFileSet(
		domain.GeneratedFile{Path: "/package.json", Content: `{"dependencies":{"next":"14.0.0"},"scripts":{"build":"next build"}}`},
		domain.GeneratedFile{Path: "pages/index.js", Content: "export default () => null"},
	)
	dep, err := c.Create(context.Background(), files, provider.Settings{Name: "My Shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dep.ID != "dpl_1" {
		t.Fatalf("unexpected id %q", dep.ID)
	}
	if dep.URL != "https://my-shop-abc.vercel.app" {
		t.Fatalf("unexpected url %q", dep.URL)
	}
}

func TestCreateStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrInvalidInput},
		{http.StatusRequestEntityTooLarge, domain.ErrInvalidInput},
		{http.StatusPaymentRequired, domain.ErrQuotaExceeded},
		{http.StatusTooManyRequests, domain.ErrQuotaExceeded},
		{http.StatusUnauthorized, domain.ErrProviderUnavailable},
		{http.StatusBadGateway, domain.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"code":"x","message":"rejected"}}`))
		})
		files := domain.NewFileSet(domain.GeneratedFile{Path: "index.html", Content: "<h1>hi</h1>"})
		_, err := c.Create(context.Background(), files, provider.Settings{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		var apiErr APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "rejected" {
			t.Fatalf("status %d: expected api error message, got %v", tc.status, err)
		}
	}
}

func TestCreateRejectsEmptyFileSet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Create(context.Background(), domain.NewFileSet(), provider.Settings{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPollMapsReadyState(t *testing.T) {
	states := map[string]domain.DeploymentStatus{
		"QUEUED":       domain.DeploymentQueued,
		"INITIALIZING": domain.DeploymentQueued,
		"BUILDING":     domain.DeploymentBuilding,
		"READY":        domain.DeploymentReady,
		"ERROR":        domain.DeploymentError,
		"CANCELED":     domain.DeploymentError,
	}
	for raw, want := range states {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v13/deployments/dpl_1" {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "dpl_1", "url": "x.vercel.app", "readyState": raw, "errorMessage": "boom"})
		})
		st, err := c.Poll(context.Background(), "dpl_1")
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if st.State != want {
			t.Fatalf("%s: expected %s, got %s", raw, want, st.State)
		}
		if st.ErrorMessage != "boom" {
			t.Fatalf("unexpected error message %q", st.ErrorMessage)
		}
	}
}

func TestFetchLogsJoinsEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/deployments/dpl_1/events" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("builds") != "1" {
			t.Fatalf("expected builds=1")
		}
		_, _ = w.Write([]byte(`[{"type":"stdout","text":"Installing"},{"type":"stderr","payload":{"text":"Error: Cannot find module 'react'"}},{"type":"stdout","text":""}]`))
	})
	logs := c.FetchLogs(context.Background(), "dpl_1")
	if logs != "Installing\nError: Cannot find module 'react'" {
		t.Fatalf("unexpected logs %q", logs)
	}
}

func TestFetchLogsFailureReturnsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if logs := c.FetchLogs(context.Background(), "dpl_1"); logs != "" {
		t.Fatalf("expected empty logs, got %q", logs)
	}
}

func TestDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/gone"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/broken"):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	if !c.Delete(context.Background(), "dpl_1") {
		t.Fatal("expected delete to succeed")
	}
	if !c.Delete(context.Background(), "gone") {
		t.Fatal("expected missing deployment to count as deleted")
	}
	if c.Delete(context.Background(), "broken") {
		t.Fatal("expected delete to report failure")
	}
}

func TestTransportErrorIsProviderUnavailable(t *testing.T) {
	c, err := New("http://127.0.0.1:1", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Poll(context.Background(), "dpl_1")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}
