package buildprofile

import (
	"strings"
	"testing"

	"github.com/splax/previewd/internal/domain"
)

func files(pairs ...string) domain.FileSet {
	var fs domain.FileSet
	for i := 0; i+1 < len(pairs); i += 2 {
		fs.Put(pairs[i], pairs[i+1])
	}
	return fs
}

func TestDetectHeuristics(t *testing.T) {
	t.Run("static fallback", func(t *testing.T) {
		p := Detect(files("index.html", "<h1>hi</h1>"))
		if p.Framework != FrameworkStatic || p.BuildCommand != "" || p.OutputDirectory != "." {
			t.Fatalf("unexpected profile %+v", p)
		}
	})

	t.Run("next detected", func(t *testing.T) {
		p := Detect(files("/package.json", `{"dependencies":{"next":"14.0.0"},"scripts":{"build":"next build"}}`))
		if p.Framework != FrameworkNext {
			t.Fatalf("expected nextjs, got %q", p.Framework)
		}
		if p.BuildCommand != "npm run build" || p.OutputDirectory != ".next" {
			t.Fatalf("unexpected next profile %+v", p)
		}
	})

	t.Run("vite with pnpm lockfile", func(t *testing.T) {
		p := Detect(files(
			"package.json", `{"devDependencies":{"vite":"5"},"scripts":{"build":"vite build"}}`,
			"pnpm-lock.yaml", "lockfileVersion: 6",
		))
		if p.Framework != FrameworkVite || p.PackageManager != PMPNPM {
			t.Fatalf("unexpected profile %+v", p)
		}
		if p.InstallCommand != "pnpm install --frozen-lockfile" || p.BuildCommand != "pnpm run build" {
			t.Fatalf("unexpected commands %+v", p)
		}
		if !p.ServesStatic() {
			t.Fatal("expected vite output to be served statically")
		}
	})

	t.Run("packageManager field wins over lockfile", func(t *testing.T) {
		p := Detect(files(
			"package.json", `{"packageManager":"yarn@4.1.0","dependencies":{"react-scripts":"5"}}`,
			"package-lock.json", "{}",
		))
		if p.PackageManager != PMYarn {
			t.Fatalf("expected yarn, got %q", p.PackageManager)
		}
		if p.BuildCommand != "yarn react-scripts build" {
			t.Fatalf("expected direct framework build without script, got %q", p.BuildCommand)
		}
	})

	t.Run("generic node without build script", func(t *testing.T) {
		p := Detect(files("package.json", `{"dependencies":{"express":"4"}}`, "index.js", "require('express')"))
		if p.Framework != FrameworkNode || p.BuildCommand != "" || p.StartCommand != "node index.js" {
			t.Fatalf("unexpected profile %+v", p)
		}
	})

	t.Run("malformed manifest is still node", func(t *testing.T) {
		p := Detect(files("package.json", `{"dependencies":`))
		if p.Framework != FrameworkNode {
			t.Fatalf("expected node for malformed manifest, got %q", p.Framework)
		}
	})

	t.Run("go module", func(t *testing.T) {
		p := Detect(files("go.mod", "module example.com/app\n", "main.go", "package main"))
		if p.Framework != FrameworkGo {
			t.Fatalf("expected go, got %q", p.Framework)
		}
	})

	t.Run("dockerfile provided", func(t *testing.T) {
		p := Detect(files("Dockerfile", "FROM scratch\n", "package.json", "{}"))
		if p.Framework != FrameworkDocker {
			t.Fatalf("expected docker, got %q", p.Framework)
		}
	})
}

func TestDetectIsDeterministic(t *testing.T) {
	fs := files("package.json", `{"dependencies":{"vite":"5","astro":"4"}}`)
	first := Detect(fs)
	for i := 0; i < 20; i++ {
		if got := Detect(fs); got != first {
			t.Fatalf("detection changed between runs: %+v vs %+v", first, got)
		}
	}
	if first.Framework != FrameworkAstro {
		t.Fatalf("expected astro to take precedence over vite, got %q", first.Framework)
	}
}

func TestApplyOverrides(t *testing.T) {
	p := Detect(files("package.json", `{"dependencies":{"vite":"5"},"scripts":{"build":"vite build"}}`))
	got := p.Apply(Overrides{BuildCommand: "npm run build:prod", OutputDirectory: " out "})
	if got.BuildCommand != "npm run build:prod" || got.OutputDirectory != "out" {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.Framework != FrameworkVite || got.InstallCommand != p.InstallCommand {
		t.Fatalf("unset override fields should keep inferred values: %+v", got)
	}
}

func TestPlanContainer(t *testing.T) {
	t.Run("static", func(t *testing.T) {
		fs := files("index.html", "<h1>hi</h1>")
		plan := PlanContainer(Detect(fs), fs)
		if plan.Port != 80 || !strings.Contains(plan.Dockerfile, "nginx") {
			t.Fatalf("unexpected static plan %+v", plan)
		}
		if plan.BuildScript != "" {
			t.Fatal("static plan should not carry a build script")
		}
	})

	t.Run("next server", func(t *testing.T) {
		fs := files("package.json", `{"dependencies":{"next":"14"},"scripts":{"build":"next build","start":"next start"}}`)
		plan := PlanContainer(Detect(fs), fs)
		if plan.Port != 3000 {
			t.Fatalf("expected port 3000, got %d", plan.Port)
		}
		if !strings.Contains(plan.Dockerfile, "NEXT_TELEMETRY_DISABLED") || !strings.Contains(plan.BuildScript, "npm run build") {
			t.Fatalf("unexpected next plan %+v", plan)
		}
	})

	t.Run("vite static build", func(t *testing.T) {
		fs := files("package.json", `{"devDependencies":{"vite":"5"},"scripts":{"build":"vite build"}}`)
		plan := PlanContainer(Detect(fs), fs)
		if !strings.Contains(plan.Dockerfile, "COPY --from=build /app/dist /usr/share/nginx/html") {
			t.Fatalf("expected dist copy, got\n%s", plan.Dockerfile)
		}
	})

	t.Run("user dockerfile port", func(t *testing.T) {
		fs := files("Dockerfile", "FROM node:20\nEXPOSE 8080/tcp\n")
		plan := PlanContainer(Detect(fs), fs)
		if plan.Dockerfile != "" || plan.Port != 8080 {
			t.Fatalf("unexpected plan %+v", plan)
		}
	})
}
