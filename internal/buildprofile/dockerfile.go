package buildprofile

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/splax/previewd/internal/domain"
)

const (
	defaultAppPort    = 3000
	defaultStaticPort = 80
	buildScriptPath   = ".previewd/build.sh"
)

// ContainerPlan is what a local container build needs beyond the file set.
type ContainerPlan struct {
	// Dockerfile is empty when the file set already carries one.
	Dockerfile  string
	BuildScript string
	Port        int
}

// PlanContainer renders the container build for profile.
func PlanContainer(profile Profile, files domain.FileSet) ContainerPlan {
	switch {
	case profile.Framework == FrameworkDocker:
		return ContainerPlan{Port: exposedPort(files)}
	case profile.Framework == FrameworkGo:
		return ContainerPlan{Dockerfile: renderGoDockerfile(profile), Port: defaultAppPort}
	case profile.Framework == FrameworkStatic && strings.TrimSpace(profile.BuildCommand) == "":
		return ContainerPlan{Dockerfile: renderStaticDockerfile(profile.OutputDirectory), Port: defaultStaticPort}
	case profile.ServesStatic():
		return ContainerPlan{
			Dockerfile:  renderNodeStaticDockerfile(profile),
			BuildScript: buildScript(profile.BuildCommand),
			Port:        defaultStaticPort,
		}
	default:
		return ContainerPlan{
			Dockerfile:  renderNodeServerDockerfile(profile),
			BuildScript: buildScript(profile.BuildCommand),
			Port:        defaultAppPort,
		}
	}
}

// BuildScriptPath is where PlanContainer expects the build script inside the build context.
func BuildScriptPath() string { return buildScriptPath }

func buildScript(command string) string {
	if strings.TrimSpace(command) == "" {
		return ""
	}
	return "#!/usr/bin/env bash\nset -euo pipefail\n\n" + command + "\n"
}

func nodeImage(pm PackageManager) string {
	if pm == PMBun {
		return "oven/bun:1"
	}
	return "node:20-bullseye"
}

func writeInstall(b *strings.Builder, profile Profile) {
	switch profile.PackageManager {
	case PMYarn, PMPNPM:
		b.WriteString("COPY package.json yarn.lock* pnpm-lock.yaml* ./\n")
		b.WriteString("RUN corepack enable && " + profile.InstallCommand + "\n\n")
	case PMBun:
		b.WriteString("COPY package.json bun.lock* ./\n")
		b.WriteString("RUN " + profile.InstallCommand + "\n\n")
	default:
		b.WriteString("COPY package*.json ./\n")
		install := profile.InstallCommand
		if install == "" {
			install = "npm install"
		}
		b.WriteString("RUN " + install + "\n\n")
	}
}

func writeBuildStep(b *strings.Builder, profile Profile) {
	if strings.TrimSpace(profile.BuildCommand) == "" {
		return
	}
	b.WriteString("RUN chmod +x " + buildScriptPath + " && bash " + buildScriptPath + " && rm -f " + buildScriptPath + "\n")
}

func renderNodeServerDockerfile(profile Profile) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM " + nodeImage(profile.PackageManager) + "\n")
	b.WriteString("WORKDIR /app\n\n")
	writeInstall(&b, profile)
	b.WriteString("COPY . ./\n")
	writeBuildStep(&b, profile)
	b.WriteString("ENV NODE_ENV=production\n")
	if profile.Framework == FrameworkNext {
		b.WriteString("ENV NEXT_TELEMETRY_DISABLED=1\n")
	}
	b.WriteString("ENV PORT=" + strconv.Itoa(defaultAppPort) + "\n")
	b.WriteString("ENV HOST=0.0.0.0\n")
	b.WriteString("EXPOSE " + strconv.Itoa(defaultAppPort) + "\n")
	start := strings.TrimSpace(profile.StartCommand)
	if start == "" {
		start = "npm start"
	}
	b.WriteString("CMD [\"sh\",\"-c\"," + strconv.Quote(start) + "]\n")
	return b.String()
}

func renderNodeStaticDockerfile(profile Profile) string {
	out := strings.Trim(strings.TrimSpace(profile.OutputDirectory), "/")
	if out == "" || out == "." {
		out = "dist"
	}
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM " + nodeImage(profile.PackageManager) + " AS build\n")
	b.WriteString("WORKDIR /app\n\n")
	writeInstall(&b, profile)
	b.WriteString("COPY . ./\n")
	writeBuildStep(&b, profile)
	b.WriteString("\nFROM nginx:1.27-alpine\n")
	b.WriteString("COPY --from=build /app/" + out + " /usr/share/nginx/html\n")
	b.WriteString("EXPOSE " + strconv.Itoa(defaultStaticPort) + "\n")
	return b.String()
}

func renderStaticDockerfile(outputDir string) string {
	src := strings.Trim(strings.TrimSpace(outputDir), "/")
	if src == "" {
		src = "."
	}
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM nginx:1.27-alpine\n")
	b.WriteString("COPY " + src + " /usr/share/nginx/html\n")
	b.WriteString("EXPOSE " + strconv.Itoa(defaultStaticPort) + "\n")
	return b.String()
}

func renderGoDockerfile(profile Profile) string {
	build := strings.TrimSpace(profile.BuildCommand)
	if build == "" {
		build = "go build -o /out/app ."
	}
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM golang:1.24 AS builder\n")
	b.WriteString("WORKDIR /src\n\n")
	b.WriteString("COPY go.* ./\n")
	b.WriteString("RUN go mod download\n\n")
	b.WriteString("COPY . ./\n")
	b.WriteString("RUN CGO_ENABLED=0 GOOS=linux " + build + "\n\n")
	b.WriteString("FROM debian:bookworm-slim\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("RUN apt-get update && apt-get install -y --no-install-recommends ca-certificates && rm -rf /var/lib/apt/lists/*\n")
	b.WriteString("COPY --from=builder /out/app ./app\n")
	b.WriteString("ENV PORT=" + strconv.Itoa(defaultAppPort) + "\n")
	b.WriteString("EXPOSE " + strconv.Itoa(defaultAppPort) + "\n")
	b.WriteString("CMD [\"./app\"]\n")
	return b.String()
}

// exposedPort reads the first EXPOSE directive of a provided Dockerfile.
func exposedPort(files domain.FileSet) int {
	idx := newIndex(files)
	content, ok := idx["Dockerfile"]
	if !ok {
		content = idx["dockerfile"]
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "EXPOSE") {
			continue
		}
		port := strings.SplitN(fields[1], "/", 2)[0]
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			return n
		}
	}
	return defaultAppPort
}
