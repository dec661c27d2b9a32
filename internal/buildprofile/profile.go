// Package buildprofile infers how a file set is built and served.
package buildprofile

import (
	"encoding/json"
	"strings"

	"github.com/splax/previewd/internal/domain"
)

// Framework names a recognised project flavour.
type Framework string

const (
	FrameworkNext      Framework = "nextjs"
	FrameworkRemix     Framework = "remix"
	FrameworkGatsby    Framework = "gatsby"
	FrameworkNuxt      Framework = "nuxtjs"
	FrameworkSvelteKit Framework = "sveltekit"
	FrameworkAstro     Framework = "astro"
	FrameworkVite      Framework = "vite"
	FrameworkCRA       Framework = "create-react-app"
	FrameworkNode      Framework = "node"
	FrameworkGo        Framework = "go"
	FrameworkDocker    Framework = "docker"
	FrameworkStatic    Framework = "static"
)

// PackageManager is the node package manager driving install/build.
type PackageManager string

const (
	PMNPM  PackageManager = "npm"
	PMYarn PackageManager = "yarn"
	PMPNPM PackageManager = "pnpm"
	PMBun  PackageManager = "bun"
)

func (pm PackageManager) String() string {
	if pm == "" {
		return string(PMNPM)
	}
	return string(pm)
}

// Profile describes the build step inferred for a file set.
type Profile struct {
	Framework       Framework      `json:"framework"`
	PackageManager  PackageManager `json:"package_manager,omitempty"`
	InstallCommand  string         `json:"install_command,omitempty"`
	BuildCommand    string         `json:"build_command,omitempty"`
	StartCommand    string         `json:"start_command,omitempty"`
	OutputDirectory string         `json:"output_directory,omitempty"`
}

// ServesStatic reports whether the build output is a directory of static assets.
func (p Profile) ServesStatic() bool {
	switch p.Framework {
	case FrameworkStatic, FrameworkVite, FrameworkCRA, FrameworkAstro, FrameworkGatsby:
		return true
	default:
		return false
	}
}

// Overrides carries caller-supplied settings; empty fields keep the inferred value.
type Overrides struct {
	Framework       string `json:"framework,omitempty"`
	InstallCommand  string `json:"install_command,omitempty"`
	BuildCommand    string `json:"build_command,omitempty"`
	OutputDirectory string `json:"output_directory,omitempty"`
}

// Apply merges overrides into p field by field.
func (p Profile) Apply(o Overrides) Profile {
	if v := strings.TrimSpace(o.Framework); v != "" {
		p.Framework = Framework(strings.ToLower(v))
	}
	if v := strings.TrimSpace(o.InstallCommand); v != "" {
		p.InstallCommand = v
	}
	if v := strings.TrimSpace(o.BuildCommand); v != "" {
		p.BuildCommand = v
	}
	if v := strings.TrimSpace(o.OutputDirectory); v != "" {
		p.OutputDirectory = v
	}
	return p
}

type npmManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	PackageManager  string            `json:"packageManager"`
	Scripts         map[string]string `json:"scripts"`
}

func (m *npmManifest) hasDependency(name string) bool {
	if m == nil {
		return false
	}
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return false
	}
	for dep := range m.Dependencies {
		if strings.EqualFold(dep, target) {
			return true
		}
	}
	for dep := range m.DevDependencies {
		if strings.EqualFold(dep, target) {
			return true
		}
	}
	return false
}

func (m *npmManifest) hasDependencyPrefix(prefix string) bool {
	if m == nil {
		return false
	}
	for dep := range m.Dependencies {
		if strings.HasPrefix(strings.ToLower(dep), prefix) {
			return true
		}
	}
	for dep := range m.DevDependencies {
		if strings.HasPrefix(strings.ToLower(dep), prefix) {
			return true
		}
	}
	return false
}

func (m *npmManifest) hasScript(name string) bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.Scripts[name]) != ""
}

// index maps root-relative paths to contents so lookups ignore "/" and "./" prefixes.
type index map[string]string

func newIndex(files domain.FileSet) index {
	idx := make(index, files.Len())
	for _, f := range files.Files() {
		idx[normalize(f.Path)] = f.Content
	}
	return idx
}

func (i index) has(name string) bool {
	_, ok := i[name]
	return ok
}

func normalize(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimLeft(p, "/")
}

// Detect infers a profile from file contents. Without a recognised manifest
// the result is the static profile.
func Detect(files domain.FileSet) Profile {
	idx := newIndex(files)

	if idx.has("Dockerfile") || idx.has("dockerfile") {
		return Profile{Framework: FrameworkDocker}
	}
	if manifest, ok := loadPackageManifest(idx); ok {
		return detectNode(idx, manifest)
	}
	if idx.has("go.mod") {
		return Profile{
			Framework:    FrameworkGo,
			BuildCommand: "go build -o /out/app .",
			StartCommand: "/out/app",
		}
	}
	return staticProfile()
}

func staticProfile() Profile {
	return Profile{Framework: FrameworkStatic, OutputDirectory: "."}
}

func detectNode(idx index, manifest *npmManifest) Profile {
	pm := detectPackageManager(idx, manifest)
	profile := Profile{
		PackageManager: pm,
		InstallCommand: installCommand(idx, pm),
	}
	run := runScript(pm)

	switch {
	case manifest.hasDependency("next"):
		profile.Framework = FrameworkNext
		profile.BuildCommand = run + " build"
		profile.StartCommand = run + " start"
		profile.OutputDirectory = ".next"
	case manifest.hasDependencyPrefix("@remix-run/"):
		profile.Framework = FrameworkRemix
		profile.BuildCommand = run + " build"
		profile.StartCommand = run + " start"
		profile.OutputDirectory = "build"
	case manifest.hasDependency("gatsby"):
		profile.Framework = FrameworkGatsby
		profile.BuildCommand = run + " build"
		profile.OutputDirectory = "public"
	case manifest.hasDependency("nuxt"):
		profile.Framework = FrameworkNuxt
		profile.BuildCommand = run + " build"
		profile.StartCommand = "node .output/server/index.mjs"
		profile.OutputDirectory = ".output"
	case manifest.hasDependency("@sveltejs/kit"):
		profile.Framework = FrameworkSvelteKit
		profile.BuildCommand = run + " build"
		profile.StartCommand = "node build"
		profile.OutputDirectory = "build"
	case manifest.hasDependency("astro"):
		profile.Framework = FrameworkAstro
		profile.BuildCommand = run + " build"
		profile.OutputDirectory = "dist"
	case manifest.hasDependency("vite"):
		profile.Framework = FrameworkVite
		profile.BuildCommand = run + " build"
		profile.OutputDirectory = "dist"
	case manifest.hasDependency("react-scripts"):
		profile.Framework = FrameworkCRA
		profile.BuildCommand = run + " build"
		profile.OutputDirectory = "build"
	default:
		profile.Framework = FrameworkNode
		if manifest.hasScript("build") {
			profile.BuildCommand = run + " build"
		}
		if manifest.hasScript("start") {
			profile.StartCommand = run + " start"
		} else {
			profile.StartCommand = "node index.js"
		}
	}
	if !manifest.hasScript("build") && profile.Framework != FrameworkNode && profile.BuildCommand != "" {
		profile.BuildCommand = frameworkBinaryBuild(profile.Framework, pm)
	}
	return profile
}

// frameworkBinaryBuild invokes the framework CLI directly when package.json has no build script.
func frameworkBinaryBuild(fw Framework, pm PackageManager) string {
	bin := map[Framework]string{
		FrameworkNext:      "next build",
		FrameworkRemix:     "remix build",
		FrameworkGatsby:    "gatsby build",
		FrameworkNuxt:      "nuxt build",
		FrameworkSvelteKit: "vite build",
		FrameworkAstro:     "astro build",
		FrameworkVite:      "vite build",
		FrameworkCRA:       "react-scripts build",
	}[fw]
	if bin == "" {
		return ""
	}
	switch pm {
	case PMYarn:
		return "yarn " + bin
	case PMPNPM:
		return "pnpm exec " + bin
	case PMBun:
		return "bunx " + bin
	default:
		return "npx " + bin
	}
}

func runScript(pm PackageManager) string {
	switch pm {
	case PMYarn:
		return "yarn"
	case PMPNPM:
		return "pnpm run"
	case PMBun:
		return "bun run"
	default:
		return "npm run"
	}
}

func installCommand(idx index, pm PackageManager) string {
	switch pm {
	case PMYarn:
		if idx.has("yarn.lock") {
			return "yarn install --frozen-lockfile"
		}
		return "yarn install"
	case PMPNPM:
		if idx.has("pnpm-lock.yaml") {
			return "pnpm install --frozen-lockfile"
		}
		return "pnpm install"
	case PMBun:
		return "bun install"
	default:
		if idx.has("package-lock.json") || idx.has("npm-shrinkwrap.json") {
			return "npm ci"
		}
		return "npm install"
	}
}

func detectPackageManager(idx index, manifest *npmManifest) PackageManager {
	if parsed := parsePackageManager(manifest.PackageManager); parsed != "" {
		return parsed
	}
	switch {
	case idx.has("yarn.lock"):
		return PMYarn
	case idx.has("pnpm-lock.yaml"):
		return PMPNPM
	case idx.has("bun.lockb"), idx.has("bun.lock"):
		return PMBun
	default:
		return PMNPM
	}
}

func parsePackageManager(value string) PackageManager {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return ""
	}
	if i := strings.Index(trimmed, "@"); i > 0 {
		trimmed = trimmed[:i]
	}
	switch trimmed {
	case "yarn":
		return PMYarn
	case "pnpm":
		return PMPNPM
	case "bun":
		return PMBun
	case "npm":
		return PMNPM
	default:
		return ""
	}
}

func loadPackageManifest(idx index) (*npmManifest, bool) {
	data, ok := idx["package.json"]
	if !ok {
		return nil, false
	}
	// A malformed manifest still marks a node project; the install step
	// will surface the parse error in the build logs.
	var manifest npmManifest
	_ = json.Unmarshal([]byte(data), &manifest)
	if manifest.Dependencies == nil {
		manifest.Dependencies = map[string]string{}
	}
	if manifest.DevDependencies == nil {
		manifest.DevDependencies = map[string]string{}
	}
	if manifest.Scripts == nil {
		manifest.Scripts = map[string]string{}
	}
	return &manifest, true
}
