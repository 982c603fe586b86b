package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/relay/internal/command"
)

// ErrProjectExists rejects creating over an existing directory.
var ErrProjectExists = errors.New("project already exists")

// MetadataFile is written into every created project.
const MetadataFile = ".relay-meta.json"

// Project creation defaults.
const (
	DefaultTemplate        = "blank"
	DefaultBundlePrefix    = "com.relay"
	DefaultScaffoldTimeout = 10 * time.Minute
)

// ProjectInfo is the result of a project creation job.
type ProjectInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Template  string    `json:"template"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProjectOptions configures ProjectCreation.
type ProjectOptions struct {
	BasePath string
	Name     string
	Template string
	// Owner is written to app.json's expo.owner when set.
	Owner string
	// BundlePrefix prefixes the android package and iOS bundle id.
	BundlePrefix string
	Runner       *command.Runner
	Timeout      time.Duration
	// Scaffold builds the project generator command. Defaults to
	// npx create-expo-app.
	Scaffold func(name, template string) command.Spec
	Now      func() time.Time
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// ProjectCreation returns the steps that scaffold a new project under
// BasePath. It fails fast when the target directory already exists.
func ProjectCreation(opts ProjectOptions) ([]Step, error) {
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.BundlePrefix == "" {
		opts.BundlePrefix = DefaultBundlePrefix
	}
	if opts.Runner == nil {
		opts.Runner = command.NewRunner(nil, 0)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScaffoldTimeout
	}
	if opts.Scaffold == nil {
		opts.Scaffold = func(name, template string) command.Spec {
			return command.Spec{Name: "npx", Args: []string{"create-expo-app", name, "--template", template}}
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	projectPath := filepath.Join(opts.BasePath, opts.Name)
	if _, err := os.Stat(projectPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, opts.Name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking project path: %w", err)
	}

	p := &projectCreation{opts: opts, path: projectPath}
	return []Step{
		{Phase: "creating", Progress: 10, Message: "Creating project...", Critical: true, Run: p.scaffold},
		{Phase: "git-init", Progress: 65, Message: "Initializing git repository...", Run: p.gitInit},
		{Phase: "config", Progress: 75, Message: "Configuring app.json...", Run: p.configureAppJSON},
		{Phase: "eas-config", Progress: 85, Message: "Creating EAS configuration...", Run: p.writeEASConfig},
		{Phase: "metadata", Progress: 95, Message: "Saving project metadata...", Critical: true, Run: p.saveMetadata},
	}, nil
}

type projectCreation struct {
	opts ProjectOptions
	path string
}

func (p *projectCreation) scaffold(ctx context.Context, sc *StepContext) error {
	spec := p.opts.Scaffold(p.opts.Name, p.opts.Template)
	spec.Dir = p.opts.BasePath
	spec.Timeout = p.opts.Timeout
	spec.OnStdout = func(line string) {
		sc.Output(line)
		switch {
		case strings.Contains(line, "Installing dependencies"):
			sc.Advance(40)
		case strings.Contains(line, "Success"):
			sc.Advance(60)
		}
	}
	spec.OnStderr = func(line string) { sc.Output("[stderr] " + line) }

	sc.Output("Running: " + spec.String())
	if err := os.MkdirAll(p.opts.BasePath, 0o755); err != nil {
		return fmt.Errorf("creating projects directory: %w", err)
	}
	if _, err := p.opts.Runner.Run(ctx, spec); err != nil {
		return fmt.Errorf("project scaffold failed: %w", err)
	}
	return nil
}

func (p *projectCreation) gitInit(ctx context.Context, sc *StepContext) error {
	sc.Output("Running: git init")
	_, err := p.opts.Runner.Run(ctx, command.Spec{Name: "git", Args: []string{"init"}, Dir: p.path, Timeout: time.Minute})
	return err
}

func (p *projectCreation) configureAppJSON(_ context.Context, sc *StepContext) error {
	path := filepath.Join(p.path, "app.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading app.json: %w", err)
	}
	var app map[string]any
	if err := json.Unmarshal(data, &app); err != nil {
		return fmt.Errorf("parsing app.json: %w", err)
	}

	expo := object(app, "expo")
	id := p.opts.BundlePrefix + "." + nonAlnum.ReplaceAllString(strings.ToLower(p.opts.Name), "")
	if p.opts.Owner != "" {
		expo["owner"] = p.opts.Owner
	}
	object(expo, "android")["package"] = id
	object(expo, "ios")["bundleIdentifier"] = id

	if err := writeJSON(path, app); err != nil {
		return err
	}
	sc.Output("Configured app.json for EAS builds: " + id)
	return nil
}

// object returns m[key] as a map, creating it when missing or mistyped.
func object(m map[string]any, key string) map[string]any {
	if child, ok := m[key].(map[string]any); ok {
		return child
	}
	child := map[string]any{}
	m[key] = child
	return child
}

var easConfig = map[string]any{
	"cli": map[string]any{"version": ">= 7.0.0", "appVersionSource": "remote"},
	"build": map[string]any{
		"development": map[string]any{
			"developmentClient": true,
			"distribution":      "internal",
			"android":           map[string]any{"credentialsSource": "remote"},
		},
		"preview": map[string]any{
			"distribution": "internal",
			"android": map[string]any{
				"buildType":          "apk",
				"credentialsSource":  "remote",
				"withoutCredentials": true,
			},
		},
		"production": map[string]any{
			"android": map[string]any{"buildType": "app-bundle", "credentialsSource": "remote"},
		},
	},
	"submit": map[string]any{"production": map[string]any{}},
}

func (p *projectCreation) writeEASConfig(_ context.Context, sc *StepContext) error {
	if err := writeJSON(filepath.Join(p.path, "eas.json"), easConfig); err != nil {
		return err
	}
	sc.Output("Created eas.json")
	return nil
}

func (p *projectCreation) saveMetadata(_ context.Context, sc *StepContext) error {
	info := ProjectInfo{
		ID:        uuid.NewString(),
		Name:      p.opts.Name,
		Template:  p.opts.Template,
		Path:      p.path,
		CreatedAt: p.opts.Now().UTC(),
	}
	if err := writeJSON(filepath.Join(p.path, MetadataFile), info); err != nil {
		return err
	}
	sc.SetResult(info)
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: project files are meant to be readable
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
