package scaffold

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/cosmic-gao/nexo-machine/internal/branding"
	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/lifecycle"
	"github.com/cosmic-gao/nexo-machine/internal/logging"
	"github.com/cosmic-gao/nexo-machine/internal/manifest"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/spf13/afero"
)

// Kinds that can be generated.
const (
	KindPlugin   = "plugin"
	KindPipeline = "pipeline"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Request describes what to generate.
type Request struct {
	Kind        string
	Name        string
	Description string
	OutputDir   string
	// HostVersion becomes the generated plugin's minimum host version.
	HostVersion string
}

// ScaffoldData holds the template variables.
type ScaffoldData struct {
	Name        string
	Kind        string
	Description string
	Version     string // Semver of the generated plugin, e.g. "0.1.0"
	Requires    string // Host constraint, empty for dev hosts
	CLIName     string
	HomeDir     string
	EnvPrefix   string
	Year        int
}

// NewScaffoldData creates a ScaffoldData with derived fields populated.
func NewScaffoldData(req Request) *ScaffoldData {
	d := &ScaffoldData{
		Name:        req.Name,
		Kind:        req.Kind,
		Description: req.Description,
		Version:     "0.1.0",
		CLIName:     branding.CLIName(),
		HomeDir:     branding.HomeDir(),
		EnvPrefix:   branding.EnvPrefix(),
		Year:        time.Now().Year(),
	}
	if d.Description == "" {
		d.Description = fmt.Sprintf("%s %s %s", branding.DisplayName(), req.Kind, req.Name)
	}
	if v := req.HostVersion; v != "" && v != plugin.DevVersion {
		d.Requires = ">= " + strings.TrimPrefix(v, "v")
	}
	return d
}

// Result holds the outcome of a scaffold generation.
type Result struct {
	OutputDir string
	Files     []string
	Warnings  []string
}

// AbortError reports a generation stopped by a lifecycle listener.
type AbortError struct {
	Phase  lifecycle.Phase
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("scaffold aborted during %s: %s", e.Phase, e.Reason)
}

// Option configures Generate.
type Option func(*generator)

// WithFs sets the filesystem files are written to. Defaults to the OS
// filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(g *generator) { g.fs = fsys }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *generator) { g.logger = logging.OrNop(l) }
}

type generator struct {
	fs     afero.Fs
	logger *slog.Logger
}

// job is the lifecycle data for one Generate call.
type job struct {
	req     Request
	data    *ScaffoldData
	result  *Result
	created bool
	failed  bool
}

// Generate runs the scaffold lifecycle on bus for req. Abort from any
// listener surfaces as an *AbortError; the output directory is removed
// again if this run created it.
func Generate(ctx context.Context, bus *hooks.Bus, req Request, opts ...Option) (*Result, error) {
	g := &generator{fs: afero.NewOsFs(), logger: logging.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	if bus == nil {
		bus = hooks.NewBus()
	}

	j := &job{req: req, data: NewScaffoldData(req), result: &Result{OutputDir: req.OutputDir}}

	steps := []struct {
		phase lifecycle.Phase
		fn    func(*lifecycle.Context, *job) error
	}{
		{lifecycle.PhaseValidate, g.validate},
		{lifecycle.PhasePrepare, g.prepare},
		{lifecycle.PhaseGenerate, g.generate},
		{lifecycle.PhaseFinalize, g.finalize},
		{lifecycle.PhaseCleanup, g.cleanup},
	}
	ids := make([]hooks.HookID, len(steps))
	for i, step := range steps {
		ids[i] = bus.Hook(step.phase.HookName(), func(_ context.Context, args ...any) error {
			lc := args[0].(*lifecycle.Context)
			if lc.Data != j {
				return nil // another run on the same bus
			}
			return step.fn(lc, j)
		})
	}
	defer func() {
		for i, step := range steps {
			bus.RemoveHook(step.phase.HookName(), ids[i])
		}
	}()

	runner := lifecycle.NewRunner(bus, lifecycle.WithLogger(g.logger))
	lc, err := runner.Run(ctx, j, lifecycle.RunOptions{
		EndPhase: lifecycle.PhaseFinalize,
		Meta:     map[string]any{"kind": req.Kind, "name": req.Name},
	})

	var runErr error
	switch {
	case err != nil:
		runErr = err
	case lc != nil && lc.Aborted():
		runErr = &AbortError{Phase: lc.Phase, Reason: lc.AbortReason()}
	}
	j.failed = runErr != nil

	if _, err := runner.RunPhase(ctx, lifecycle.PhaseCleanup, j, nil); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return j.result, nil
}

func templateDir(kind string) string {
	return path.Join("templates", kind)
}

func (g *generator) validate(lc *lifecycle.Context, j *job) error {
	if !namePattern.MatchString(j.req.Name) {
		lc.Abort(fmt.Sprintf("invalid name %q: use lowercase letters, digits and dashes", j.req.Name))
		return nil
	}
	if j.req.Kind != KindPlugin && j.req.Kind != KindPipeline {
		lc.Abort(fmt.Sprintf("unknown kind %q: expected %s or %s", j.req.Kind, KindPlugin, KindPipeline))
		return nil
	}
	if j.req.OutputDir == "" {
		lc.Abort("no output directory given")
	}
	return nil
}

func (g *generator) prepare(lc *lifecycle.Context, j *job) error {
	dir := j.req.OutputDir
	exists, err := afero.DirExists(g.fs, dir)
	if err != nil {
		return fmt.Errorf("checking %s: %w", dir, err)
	}
	if exists && j.req.Kind == KindPipeline {
		target := filepath.Join(dir, j.req.Name+".yaml")
		taken, err := afero.Exists(g.fs, target)
		if err != nil {
			return fmt.Errorf("checking %s: %w", target, err)
		}
		if taken {
			lc.Abort(fmt.Sprintf("%s already exists", target))
		}
		return nil
	}
	if exists {
		empty, err := afero.IsEmpty(g.fs, dir)
		if err != nil {
			return fmt.Errorf("checking %s: %w", dir, err)
		}
		if !empty {
			lc.Abort(fmt.Sprintf("output directory %s is not empty; remove existing files first", dir))
		}
		return nil
	}

	if err := g.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	j.created = true
	return nil
}

func (g *generator) generate(_ *lifecycle.Context, j *job) error {
	dir := templateDir(j.req.Kind)
	entries, err := fs.ReadDir(scaffoldFS, dir)
	if err != nil {
		return fmt.Errorf("template set %q not found: %w", j.req.Kind, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		tmplBytes, err := fs.ReadFile(scaffoldFS, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading template %s: %w", entry.Name(), err)
		}

		outName := outputName(j.req, strings.TrimSuffix(entry.Name(), ".tmpl"))
		tmpl, err := template.New(entry.Name()).Option("missingkey=error").Parse(string(tmplBytes))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", entry.Name(), err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, j.data); err != nil {
			return fmt.Errorf("executing template %s: %w", entry.Name(), err)
		}

		outPath := filepath.Join(j.req.OutputDir, outName)
		if err := afero.WriteFile(g.fs, outPath, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", outPath, err)
		}
		j.result.Files = append(j.result.Files, outName)
		g.logger.Debug("scaffold wrote file", "path", outPath)
	}
	return nil
}

// outputName maps a template file name to the generated file name. A
// generated pipeline is named after itself.
func outputName(req Request, name string) string {
	if req.Kind == KindPipeline && name == "pipeline.yaml" {
		return req.Name + ".yaml"
	}
	return name
}

func (g *generator) finalize(_ *lifecycle.Context, j *job) error {
	for _, name := range j.result.Files {
		if filepath.Ext(name) != ".yaml" {
			continue
		}
		data, err := afero.ReadFile(g.fs, filepath.Join(j.req.OutputDir, name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		res, err := manifest.Validate(data)
		if err != nil {
			j.result.Warnings = append(j.result.Warnings, fmt.Sprintf("%s: could not validate manifest: %v", name, err))
			continue
		}
		for _, issue := range res.Issues {
			j.result.Warnings = append(j.result.Warnings, name+": "+issue.String())
		}
	}
	return nil
}

// cleanup undoes a failed run: the output directory goes if this run
// created it, otherwise only the files it wrote.
func (g *generator) cleanup(_ *lifecycle.Context, j *job) error {
	if !j.failed {
		return nil
	}
	if j.created {
		g.logger.Debug("scaffold removing output directory", "path", j.req.OutputDir)
		if err := g.fs.RemoveAll(j.req.OutputDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", j.req.OutputDir, err)
		}
		return nil
	}

	var errs []error
	for _, name := range j.result.Files {
		p := filepath.Join(j.req.OutputDir, name)
		if err := g.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
