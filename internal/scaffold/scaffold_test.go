package scaffold

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/lifecycle"
	"github.com/cosmic-gao/nexo-machine/internal/manifest"
	"github.com/spf13/afero"
)

func TestNewScaffoldData(t *testing.T) {
	t.Run("released host", func(t *testing.T) {
		d := NewScaffoldData(Request{Kind: KindPlugin, Name: "docs", HostVersion: "v1.4.0"})
		if d.Requires != ">= 1.4.0" {
			t.Errorf("Requires = %q, want %q", d.Requires, ">= 1.4.0")
		}
		if d.Version != "0.1.0" {
			t.Errorf("Version = %q, want %q", d.Version, "0.1.0")
		}
		if !strings.Contains(d.Description, "docs") {
			t.Errorf("Description = %q, want it to mention the name", d.Description)
		}
	})

	t.Run("dev host", func(t *testing.T) {
		d := NewScaffoldData(Request{Kind: KindPlugin, Name: "docs", HostVersion: "dev"})
		if d.Requires != "" {
			t.Errorf("Requires = %q, want empty", d.Requires)
		}
	})

	t.Run("year is populated", func(t *testing.T) {
		if NewScaffoldData(Request{}).Year == 0 {
			t.Error("Year should not be zero")
		}
	})
}

func TestGeneratePlugin(t *testing.T) {
	fsys := afero.NewMemMapFs()
	out := "/work/docs"

	result, err := Generate(context.Background(), nil, Request{
		Kind: KindPlugin, Name: "docs", OutputDir: out, HostVersion: "1.0.0",
	}, WithFs(fsys))
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	files := append([]string(nil), result.Files...)
	sort.Strings(files)
	want := []string{"README.md", "hello.yaml", "plugin.yaml"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("Files = %v, want %v", files, want)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}

	data, err := afero.ReadFile(fsys, filepath.Join(out, "plugin.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := manifest.ParseBytes(data, "plugin.yaml")
	if err != nil {
		t.Fatalf("generated plugin.yaml does not parse: %v", err)
	}
	pm := parsed.(*manifest.PluginManifest)
	if pm.Name != "docs" || pm.Requires != ">= 1.0.0" || pm.Commands[0].Pipeline != "hello.yaml" {
		t.Errorf("plugin manifest = %+v", pm)
	}
}

func TestGeneratePipeline(t *testing.T) {
	fsys := afero.NewMemMapFs()
	result, err := Generate(context.Background(), nil, Request{
		Kind: KindPipeline, Name: "release", OutputDir: "/work",
	}, WithFs(fsys))
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if !reflect.DeepEqual(result.Files, []string{"release.yaml"}) {
		t.Fatalf("Files = %v, want [release.yaml]", result.Files)
	}

	data, err := afero.ReadFile(fsys, "/work/release.yaml")
	if err != nil {
		t.Fatal(err)
	}
	res, err := manifest.Validate(data)
	if err != nil || !res.Valid {
		t.Fatalf("generated pipeline invalid: %v %+v", err, res)
	}
}

func TestGenerate_Aborts(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		phase lifecycle.Phase
	}{
		{"bad name", Request{Kind: KindPlugin, Name: "Bad_Name", OutputDir: "/out"}, lifecycle.PhaseValidate},
		{"unknown kind", Request{Kind: "widget", Name: "w", OutputDir: "/out"}, lifecycle.PhaseValidate},
		{"no output dir", Request{Kind: KindPlugin, Name: "p"}, lifecycle.PhaseValidate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			_, err := Generate(context.Background(), nil, tt.req, WithFs(fsys))

			var abortErr *AbortError
			if !errors.As(err, &abortErr) {
				t.Fatalf("error = %v, want *AbortError", err)
			}
			if abortErr.Phase != tt.phase {
				t.Errorf("Phase = %q, want %q", abortErr.Phase, tt.phase)
			}
			if exists, _ := afero.Exists(fsys, "/out"); exists {
				t.Error("output directory created despite abort")
			}
		})
	}
}

func TestGenerate_NonEmptyDirIsKept(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/work/docs/keep.txt", []byte("mine"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Generate(context.Background(), nil, Request{Kind: KindPlugin, Name: "docs", OutputDir: "/work/docs"}, WithFs(fsys))
	var abortErr *AbortError
	if !errors.As(err, &abortErr) || abortErr.Phase != lifecycle.PhasePrepare {
		t.Fatalf("error = %v, want abort during prepare", err)
	}
	if ok, _ := afero.Exists(fsys, "/work/docs/keep.txt"); !ok {
		t.Error("existing file was removed")
	}
}

func TestGeneratePipeline_ExistingDir(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/repo/go.mod", []byte("module x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Generate(context.Background(), nil, Request{Kind: KindPipeline, Name: "ci", OutputDir: "/repo"}, WithFs(fsys)); err != nil {
		t.Fatalf("Generate() into a populated dir: %v", err)
	}

	// A second run would overwrite ci.yaml.
	_, err := Generate(context.Background(), nil, Request{Kind: KindPipeline, Name: "ci", OutputDir: "/repo"}, WithFs(fsys))
	var abortErr *AbortError
	if !errors.As(err, &abortErr) || abortErr.Phase != lifecycle.PhasePrepare {
		t.Fatalf("error = %v, want abort during prepare", err)
	}
}

func TestGeneratePipeline_AbortRemovesOnlyWrittenFiles(t *testing.T) {
	bus := hooks.NewBus()
	bus.Hook(lifecycle.PhaseFinalize.HookName(), func(_ context.Context, args ...any) error {
		args[0].(*lifecycle.Context).Abort("rejected")
		return nil
	})
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/repo/go.mod", []byte("module x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Generate(context.Background(), bus, Request{Kind: KindPipeline, Name: "ci", OutputDir: "/repo"}, WithFs(fsys))
	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("error = %v, want *AbortError", err)
	}
	if ok, _ := afero.Exists(fsys, "/repo/ci.yaml"); ok {
		t.Error("generated file left behind after abort")
	}
	if ok, _ := afero.Exists(fsys, "/repo/go.mod"); !ok {
		t.Error("pre-existing file was removed")
	}
}

func TestGenerate_ListenerAbortCleansUp(t *testing.T) {
	bus := hooks.NewBus()
	bus.Hook(lifecycle.PhaseGenerate.HookName(), func(_ context.Context, args ...any) error {
		args[0].(*lifecycle.Context).Abort("policy forbids plugins named docs")
		return nil
	})

	fsys := afero.NewMemMapFs()
	_, err := Generate(context.Background(), bus, Request{Kind: KindPlugin, Name: "docs", OutputDir: "/work/docs"}, WithFs(fsys))
	var abortErr *AbortError
	if !errors.As(err, &abortErr) || abortErr.Reason != "policy forbids plugins named docs" {
		t.Fatalf("error = %v, want listener abort", err)
	}
	if exists, _ := afero.Exists(fsys, "/work/docs"); exists {
		t.Error("output directory left behind after abort")
	}
}

func TestGenerate_ObserversSeePhases(t *testing.T) {
	bus := hooks.NewBus()
	var phases []string
	for _, p := range lifecycle.Phases() {
		bus.Hook(p.HookName(), func(_ context.Context, args ...any) error {
			phases = append(phases, string(args[0].(*lifecycle.Context).Phase))
			return nil
		})
	}

	_, err := Generate(context.Background(), bus, Request{Kind: KindPipeline, Name: "ci", OutputDir: "/w"}, WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	want := []string{"init", "validate", "prepare", "execute", "transform", "generate", "finalize", "cleanup"}
	if !reflect.DeepEqual(phases, want) {
		t.Errorf("phases = %v, want %v", phases, want)
	}

	// Per-run listeners are removed afterwards.
	for _, p := range lifecycle.Phases() {
		if n := bus.Count(p.HookName()); n != 1 {
			t.Errorf("%s has %d listeners after Generate, want 1", p.HookName(), n)
		}
	}
}

func TestGenerate_RealFilesystem(t *testing.T) {
	out := filepath.Join(t.TempDir(), "docs")
	result, err := Generate(context.Background(), nil, Request{Kind: KindPlugin, Name: "docs", OutputDir: out})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if _, err := manifest.ParsePlugin(filepath.Join(out, "plugin.yaml")); err != nil {
		t.Errorf("ParsePlugin error: %v", err)
	}
	if result.OutputDir != out {
		t.Errorf("OutputDir = %q, want %q", result.OutputDir, out)
	}
}
