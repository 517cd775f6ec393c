//go:build integration

package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cosmic-gao/nexo-machine/internal/blueprint"
	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
)

// testEnv holds paths to isolated test directories.
type testEnv struct {
	HomeDir    string // HOME, so user config lands in a sandbox
	PluginsDir string // Plugin search path
	ProjectDir string // A mock project directory
}

// setupTestEnv creates isolated temp directories and points HOME at one of
// them. The env vars are restored after the test.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		HomeDir:    t.TempDir(),
		PluginsDir: t.TempDir(),
		ProjectDir: t.TempDir(),
	}
	t.Setenv("HOME", env.HomeDir)
	return env
}

// newStack wires a bus, host and builder the way the CLI does.
func newStack(defaults pipeline.Options) (*hooks.Bus, *plugin.Host, *blueprint.Builder) {
	bus := hooks.NewBus()
	host := plugin.NewHost(bus, "1.2.0")
	builder := &blueprint.Builder{Host: host, Defaults: defaults}
	host.SetPipelineRunner(builder.Run)
	return bus, host, builder
}

// writeFile creates a file at the given path with the given content.
func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating dir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// assertFileExists fails the test if the file does not exist.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s (error: %v)", path, err)
	}
}

// assertFileNotExists fails the test if the file exists.
func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file NOT to exist: %s", path)
	}
}

// assertFileContains fails if the file doesn't exist or doesn't contain substr.
func assertFileContains(t *testing.T, path, substr string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading %s: %v", path, err)
		return
	}
	if !strings.Contains(string(data), substr) {
		t.Errorf("file %s does not contain %q.\nContents:\n%s", path, substr, string(data))
	}
}
