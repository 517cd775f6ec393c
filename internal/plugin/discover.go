package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cosmic-gao/nexo-machine/internal/branding"
	"github.com/cosmic-gao/nexo-machine/internal/manifest"
	"github.com/sourcegraph/conc/iter"
)

// Discovered is a plugin directory found on a search path.
type Discovered struct {
	Dir          string
	ManifestPath string
	// SearchPath is the search path entry the plugin was found under.
	SearchPath string
	Manifest   *manifest.PluginManifest
}

// Discover scans each search path for immediate subdirectories holding a
// plugin manifest. Paths are searched in order and the first plugin with
// a given name wins. Missing search paths are skipped. Manifests that
// fail to parse or validate are left out and reported in the joined
// error, alongside the plugins that did load.
func Discover(paths []string) ([]Discovered, error) {
	var candidates []Discovered
	for _, base := range paths {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue // skip inaccessible search paths
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(base, e.Name())
			mp := filepath.Join(dir, branding.PluginFile())
			if _, err := os.Stat(mp); err != nil {
				continue
			}
			candidates = append(candidates, Discovered{Dir: dir, ManifestPath: mp, SearchPath: base})
		}
	}

	errs := iter.Map(candidates, func(d *Discovered) error {
		m, err := readPluginManifest(d.ManifestPath)
		if err != nil {
			return err
		}
		d.Manifest = m
		return nil
	})

	seen := make(map[string]bool)
	var result []Discovered
	for i, d := range candidates {
		if errs[i] != nil {
			continue
		}
		if seen[d.Manifest.Name] {
			continue
		}
		seen[d.Manifest.Name] = true
		result = append(result, d)
	}
	return result, errors.Join(errs...)
}

func readPluginManifest(path string) (*manifest.PluginManifest, error) {
	res, err := manifest.ValidateFile(path)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest.ParsePlugin(path)
}
