package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const noDevirtTomlMessage = "no devirt.toml found\nplease specify the summaries explicitly, e.g.:\n  devirt analyze lib1.dvm lib2.dvm"

type projectManifest struct {
	Path   string
	Root   string
	Config projectConfig
}

type projectConfig struct {
	Package packageConfig `toml:"package"`
	Analyze analyzeConfig `toml:"analyze"`
}

type packageConfig struct {
	Name string `toml:"name"`
}

type analyzeConfig struct {
	// Libraries lists the module summary files to link, relative to the
	// manifest directory.
	Libraries []string `toml:"libraries"`
}

func findDevirtToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "devirt.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func loadProjectManifest(startDir string) (*projectManifest, bool, error) {
	manifestPath, ok, err := findDevirtToml(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	var cfg projectConfig
	if _, err := toml.DecodeFile(manifestPath, &cfg); err != nil {
		return nil, true, fmt.Errorf("failed to parse %s: %w", manifestPath, err)
	}
	return &projectManifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

// summaryPaths resolves the manifest's library list against its root.
func (m *projectManifest) summaryPaths() []string {
	out := make([]string, 0, len(m.Config.Analyze.Libraries))
	for _, lib := range m.Config.Analyze.Libraries {
		if filepath.IsAbs(lib) {
			out = append(out, lib)
			continue
		}
		out = append(out, filepath.Join(m.Root, lib))
	}
	return out
}
