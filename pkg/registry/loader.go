// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ergonlabs/ergon/pkg/agent"
	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/workflow"
)

// manifestHeader sniffs the kind discriminator of a manifest file.
type manifestHeader struct {
	Kind string `yaml:"kind" json:"kind"`
}

// LoadFromDirectory walks dir recursively, registering every agent and
// workflow manifest it finds (.yaml, .yml, .json). Files whose base name
// starts with "_" are skipped; a file that fails to parse is logged and
// skipped, never fatal to the batch. Returns the number of artifacts
// registered.
func (r *Registry) LoadFromDirectory(dir string) (int, error) {
	loaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), "_") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), "_") || !isManifestFile(d.Name()) {
			return nil
		}
		if loadErr := r.loadManifestFile(path); loadErr != nil {
			r.logger.Warn("skipping manifest", "path", path, "error", loadErr)
			return nil
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, errors.New(errors.CodeInvalidInput, "walk manifest directory "+dir, err)
	}
	return loaded, nil
}

func isManifestFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

func (r *Registry) loadManifestFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var header manifestHeader
	// YAML is a superset of JSON here, so one sniff covers both.
	if err := yaml.Unmarshal(data, &header); err != nil {
		return errors.New(errors.CodeInvalidInput, "unreadable manifest", err)
	}

	switch header.Kind {
	case agent.ManifestKind:
		manifest, err := agent.ParseManifest(data)
		if err != nil {
			return err
		}
		built, err := manifest.Build(r.ToolResolver())
		if err != nil {
			return err
		}
		r.RegisterAgent(built)
		return nil
	case "workflow":
		cfg, err := workflow.ParseConfig(data)
		if err != nil {
			return err
		}
		r.RegisterWorkflow(cfg)
		return nil
	default:
		return errors.Newf(errors.CodeInvalidInput, "unknown manifest kind %q", header.Kind)
	}
}
