// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package workflow

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// Config is the transport shape a workflow is constructible from and
// serializable to. Step dependencies and payload ride in each step's opaque
// config map under well-known keys.
type Config struct {
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []StepConfig `yaml:"steps" json:"steps"`
}

// StepConfig is one step of the transport shape.
type StepConfig struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Config      map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// dependsOnKey holds the step's dependency list inside its config map.
const dependsOnKey = "depends_on"

// DependsOn extracts the dependency ids from the step's config map.
func (sc StepConfig) DependsOn() []string {
	raw, ok := sc.Config[dependsOnKey]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		deps := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				deps = append(deps, s)
			}
		}
		return deps
	default:
		return nil
	}
}

// ParseConfig decodes a workflow config from YAML or JSON.
func ParseConfig(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, errors.Newf(errors.CodeInvalidInput, "empty workflow config")
	}
	var cfg Config
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "parse workflow config", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "parse workflow config", err)
		}
	}
	if cfg.Name == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "workflow config has no name")
	}
	return &cfg, nil
}

// EncodeYAML serializes the config to YAML.
func (c *Config) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// EncodeJSON serializes the config to JSON. Pretty adds indentation.
func (c *Config) EncodeJSON(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(c, "", "  ")
	}
	return json.Marshal(c)
}

// StepResolver supplies the executable function for a declared step; the
// engine cannot run a workflow whose steps are configuration only.
type StepResolver func(sc StepConfig) (StepFunc, error)

// Build turns the config into an executable workflow, resolving each step's
// function and validating the dependency graph.
func (c *Config) Build(resolve StepResolver) (*Workflow, error) {
	if resolve == nil {
		return nil, errors.Newf(errors.CodeConfiguration, "workflow %s: no step resolver", c.Name)
	}
	w := New(c.Name)
	w.Description = c.Description
	for _, sc := range c.Steps {
		fn, err := resolve(sc)
		if err != nil {
			return nil, errors.New(errors.CodeConfiguration, "workflow "+c.Name+": resolve step "+sc.Name, err)
		}
		step := &Step{
			ID:           sc.Name,
			Name:         sc.Name,
			Description:  sc.Description,
			Fn:           fn,
			Dependencies: sc.DependsOn(),
			Config:       sc.Config,
		}
		if err := w.AddStep(step); err != nil {
			return nil, err
		}
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// ToConfig serializes a workflow back into the transport shape.
func ToConfig(w *Workflow) *Config {
	cfg := &Config{Name: w.Name, Description: w.Description}
	for _, s := range w.Steps() {
		stepCfg := make(map[string]interface{}, len(s.Config)+1)
		for k, v := range s.Config {
			stepCfg[k] = v
		}
		if len(s.Dependencies) > 0 {
			stepCfg[dependsOnKey] = s.Dependencies
		}
		if len(stepCfg) == 0 {
			stepCfg = nil
		}
		cfg.Steps = append(cfg.Steps, StepConfig{
			Name:        s.Name,
			Description: s.Description,
			Config:      stepCfg,
		})
	}
	return cfg
}
