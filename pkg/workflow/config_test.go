// SPDX-License-Identifier: Apache-2.0
package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergonlabs/ergon/pkg/errors"
)

const sampleConfigYAML = `
name: release
description: Build and publish
steps:
  - name: build
    description: Compile artifacts
    config:
      target: linux/amd64
  - name: test
    config:
      depends_on: [build]
  - name: publish
    config:
      depends_on: [build, test]
      channel: stable
`

func TestParseConfigYAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Name)
	require.Len(t, cfg.Steps, 3)
	assert.Equal(t, []string{"build", "test"}, cfg.Steps[2].DependsOn())
	assert.Equal(t, "stable", cfg.Steps[2].Config["channel"])
	assert.Empty(t, cfg.Steps[0].DependsOn())
}

func TestParseConfigJSON(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"name":"mini","steps":[{"name":"only","config":{"depends_on":[]}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "mini", cfg.Name)
	assert.Empty(t, cfg.Steps[0].DependsOn())
}

func TestParseConfigRejects(t *testing.T) {
	_, err := ParseConfig(nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))

	_, err = ParseConfig([]byte("steps: []\n"))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput), "missing name")

	_, err = ParseConfig([]byte("{not json"))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestConfigBuildAndExecute(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfigYAML))
	require.NoError(t, err)

	w, err := cfg.Build(func(sc StepConfig) (StepFunc, error) {
		name := sc.Name
		return func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"step": name}, nil
		}, nil
	})
	require.NoError(t, err)

	results, err := NewEngine().Execute(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, w.Status())
	assert.Equal(t, "publish", results["publish"].Data["step"])
}

func TestConfigBuildResolverFailure(t *testing.T) {
	cfg := &Config{Name: "x", Steps: []StepConfig{{Name: "a"}}}
	_, err := cfg.Build(func(StepConfig) (StepFunc, error) {
		return nil, errors.Newf(errors.CodeNotFound, "no such step type")
	})
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))

	_, err = cfg.Build(nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestConfigBuildDetectsCycle(t *testing.T) {
	cfg := &Config{Name: "loop", Steps: []StepConfig{
		{Name: "a", Config: map[string]interface{}{"depends_on": []interface{}{"b"}}},
		{Name: "b", Config: map[string]interface{}{"depends_on": []interface{}{"a"}}},
	}}
	_, err := cfg.Build(func(StepConfig) (StepFunc, error) {
		return constStep(nil), nil
	})
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestConfigRoundTrip(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfigYAML))
	require.NoError(t, err)

	w, err := cfg.Build(func(StepConfig) (StepFunc, error) { return constStep(nil), nil })
	require.NoError(t, err)

	back := ToConfig(w)
	assert.Equal(t, cfg.Name, back.Name)
	assert.Equal(t, cfg.Description, back.Description)
	require.Len(t, back.Steps, len(cfg.Steps))
	for i := range cfg.Steps {
		assert.Equal(t, cfg.Steps[i].Name, back.Steps[i].Name)
		assert.ElementsMatch(t, cfg.Steps[i].DependsOn(), back.Steps[i].DependsOn())
	}

	// Serialized form parses again.
	raw, err := back.EncodeYAML()
	require.NoError(t, err)
	again, err := ParseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, back.Name, again.Name)

	rawJSON, err := back.EncodeJSON(true)
	require.NoError(t, err)
	againJSON, err := ParseConfig(rawJSON)
	require.NoError(t, err)
	assert.Equal(t, back.Name, againJSON.Name)
}
