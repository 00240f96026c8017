package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// AgentSpec declares one agent in the agents file. Tool names refer to
// capabilities registered in the gateway (built-ins and, when configured,
// the MCP toolset).
type AgentSpec struct {
	ID            string   `yaml:"id"`
	Description   string   `yaml:"description"`
	SystemMessage string   `yaml:"system_message"`
	Root          bool     `yaml:"root"`
	Tools         []string `yaml:"tools"`
}

// AgentsFile is the parsed AGENTS_CONFIG document.
type AgentsFile struct {
	Agents []AgentSpec `yaml:"agents"`
}

// LoadAgentsFile reads and decodes an agents YAML file. Env references in
// string values are expanded before decoding, so prompts can pull in
// deployment-specific fragments.
func LoadAgentsFile(path string) (*AgentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file %s: %w", path, err)
	}
	return ParseAgentsFile(data)
}

// ParseAgentsFile decodes agents YAML bytes.
func ParseAgentsFile(data []byte) (*AgentsFile, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}

	expanded, _ := ExpandEnvVarsInData(raw).(map[string]any)

	var file AgentsFile
	if err := decodeAgentsFile(expanded, &file); err != nil {
		return nil, err
	}

	if err := file.validate(); err != nil {
		return nil, err
	}

	return &file, nil
}

func decodeAgentsFile(input map[string]any, output *AgentsFile) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode agents file: %w", err)
	}

	return nil
}

func (f *AgentsFile) validate() error {
	seen := make(map[string]bool, len(f.Agents))
	roots := 0
	for i, a := range f.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if strings.TrimSpace(a.SystemMessage) == "" {
			return fmt.Errorf("agent %s: system_message is required", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("agent %s declared twice", a.ID)
		}
		seen[a.ID] = true
		if a.Root {
			roots++
		}
	}
	if roots > 1 {
		return fmt.Errorf("at most one agent may set root: true, got %d", roots)
	}
	return nil
}
