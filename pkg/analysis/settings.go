package analysis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are a research assistant. Summarize the item below for a literature review:
state the core contribution, the method, the evidence, and open questions.
Be concise and factual; do not invent content that is not in the source.`

// Settings is the YAML-configurable analyzer tuning. Zero values fall back
// to the defaults below.
type Settings struct {
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// DefaultSettings returns the built-in analyzer tuning.
func DefaultSettings() Settings {
	return Settings{
		Model:        "claude-sonnet",
		MaxTokens:    2000,
		Temperature:  0.2,
		SystemPrompt: defaultSystemPrompt,
	}
}

// LoadSettings reads analyzer settings from a YAML file. A missing file
// yields the defaults; set fields override them individually.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}

		return settings, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return settings, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if loaded.Model != "" {
		settings.Model = loaded.Model
	}

	if loaded.MaxTokens > 0 {
		settings.MaxTokens = loaded.MaxTokens
	}

	if loaded.Temperature > 0 {
		settings.Temperature = loaded.Temperature
	}

	if loaded.SystemPrompt != "" {
		settings.SystemPrompt = loaded.SystemPrompt
	}

	return settings, nil
}

// Options converts the settings into per-call analyzer options.
func (s Settings) Options() Options {
	return Options{
		Model:        s.Model,
		MaxTokens:    s.MaxTokens,
		Temperature:  s.Temperature,
		SystemPrompt: s.SystemPrompt,
	}
}
