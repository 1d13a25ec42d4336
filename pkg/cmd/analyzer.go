package cmd

import (
	"log/slog"

	"github.com/liuchzzyy/paperflow/pkg/analysis"
	"github.com/liuchzzyy/paperflow/pkg/analysis/anthropic"
)

// NewAnalyzer builds the Anthropic-backed analyzer and loads its tuning from
// the optional YAML settings file.
func NewAnalyzer(logger *slog.Logger, apiKey, settingsPath string) (analysis.Analyzer, analysis.Settings, error) {
	settings, err := analysis.LoadSettings(settingsPath)
	if err != nil {
		return nil, settings, err
	}

	analyzer, err := anthropic.New(apiKey, logger)
	if err != nil {
		return nil, settings, err
	}

	return analyzer, settings, nil
}
