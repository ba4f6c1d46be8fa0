// Package config provides configuration loading for the fishguard CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/evaluation"
	"github.com/hed1ad/fishguard/pkg/features"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Log        LogConfig        `yaml:"log"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Features   features.Config  `yaml:"features"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Report     ReportConfig     `yaml:"report"`
}

// LogConfig holds the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DatasetConfig locates input imagery.
type DatasetConfig struct {
	RGBDir      string `yaml:"rgb_dir"`
	SpectralDir string `yaml:"spectral_dir"`
	LabelDir    string `yaml:"label_dir"`
	// NormalDir holds genuine healthy images; when empty, pseudo-normals
	// are synthesized for evaluation.
	NormalDir string `yaml:"normal_dir"`
	Limit     int    `yaml:"limit"`
	MaxBands  int    `yaml:"max_bands"`
	CacheSize int    `yaml:"cache_size"`
	// HoldOut is the fraction of the RGB set kept out of calibration.
	HoldOut float64 `yaml:"hold_out"`
	Seed    int64   `yaml:"seed"`
}

// ScorerConfig selects the scorer kind and its parameters.
type ScorerConfig struct {
	Name             string `yaml:"name"`
	detectors.Config `yaml:",inline"`
}

// EnsembleConfig enables combining several scorer kinds.
type EnsembleConfig struct {
	Members  []string  `yaml:"members"`
	Mode     string    `yaml:"mode"`
	Weights  []float64 `yaml:"weights"`
	TieBreak string    `yaml:"tie_break"`
}

// EvaluationConfig holds harness settings.
type EvaluationConfig struct {
	ReferenceClass evaluation.ReferenceClass `yaml:"reference_class"`
	Workers        int                       `yaml:"workers"`
	PseudoSources  int                       `yaml:"pseudo_sources"`
}

// ReportConfig locates the evaluation report store.
type ReportConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	for _, p := range []*string{
		&cfg.Log.File,
		&cfg.Dataset.RGBDir,
		&cfg.Dataset.SpectralDir,
		&cfg.Dataset.LabelDir,
		&cfg.Dataset.NormalDir,
		&cfg.Features.ONNX.ModelPath,
		&cfg.Report.DatabasePath,
	} {
		*p = expandPath(*p, configDir)
	}

	return &cfg, nil
}

// Validate rejects settings that no component can honor.
func (c *Config) Validate() error {
	if c.Scorer.Contamination < 0 || c.Scorer.Contamination >= 0.5 {
		return fmt.Errorf("scorer.contamination must be in [0, 0.5), got %v", c.Scorer.Contamination)
	}
	if c.Dataset.HoldOut < 0 || c.Dataset.HoldOut >= 1 {
		return fmt.Errorf("dataset.hold_out must be in [0, 1), got %v", c.Dataset.HoldOut)
	}
	if _, err := detectors.ParseKind(c.Scorer.Name); err != nil {
		return err
	}
	for _, m := range c.Ensemble.Members {
		kind, err := detectors.ParseKind(m)
		if err != nil {
			return fmt.Errorf("ensemble member: %w", err)
		}
		if kind == detectors.KindEnsemble {
			return fmt.Errorf("ensemble member cannot be %q", m)
		}
	}
	if len(c.Ensemble.Weights) > 0 && len(c.Ensemble.Weights) != len(c.Ensemble.Members) {
		return fmt.Errorf("ensemble has %d weights for %d members", len(c.Ensemble.Weights), len(c.Ensemble.Members))
	}
	return nil
}

// expandPath makes relative paths relative to configDir and expands a
// leading "~/" to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
