package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Dataset.MaxBands == 0 {
		cfg.Dataset.MaxBands = 10
	}
	if cfg.Dataset.CacheSize == 0 {
		cfg.Dataset.CacheSize = 256
	}
	if cfg.Dataset.HoldOut == 0 {
		cfg.Dataset.HoldOut = 0.2
	}
	if cfg.Dataset.Seed == 0 {
		cfg.Dataset.Seed = 42
	}
	if cfg.Features.Name == "" {
		cfg.Features.Name = "handcrafted"
	}
	if cfg.Features.Seed == 0 {
		cfg.Features.Seed = 42
	}
	if cfg.Scorer.Name == "" {
		cfg.Scorer.Name = "center-distance"
	}
	if cfg.Scorer.RandomSeed == 0 {
		cfg.Scorer.RandomSeed = 42
	}
	if cfg.Ensemble.Mode == "" {
		cfg.Ensemble.Mode = "weighted-average"
	}
	if cfg.Ensemble.TieBreak == "" {
		cfg.Ensemble.TieBreak = "anomalous"
	}
	if cfg.Evaluation.PseudoSources == 0 {
		cfg.Evaluation.PseudoSources = 5
	}
	if cfg.Report.DatabasePath == "" {
		cfg.Report.DatabasePath = "fishguard.db"
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
