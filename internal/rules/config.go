package rules

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config tunes the rule engine. Zero values fall back to defaults so a
// partial YAML file only overrides what it names.
type Config struct {
	// MaxTermYears is the upper bound for a plausible lease term. 999 is the
	// conventional maximum in registry data.
	MaxTermYears float64 `yaml:"max_term_years"`

	// MinStartYear rejects start dates from before the registry era.
	MinStartYear int `yaml:"min_start_year"`

	// ExpiryToleranceDays is how far a recorded expiry may drift from
	// start+term before the expiry field fails.
	ExpiryToleranceDays int `yaml:"expiry_tolerance_days"`

	// Substitutions maps OCR-confused characters to digits, applied inside
	// digit runs only.
	Substitutions map[string]string `yaml:"substitutions"`

	// Disabled lists rule names to skip.
	Disabled []string `yaml:"disabled"`
}

// DefaultConfig returns the built-in rule tuning.
func DefaultConfig() Config {
	return Config{
		MaxTermYears:        999,
		MinStartYear:        1800,
		ExpiryToleranceDays: 10,
		Substitutions: map[string]string{
			"O": "0", "o": "0",
			"l": "1", "I": "1",
			"S": "5", "s": "5",
			"B": "8",
		},
	}
}

// LoadConfig reads rule tuning from a YAML file, returning defaults when the
// path is empty. Named values override defaults; omitted values keep them.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "rules: read config %s", path)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, eris.Wrapf(err, "rules: parse config %s", path)
	}

	if file.MaxTermYears > 0 {
		cfg.MaxTermYears = file.MaxTermYears
	}
	if file.MinStartYear > 0 {
		cfg.MinStartYear = file.MinStartYear
	}
	if file.ExpiryToleranceDays > 0 {
		cfg.ExpiryToleranceDays = file.ExpiryToleranceDays
	}
	if len(file.Substitutions) > 0 {
		cfg.Substitutions = file.Substitutions
	}
	if len(file.Disabled) > 0 {
		cfg.Disabled = file.Disabled
	}
	return cfg, nil
}

func (c Config) disabled(name string) bool {
	for _, d := range c.Disabled {
		if d == name {
			return true
		}
	}
	return false
}
