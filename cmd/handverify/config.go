package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "5s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "bad duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the handverify YAML configuration. Command-line flags
// override individual fields.
type Config struct {
	Port         string   `yaml:"port"`
	SerialNumber string   `yaml:"serial_number"`
	Duration     Duration `yaml:"duration"`
	Output       string   `yaml:"output"`
	MinRateHz    float64  `yaml:"min_rate_hz"`
	MaxRateHz    float64  `yaml:"max_rate_hz"`
	MinSyncRatio float64  `yaml:"min_sync_ratio"`
	AmplitudeRad float64  `yaml:"amplitude_rad"`
}

// DefaultConfig returns the run parameters used without a config file.
// The rate window brackets the nominal 1 kHz stream with 10% slack on
// either side; 95% of change events must carry position and effort
// together.
func DefaultConfig() Config {
	return Config{
		Duration:     Duration(5 * time.Second),
		Output:       "handverify.csv",
		MinRateHz:    900,
		MaxRateHz:    1100,
		MinSyncRatio: 0.95,
		AmplitudeRad: 0.15,
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to parse config")
	}
	if cfg.Duration <= 0 {
		return cfg, errors.New("duration must be positive")
	}
	if cfg.AmplitudeRad < 0 {
		return cfg, errors.New("amplitude_rad must be >= 0")
	}
	if cfg.MaxRateHz < cfg.MinRateHz {
		return cfg, errors.New("max_rate_hz must be >= min_rate_hz")
	}
	return cfg, nil
}
