package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "50ms" or "2s".
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

// Config is the handmon YAML configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Port is the serial port path; empty means USB scan.
	Port string `yaml:"port"`

	// SerialNumber narrows the USB scan to one unit.
	SerialNumber string `yaml:"serial_number"`

	// SampleInterval is how often the dashboard snapshots telemetry.
	SampleInterval Duration `yaml:"sample_interval"`

	// AllowOrigins lists CORS origins; empty allows all.
	AllowOrigins []string `yaml:"allow_origins"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen:         ":8080",
		SampleInterval: Duration(20 * time.Millisecond),
	}
}

// LoadConfig reads a YAML configuration file, filling unset fields with
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to parse config")
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.SampleInterval <= 0 {
		return cfg, errors.New("sample_interval must be positive")
	}
	return cfg, nil
}
