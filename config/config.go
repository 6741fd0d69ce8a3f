// Package config loads the YAML configuration shared by the executor, the
// logger and the rediff updater.
package config

import (
	"os"
	"time"

	"github.com/RuiFG/trywait/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

// DefaultPostpone matches the delay before a progress indicator is shown.
const DefaultPostpone = 300 * time.Millisecond

type Config struct {
	Executor Executor `yaml:"executor"`
	Log      Log      `yaml:"log"`
	Rediff   Rediff   `yaml:"rediff"`
}

type Executor struct {
	Workers int   `yaml:"workers"`
	NodeID  int64 `yaml:"node_id"`
}

type Log struct {
	Level      string `yaml:"level"`
	Encoder    string `yaml:"encoder"`
	Stacktrace bool   `yaml:"stacktrace"`
	Name       string `yaml:"name"`
}

type Rediff struct {
	Enabled bool `yaml:"enabled"`
	// Debounce delays a rediff after changes are scheduled.
	Debounce time.Duration `yaml:"debounce"`
	// Postpone is the grace period of a try-sync rediff.
	Postpone time.Duration `yaml:"postpone"`
}

func Default() Config {
	return Config{
		Executor: Executor{Workers: 0, NodeID: 1},
		Log:      Log{Level: "info", Encoder: "json", Name: "trywait"},
		Rediff:   Rediff{Enabled: true, Debounce: DefaultPostpone, Postpone: DefaultPostpone},
	}
}

// Parse overlays data on top of Default.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

func (c Config) Validate() error {
	switch {
	case c.Executor.Workers < 0:
		return errors.WithMessage(ErrInvalid, "executor.workers must not be negative")
	case c.Executor.NodeID < 0 || c.Executor.NodeID > 1023:
		return errors.WithMessage(ErrInvalid, "executor.node_id must be within 0..1023")
	case c.Rediff.Debounce < 0 || c.Rediff.Postpone < 0:
		return errors.WithMessage(ErrInvalid, "rediff durations must not be negative")
	case c.Log.Encoder != "json" && c.Log.Encoder != "console":
		return errors.WithMessagef(ErrInvalid, "unknown log encoder %q", c.Log.Encoder)
	}
	return nil
}

// LogOptions converts the log section into logger options.
func (c Config) LogOptions() *log.Options {
	return log.DefaultOptions().
		WithLevel(log.ParseLevel(c.Log.Level)).
		WithOutputEncoder(log.ParseOutputEncoder(c.Log.Encoder)).
		WithStacktrace(c.Log.Stacktrace).
		WithNamed(c.Log.Name)
}
