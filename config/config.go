// Package config loads the curation pipeline configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// EMOM_* environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tsawler/go-emom/curation"
	"github.com/tsawler/go-emom/detector"
	"github.com/tsawler/go-emom/emotion"
)

// Config is the complete pipeline configuration
type Config struct {
	DataDir        string            `koanf:"data_dir" validate:"required"`
	StagingDirName string            `koanf:"staging_dir_name" validate:"required,excludesall=/"`
	FolderMap      map[string]string `koanf:"folder_map"`

	Extensions ExtensionsConfig `koanf:"extensions"`
	Split      SplitConfig      `koanf:"split"`
	Quarantine QuarantineConfig `koanf:"quarantine"`
	Detector   DetectorConfig   `koanf:"detector"`
	Loader     LoaderConfig     `koanf:"loader"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// ExtensionsConfig controls the image extension allow-list
type ExtensionsConfig struct {
	FoldCase bool `koanf:"fold_case"`
}

// SplitConfig holds train/test split parameters
type SplitConfig struct {
	TestSize float64 `koanf:"test_size" validate:"gt=0,lt=1"`
	Stratify bool    `koanf:"stratify"`
	Shuffle  bool    `koanf:"shuffle"`
	Seed     uint64  `koanf:"seed"`
}

// QuarantineConfig holds the human-emotion filter parameters
type QuarantineConfig struct {
	Threshold float64 `koanf:"threshold" validate:"gte=0,lte=1"`
	TopOnly   bool    `koanf:"top_only"`
	Copy      bool    `koanf:"copy"`
}

// DetectorConfig configures the detection sidecar client
type DetectorConfig struct {
	BaseURL          string        `koanf:"base_url" validate:"required,url"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSecond    float64       `koanf:"rate_per_second" validate:"gte=0"`
	Burst            int           `koanf:"burst" validate:"gte=1"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

// LoaderConfig configures batch loading of a curated dataset
type LoaderConfig struct {
	BatchSize int `koanf:"batch_size" validate:"gte=1"`
	ImageSize int `koanf:"image_size" validate:"gte=1"`
	Channels  int `koanf:"channels" validate:"oneof=1 3"`
	Workers   int `koanf:"workers" validate:"gte=1"`
	CacheSize int `koanf:"cache_size" validate:"gte=0"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MetricsConfig configures where run counters are written. An empty
// Textfile disables the export.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

var validate = validator.New()

// Validate checks field constraints and the folder map
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if _, err := c.Folders(); err != nil {
		return err
	}
	return nil
}

// Folders returns the configured folder map, or the built-in one when none is set
func (c *Config) Folders() (emotion.FolderMap, error) {
	if len(c.FolderMap) == 0 {
		return emotion.DefaultFolderMap(), nil
	}
	return emotion.NewFolderMap(c.FolderMap)
}

// SplitOptions converts the split section for curation.SplitDataset
func (c *Config) SplitOptions() curation.SplitOptions {
	return curation.SplitOptions{
		TestSize: c.Split.TestSize,
		Stratify: c.Split.Stratify,
		Shuffle:  c.Split.Shuffle,
		Seed:     c.Split.Seed,
	}
}

// SidecarConfig converts the detector section for detector.NewSidecarClient
func (c *Config) SidecarConfig() detector.SidecarConfig {
	return detector.SidecarConfig{
		BaseURL:          c.Detector.BaseURL,
		Timeout:          c.Detector.Timeout,
		RatePerSecond:    c.Detector.RatePerSecond,
		Burst:            c.Detector.Burst,
		FailureThreshold: c.Detector.FailureThreshold,
		OpenTimeout:      c.Detector.OpenTimeout,
	}
}
