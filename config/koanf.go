package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tsawler/go-emom/curation"
	"github.com/tsawler/go-emom/detector"
	"github.com/tsawler/go-emom/vision/dataloader"
	"github.com/tsawler/go-emom/vision/preprocessing"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "EMOM_"

// PathEnvVar overrides the config file location
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultConfigPaths lists the config files searched, in order, when no path is given
var DefaultConfigPaths = []string{
	"emom.yaml",
	"emom.yml",
}

// Default returns the built-in configuration
func Default() *Config {
	split := curation.DefaultSplitOptions()
	sidecar := detector.DefaultSidecarConfig()

	return &Config{
		DataDir:        "data",
		StagingDirName: curation.DefaultStagingName,
		Split: SplitConfig{
			TestSize: split.TestSize,
			Stratify: split.Stratify,
			Shuffle:  split.Shuffle,
			Seed:     split.Seed,
		},
		Quarantine: QuarantineConfig{
			Threshold: curation.DefaultThreshold,
		},
		Detector: DetectorConfig{
			BaseURL:          sidecar.BaseURL,
			Timeout:          sidecar.Timeout,
			RatePerSecond:    sidecar.RatePerSecond,
			Burst:            sidecar.Burst,
			FailureThreshold: sidecar.FailureThreshold,
			OpenTimeout:      sidecar.OpenTimeout,
		},
		Loader: LoaderConfig{
			BatchSize: 64,
			ImageSize: preprocessing.DefaultImageSize,
			Channels:  preprocessing.DefaultChannels,
			Workers:   4,
			CacheSize: dataloader.DefaultCacheSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or the
// first file found via EMOM_CONFIG and DefaultConfigPaths when path is empty),
// and EMOM_* environment variables, in increasing priority.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	envKeys := envKeyMap(k.Keys())

	// Layer 2: config file
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment
	transform := func(key string) string {
		return envKeys[key]
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKeyMap maps environment variable names to config paths, e.g.
// EMOM_SPLIT_TEST_SIZE -> split.test_size. Variables with no mapping are ignored.
func envKeyMap(keys []string) map[string]string {
	m := make(map[string]string, len(keys))
	for _, key := range keys {
		m[EnvPrefix+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return m
}

// findConfigFile returns the first existing config file, or "" if there is none
func findConfigFile() string {
	if envPath := os.Getenv(PathEnvVar); envPath != "" {
		return envPath
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
