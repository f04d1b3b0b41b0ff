package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/go-emom/emotion"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "emom.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// TestLoadDefaults tests that defaults alone produce a valid configuration
func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != "data" || cfg.StagingDirName != "temp" {
		t.Errorf("Unexpected paths: data_dir=%q staging=%q", cfg.DataDir, cfg.StagingDirName)
	}
	if cfg.Split.TestSize != 0.2 || !cfg.Split.Stratify || !cfg.Split.Shuffle || cfg.Split.Seed != 42 {
		t.Errorf("Unexpected split defaults: %+v", cfg.Split)
	}
	if cfg.Quarantine.Threshold != 0.6 || cfg.Quarantine.TopOnly {
		t.Errorf("Unexpected quarantine defaults: %+v", cfg.Quarantine)
	}
	if cfg.Detector.Timeout != 30*time.Second {
		t.Errorf("Expected 30s detector timeout, got %v", cfg.Detector.Timeout)
	}
	if cfg.Loader.ImageSize != 48 || cfg.Loader.Channels != 1 {
		t.Errorf("Unexpected loader geometry: %+v", cfg.Loader)
	}

	folders, err := cfg.Folders()
	if err != nil {
		t.Fatal(err)
	}
	if l, _ := folders.Lookup("happiness"); l != emotion.Happy {
		t.Errorf("Default folder map should resolve happiness, got %q", l)
	}
}

// TestLoadFile tests YAML overrides on top of defaults
func TestLoadFile(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	path := writeConfig(t, `
data_dir: /srv/faces
split:
  test_size: 0.25
  stratify: false
detector:
  base_url: http://detector:9000
  timeout: 5s
folder_map:
  joy: happy
  rage: angry
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != "/srv/faces" {
		t.Errorf("Expected data_dir override, got %q", cfg.DataDir)
	}
	if cfg.Split.TestSize != 0.25 || cfg.Split.Stratify {
		t.Errorf("Expected split override, got %+v", cfg.Split)
	}
	if !cfg.Split.Shuffle {
		t.Error("Unset fields should keep their defaults")
	}
	if cfg.Detector.BaseURL != "http://detector:9000" || cfg.Detector.Timeout != 5*time.Second {
		t.Errorf("Unexpected detector config: %+v", cfg.Detector)
	}
	if cfg.SidecarConfig().Timeout != 5*time.Second {
		t.Error("SidecarConfig should carry the timeout")
	}

	folders, err := cfg.Folders()
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 2 {
		t.Errorf("Expected 2 folder map entries, got %d", len(folders))
	}
	if l, _ := folders.Lookup("JOY"); l != emotion.Happy {
		t.Errorf("Expected joy -> happy, got %q", l)
	}
}

// TestLoadEnv tests that environment variables take priority over the file
func TestLoadEnv(t *testing.T) {
	path := writeConfig(t, "split:\n  test_size: 0.3\n")
	t.Setenv(PathEnvVar, path)
	t.Setenv("EMOM_SPLIT_TEST_SIZE", "0.4")
	t.Setenv("EMOM_SPLIT_SEED", "7")
	t.Setenv("EMOM_DATA_DIR", "/tmp/emom")
	t.Setenv("EMOM_QUARANTINE_TOP_ONLY", "true")
	t.Setenv("EMOM_NOT_A_SETTING", "ignored")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Split.TestSize != 0.4 {
		t.Errorf("Expected env test size 0.4, got %v", cfg.Split.TestSize)
	}
	if cfg.Split.Seed != 7 || cfg.DataDir != "/tmp/emom" || !cfg.Quarantine.TopOnly {
		t.Errorf("Env overrides not applied: %+v", cfg)
	}

	opts := cfg.SplitOptions()
	if opts.TestSize != 0.4 || opts.Seed != 7 {
		t.Errorf("SplitOptions not converted: %+v", opts)
	}
}

// TestLoadValidation tests rejected configurations
func TestLoadValidation(t *testing.T) {
	t.Setenv(PathEnvVar, "")

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"TestSizeTooLarge", "split:\n  test_size: 1.0\n", "TestSize"},
		{"TestSizeZero", "split:\n  test_size: 0\n", "TestSize"},
		{"BadThreshold", "quarantine:\n  threshold: 1.5\n", "Threshold"},
		{"BadChannels", "loader:\n  channels: 2\n", "Channels"},
		{"BadLogFormat", "log:\n  format: xml\n", "Format"},
		{"StagingWithSlash", "staging_dir_name: a/b\n", "StagingDirName"},
		{"UnknownFolderTarget", "folder_map:\n  joy: elated\n", "elated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error %q should mention %q", err, tt.errMsg)
			}
		})
	}

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Expected error for missing config file")
		}
	})
}
