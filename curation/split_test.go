package curation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func labelledPaths(counts map[string]int) []string {
	var paths []string
	for _, label := range []string{"angry", "happy", "sad"} {
		for i := 0; i < counts[label]; i++ {
			paths = append(paths, fmt.Sprintf("/data/ds/%s/%d.png", label, i))
		}
	}
	return paths
}

func countLabels(paths []string) map[string]int {
	counts := make(map[string]int)
	for _, p := range paths {
		counts[labelOf(p)]++
	}
	return counts
}

// TestSplitDatasetStratified tests per-label proportions
func TestSplitDatasetStratified(t *testing.T) {
	paths := labelledPaths(map[string]int{"happy": 10, "sad": 10, "angry": 5})

	train, test, err := SplitDataset(paths, DefaultSplitOptions())
	if err != nil {
		t.Fatalf("SplitDataset() error = %v", err)
	}

	if len(train)+len(test) != len(paths) {
		t.Fatalf("Split lost paths: %d + %d != %d", len(train), len(test), len(paths))
	}
	want := map[string]int{"happy": 2, "sad": 2, "angry": 1}
	if got := countLabels(test); !reflect.DeepEqual(got, want) {
		t.Errorf("Test label counts = %v, want %v", got, want)
	}

	seen := make(map[string]bool)
	for _, p := range append(append([]string{}, train...), test...) {
		if seen[p] {
			t.Errorf("Path %s appears twice", p)
		}
		seen[p] = true
	}
}

// TestSplitDatasetDeterministic tests that a seed fixes the partition
func TestSplitDatasetDeterministic(t *testing.T) {
	paths := labelledPaths(map[string]int{"happy": 10, "sad": 10})
	opts := DefaultSplitOptions()

	train1, test1, err := SplitDataset(paths, opts)
	if err != nil {
		t.Fatal(err)
	}
	train2, test2, err := SplitDataset(paths, opts)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(train1, train2) || !reflect.DeepEqual(test1, test2) {
		t.Error("Same seed should produce the same split")
	}
}

// TestSplitDatasetUnstratified tests the plain split sizes and ordering
func TestSplitDatasetUnstratified(t *testing.T) {
	paths := labelledPaths(map[string]int{"happy": 6, "sad": 4})

	t.Run("Shuffled", func(t *testing.T) {
		train, test, err := SplitDataset(paths, SplitOptions{TestSize: 0.25, Shuffle: true, Seed: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(test) != 3 || len(train) != 7 {
			t.Errorf("Expected 7/3 split, got %d/%d", len(train), len(test))
		}
	})

	t.Run("InOrder", func(t *testing.T) {
		train, test, err := SplitDataset(paths, SplitOptions{TestSize: 0.2})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(train, paths[:8]) || !reflect.DeepEqual(test, paths[8:]) {
			t.Errorf("Unshuffled split should take the tail as test, got test %v", test)
		}
	})
}

// TestSplitDatasetErrors tests parameter validation
func TestSplitDatasetErrors(t *testing.T) {
	paths := labelledPaths(map[string]int{"happy": 4, "sad": 4})

	tests := []struct {
		name  string
		paths []string
		opts  SplitOptions
		param string
	}{
		{"ZeroTestSize", paths, SplitOptions{TestSize: 0}, "test_size"},
		{"FullTestSize", paths, SplitOptions{TestSize: 1}, "test_size"},
		{"NegativeTestSize", paths, SplitOptions{TestSize: -0.1}, "test_size"},
		{"SingletonLabel", labelledPaths(map[string]int{"happy": 4, "sad": 1}), SplitOptions{TestSize: 0.2, Stratify: true}, "stratify"},
		{"TooFewPaths", paths[:1], SplitOptions{TestSize: 0.5}, "paths"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SplitDataset(tt.paths, tt.opts)
			var valueErr *ValueError
			if !errors.As(err, &valueErr) {
				t.Fatalf("Expected ValueError, got %v", err)
			}
			if valueErr.Param != tt.param {
				t.Errorf("Expected param %q, got %q", tt.param, valueErr.Param)
			}
		})
	}
}

// TestSplitAndMove tests splitting a dataset on disk
func TestSplitAndMove(t *testing.T) {
	p, fs := newMemParser()
	for i := 0; i < 5; i++ {
		writeFiles(t, fs, fmt.Sprintf("/data/clean/happy/%d.png", i), fmt.Sprintf("/data/clean/sad/%d.png", i))
	}
	writeFiles(t, fs, "/data/clean/happy/readme.txt")

	result, err := p.SplitAndMove(context.Background(), "clean", DefaultSplitOptions())
	if err != nil {
		t.Fatalf("SplitAndMove() error = %v", err)
	}

	if len(result.Train) != 8 || len(result.Test) != 2 {
		t.Fatalf("Expected 8/2 split, got %d/%d", len(result.Train), len(result.Test))
	}
	for _, path := range result.Test {
		if !exists(fs, path) {
			t.Errorf("Expected %s to exist", path)
		}
	}
	if got := countLabels(result.Test); got["happy"] != 1 || got["sad"] != 1 {
		t.Errorf("Expected one test image per label, got %v", got)
	}

	train, err := ListImages(fs, "/data/clean/train")
	if err != nil || len(train) != 8 {
		t.Errorf("Expected 8 images under train/, got %d (%v)", len(train), err)
	}
	if exists(fs, "/data/clean/sad") {
		t.Error("Emptied label folder should be pruned")
	}
	if !exists(fs, "/data/clean/happy/readme.txt") {
		t.Error("Non-image files should stay where they are")
	}
}
