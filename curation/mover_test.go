package curation

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/spf13/afero"
)

// TestMoveDataset tests relocation into label folders
func TestMoveDataset(t *testing.T) {
	ctx := context.Background()

	t.Run("ParentFolder", func(t *testing.T) {
		p, fs := newMemParser()
		writeFiles(t, fs, "/data/src/a/happy/1.png", "/data/src/sad/2.png")

		report, err := p.MoveDataset(ctx, "src", "dst", nil, MoveOptions{})
		if err != nil {
			t.Fatalf("MoveDataset() error = %v", err)
		}
		if len(report.Placed) != 2 {
			t.Fatalf("Expected 2 placed files, got %v", report.Placed)
		}
		for _, want := range []string{"/data/dst/happy/1.png", "/data/dst/sad/2.png"} {
			if !exists(fs, want) {
				t.Errorf("Expected %s", want)
			}
		}
		if exists(fs, "/data/src") {
			t.Error("Emptied source tree should be pruned")
		}
		if len(report.Pruned) == 0 {
			t.Error("Expected pruned directories in the report")
		}
	})

	t.Run("PreserveStructure", func(t *testing.T) {
		p, fs := newMemParser()
		writeFiles(t, fs, "/data/src/a/happy/1.png")

		if _, err := p.MoveDataset(ctx, "src", "dst", nil, MoveOptions{PreserveStructure: true}); err != nil {
			t.Fatalf("MoveDataset() error = %v", err)
		}
		if !exists(fs, "/data/dst/a/happy/1.png") {
			t.Error("Expected relative path to be preserved")
		}
	})

	t.Run("Copy", func(t *testing.T) {
		p, fs := newMemParser()
		writeFiles(t, fs, "/data/src/happy/1.png")

		report, err := p.MoveDataset(ctx, "src", "dst", nil, MoveOptions{Copy: true})
		if err != nil {
			t.Fatalf("MoveDataset() error = %v", err)
		}
		if !exists(fs, "/data/src/happy/1.png") || !exists(fs, "/data/dst/happy/1.png") {
			t.Error("Copy should leave the source in place")
		}
		if len(report.Pruned) != 0 {
			t.Errorf("Copy should not prune, got %v", report.Pruned)
		}
	})

	t.Run("Collision", func(t *testing.T) {
		p, fs := newMemParser()
		writeFiles(t, fs, "/data/src/happy/1.png")
		if err := afero.WriteFile(fs, "/data/dst/happy/1.png", []byte("original"), 0644); err != nil {
			t.Fatal(err)
		}

		report, err := p.MoveDataset(ctx, "src", "dst", nil, MoveOptions{})
		if err != nil {
			t.Fatalf("MoveDataset() error = %v", err)
		}
		if report.Placed[0] != "/data/dst/happy/1_dup1.png" {
			t.Errorf("Expected _dup1 suffix, got %s", report.Placed[0])
		}
		data, _ := afero.ReadFile(fs, "/data/dst/happy/1.png")
		if string(data) != "original" {
			t.Error("Existing destination file was overwritten")
		}
	})

	t.Run("PartialFailure", func(t *testing.T) {
		p, fs := newMemParser()
		writeFiles(t, fs, "/data/src/happy/1.png")

		paths := []string{"/data/src/happy/missing.png", "/data/src/happy/1.png"}
		report, err := p.MoveDataset(ctx, "src", "dst", paths, MoveOptions{})

		var moveErr *MoveError
		if !errors.As(err, &moveErr) {
			t.Fatalf("Expected MoveError, got %v", err)
		}
		if len(moveErr.Failures) != 1 || moveErr.Total != 2 {
			t.Errorf("Expected 1 of 2 failures, got %d of %d", len(moveErr.Failures), moveErr.Total)
		}
		var fileErr *FileError
		if !errors.As(err, &fileErr) || fileErr.Path != "/data/src/happy/missing.png" {
			t.Errorf("Expected FileError for the missing file, got %v", fileErr)
		}
		if len(report.Placed) != 1 || !exists(fs, "/data/dst/happy/1.png") {
			t.Error("Files after a failure should still be relocated")
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		p, fs := newMemParser()
		writeFiles(t, fs, "/data/src/happy/1.png")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := p.MoveDataset(cctx, "src", "dst", nil, MoveOptions{}); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if !exists(fs, "/data/src/happy/1.png") {
			t.Error("Nothing should move after cancellation")
		}
	})
}

// crossDeviceFs refuses every rename the way a mount boundary does
type crossDeviceFs struct {
	afero.Fs
}

func (crossDeviceFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EXDEV}
}

// TestMoveDatasetCrossDevice tests the copy and remove fallback
func TestMoveDatasetCrossDevice(t *testing.T) {
	p, mem := newMemParser()
	p.Fs = crossDeviceFs{Fs: mem}
	if err := afero.WriteFile(mem, "/data/src/happy/1.png", []byte("face"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := p.MoveDataset(context.Background(), "src", "dst", nil, MoveOptions{})
	if err != nil {
		t.Fatalf("MoveDataset() error = %v", err)
	}

	if len(report.Placed) != 1 || report.Placed[0] != "/data/dst/happy/1.png" {
		t.Fatalf("Unexpected placement: %v", report.Placed)
	}
	if data, _ := afero.ReadFile(mem, "/data/dst/happy/1.png"); string(data) != "face" {
		t.Errorf("Destination content = %q", data)
	}
	if exists(mem, "/data/src/happy/1.png") {
		t.Error("Source should be removed after the copy")
	}
}

// TestDeleteDataset tests that only empty directories are removed
func TestDeleteDataset(t *testing.T) {
	p, fs := newMemParser()
	writeFiles(t, fs, "/data/d/full/1.png")
	if err := fs.MkdirAll("/data/d/empty/nested", 0755); err != nil {
		t.Fatal(err)
	}

	removed := p.DeleteDataset("d")

	if len(removed) != 2 {
		t.Errorf("Expected nested and empty to be removed, got %v", removed)
	}
	if exists(fs, "/data/d/empty") {
		t.Error("Empty directory should be removed")
	}
	if !exists(fs, "/data/d/full/1.png") {
		t.Error("Non-empty directory should be kept")
	}
}
