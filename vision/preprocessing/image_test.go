package preprocessing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"golang.org/x/image/bmp"
)

// createMockImage creates a gradient image for testing
func createMockImage(width, height int, baseColor color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			factor := float64(x+y) / float64(width+height)
			img.Set(x, y, color.RGBA{
				uint8(float64(baseColor.R) * factor),
				uint8(float64(baseColor.G) * factor),
				uint8(float64(baseColor.B) * factor),
				255,
			})
		}
	}
	return img
}

// createTestJPEGFile creates a JPEG file for testing
func createTestJPEGFile(path string, width, height int, baseColor color.RGBA) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, createMockImage(width, height, baseColor), &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// TestNewImageProcessor tests ImageProcessor creation
func TestNewImageProcessor(t *testing.T) {
	processor := NewImageProcessor(0, 0)
	if processor.targetSize != DefaultImageSize {
		t.Errorf("Expected default target size %d, got %d", DefaultImageSize, processor.targetSize)
	}
	if processor.channels != DefaultChannels {
		t.Errorf("Expected default channels %d, got %d", DefaultChannels, processor.channels)
	}

	rgb := NewImageProcessor(64, 3)
	if rgb.Len() != 3*64*64 {
		t.Errorf("Expected length %d, got %d", 3*64*64, rgb.Len())
	}

	// Initial buffers should be nil
	if processor.tempImageBuffer != nil || processor.processBuffer != nil {
		t.Error("Expected nil buffers initially")
	}
}

// TestImageProcessorDecodeAndPreprocess tests decoding across formats
func TestImageProcessorDecodeAndPreprocess(t *testing.T) {
	src := createMockImage(100, 80, color.RGBA{255, 128, 64, 255})

	encoders := map[string]func(*bytes.Buffer) error{
		"JPEG": func(b *bytes.Buffer) error { return jpeg.Encode(b, src, nil) },
		"PNG":  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		"BMP":  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
	}

	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := encode(&buf); err != nil {
				t.Fatalf("Failed to encode %s: %v", name, err)
			}

			processor := NewImageProcessor(48, 1)
			result, err := processor.DecodeAndPreprocess(&buf)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if result.Width != 48 || result.Height != 48 || result.Channels != 1 {
				t.Errorf("Unexpected geometry %dx%dx%d", result.Channels, result.Height, result.Width)
			}
			if len(result.Data) != 48*48 {
				t.Fatalf("Expected %d values, got %d", 48*48, len(result.Data))
			}
			for i, v := range result.Data {
				if v < 0 || v > 1 {
					t.Fatalf("Value %f at %d outside [0, 1]", v, i)
				}
			}
		})
	}

	t.Run("RGB", func(t *testing.T) {
		solid := image.NewRGBA(image.Rect(0, 0, 10, 10))
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				solid.Set(x, y, color.RGBA{255, 0, 0, 255})
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, solid); err != nil {
			t.Fatalf("Failed to encode: %v", err)
		}

		result, err := NewImageProcessor(4, 3).DecodeAndPreprocess(&buf)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		plane := 16
		for i := 0; i < plane; i++ {
			if result.Data[i] != 1 || result.Data[plane+i] != 0 || result.Data[2*plane+i] != 0 {
				t.Fatalf("Expected pure red in CHW layout at %d", i)
			}
		}
	})

	t.Run("InvalidData", func(t *testing.T) {
		_, err := NewImageProcessor(48, 1).DecodeAndPreprocess(strings.NewReader("not an image"))
		if err == nil {
			t.Error("Expected error for invalid image data")
		}
	})
}

// TestImageProcessorBufferIsolation checks returned data is not aliased to the reusable buffer
func TestImageProcessorBufferIsolation(t *testing.T) {
	processor := NewImageProcessor(8, 1)

	first := processor.Preprocess(createMockImage(16, 16, color.RGBA{255, 255, 255, 255}))
	snapshot := append([]float32(nil), first.Data...)

	processor.Preprocess(createMockImage(16, 16, color.RGBA{0, 0, 0, 255}))

	for i := range snapshot {
		if first.Data[i] != snapshot[i] {
			t.Fatal("Processed data changed after reusing the processor")
		}
	}
}

// TestImageProcessorConcurrency tests the processor mutex under concurrent use
func TestImageProcessorConcurrency(t *testing.T) {
	processor := NewImageProcessor(16, 1)
	img := createMockImage(32, 32, color.RGBA{10, 200, 30, 255})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := processor.Preprocess(img); len(got.Data) != 16*16 {
				t.Errorf("Unexpected data length %d", len(got.Data))
			}
		}()
	}
	wg.Wait()
}

// TestPreprocessBatch tests batch preprocessing with a worker limit
func TestPreprocessBatch(t *testing.T) {
	tempDir := t.TempDir()
	fs := afero.NewOsFs()

	var paths []string
	for i := 0; i < 6; i++ {
		path := filepath.Join(tempDir, fmt.Sprintf("image_%d.jpg", i))
		if err := createTestJPEGFile(path, 60, 60, color.RGBA{uint8(40 * i), 100, 200, 255}); err != nil {
			t.Fatalf("Failed to create image: %v", err)
		}
		paths = append(paths, path)
	}

	t.Run("AllValid", func(t *testing.T) {
		results, err := PreprocessBatch(context.Background(), fs, paths, 48, 1, 3)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(results) != len(paths) {
			t.Fatalf("Expected %d results, got %d", len(paths), len(results))
		}
		for i, r := range results {
			if r == nil || len(r.Data) != 48*48 {
				t.Errorf("Result %d has unexpected shape", i)
			}
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		bad := append(append([]string(nil), paths...), filepath.Join(tempDir, "missing.jpg"))
		if _, err := PreprocessBatch(context.Background(), fs, bad, 48, 1, 2); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("ZeroWorkers", func(t *testing.T) {
		results, err := PreprocessBatch(context.Background(), fs, paths[:2], 8, 3, 0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(results[0].Data) != 3*8*8 {
			t.Errorf("Expected RGB output, got %d values", len(results[0].Data))
		}
	})
}

	t.Run("MemFs", func(t *testing.T) {
		mem := afero.NewMemMapFs()
		var buf bytes.Buffer
		if err := png.Encode(&buf, createMockImage(20, 20, color.RGBA{255, 255, 255, 255})); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(mem, "/faces/happy/a.png", buf.Bytes(), 0644); err != nil {
			t.Fatal(err)
		}

		results, err := PreprocessBatch(context.Background(), mem, []string{"/faces/happy/a.png"}, 4, 1, 1)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(results[0].Data) != 16 || results[0].Data[0] != 0 {
			t.Errorf("Expected 16 values starting at the black corner, got %v", results[0].Data)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := PreprocessBatch(ctx, fs, paths, 8, 1, 2); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}
