package preprocessing

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"

	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// Default input geometry of the baseline emotion model: one 48x48 grayscale plane
const (
	DefaultImageSize = 48
	DefaultChannels  = 1
)

// Decode decodes any registered image format (JPEG, PNG, GIF, BMP, TIFF, WebP)
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// ImageProcessor provides image preprocessing with buffer reuse
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	processBuffer   []float32
	targetSize      int
	channels        int
}

// NewImageProcessor creates a processor producing targetSize x targetSize
// images with 1 (grayscale) or 3 (RGB) channels
func NewImageProcessor(targetSize, channels int) *ImageProcessor {
	if targetSize <= 0 {
		targetSize = DefaultImageSize
	}
	if channels != 3 {
		channels = DefaultChannels
	}
	return &ImageProcessor{
		targetSize: targetSize,
		channels:   channels,
	}
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// Len returns the number of float32 values per processed image
func (p *ImageProcessor) Len() int {
	return p.channels * p.targetSize * p.targetSize
}

// DecodeAndPreprocess decodes an image and preprocesses it for neural network input.
// Returns data in CHW format (channels, height, width) normalized to [0, 1]
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, err := Decode(reader)
	if err != nil {
		return nil, err
	}
	return p.Preprocess(img), nil
}

// Preprocess resizes a decoded image with nearest-neighbour sampling and
// converts it to normalized CHW floats
func (p *ImageProcessor) Preprocess(img image.Image) *ProcessedImage {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Reuse image buffer
	if p.tempImageBuffer == nil || p.tempImageBuffer.Bounds().Dx() != p.targetSize {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	targetImg := p.tempImageBuffer

	scaleX := float64(width) / float64(p.targetSize)
	scaleY := float64(height) / float64(p.targetSize)

	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			srcX := int(float64(x) * scaleX)
			srcY := int(float64(y) * scaleY)

			if srcX >= width {
				srcX = width - 1
			}
			if srcY >= height {
				srcY = height - 1
			}

			targetImg.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	// Reuse data buffer
	plane := p.targetSize * p.targetSize
	requiredSize := p.channels * plane
	if len(p.processBuffer) < requiredSize {
		p.processBuffer = make([]float32, requiredSize)
	}
	data := p.processBuffer[:requiredSize]

	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			idx := y*p.targetSize + x
			c := targetImg.RGBAAt(x, y)

			if p.channels == 1 {
				gray := color.GrayModel.Convert(c).(color.Gray)
				data[idx] = float32(gray.Y) / 255.0
				continue
			}

			// Store in CHW format
			data[0*plane+idx] = float32(c.R) / 255.0
			data[1*plane+idx] = float32(c.G) / 255.0
			data[2*plane+idx] = float32(c.B) / 255.0
		}
	}

	// Copy out since data is a slice of the reusable buffer
	result := make([]float32, len(data))
	copy(result, data)

	return &ProcessedImage{
		Data:     result,
		Width:    p.targetSize,
		Height:   p.targetSize,
		Channels: p.channels,
	}
}

// LoadFile opens, decodes and preprocesses the image at path on fs with its own file handle
func (p *ImageProcessor) LoadFile(fs afero.Fs, path string) (*ProcessedImage, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	img, err := p.DecodeAndPreprocess(file)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	return img, nil
}

// PreprocessBatch preprocesses multiple images from fs concurrently with at
// most maxWorkers in flight. The first failure cancels the rest.
func PreprocessBatch(ctx context.Context, fs afero.Fs, imagePaths []string, targetSize, channels, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, path := range imagePaths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Processors are not shared between goroutines
			img, err := NewImageProcessor(targetSize, channels).LoadFile(fs, path)
			if err != nil {
				return fmt.Errorf("failed to process image %d (%s): %w", i, path, err)
			}
			results[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
