package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tsawler/go-emom/curation"
	"github.com/tsawler/go-emom/emotion"
	"github.com/tsawler/go-emom/vision/preprocessing"
)

// EmotionDataset presents a fixed list of labelled images as indexable
// (image, class index) pairs. The class of an image is its parent folder,
// enumerated angry=0 through surprise=6.
//
// Reads never mutate the dataset, so Get may be called from several
// goroutines at once.
type EmotionDataset struct {
	fs         afero.Fs
	imagePaths []string
	labels     []int
	imageSize  int
	channels   int
}

// Option configures an EmotionDataset
type Option func(*EmotionDataset)

// WithFs sets the filesystem images are read from (default afero.NewOsFs)
func WithFs(fs afero.Fs) Option {
	return func(d *EmotionDataset) { d.fs = fs }
}

// WithGeometry sets the preprocessed image size and channel count
func WithGeometry(imageSize, channels int) Option {
	return func(d *EmotionDataset) {
		d.imageSize = imageSize
		d.channels = channels
	}
}

// IndexError reports an index outside [0, Len)
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Len)
}

// NewEmotionDataset creates a dataset from image paths. Paths that are not
// images are dropped; a parent folder that is not a canonical label is an error.
func NewEmotionDataset(imagePaths []string, opts ...Option) (*EmotionDataset, error) {
	d := &EmotionDataset{
		fs:        afero.NewOsFs(),
		imageSize: preprocessing.DefaultImageSize,
		channels:  preprocessing.DefaultChannels,
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, path := range imagePaths {
		if !curation.IsImage(filepath.Base(path)) {
			continue
		}
		label, err := emotion.Parse(filepath.Base(filepath.Dir(path)))
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", path, err)
		}
		d.imagePaths = append(d.imagePaths, path)
		d.labels = append(d.labels, label.Index())
	}

	return d, nil
}

// NewEmotionFolderDataset creates a dataset from every image under root,
// laid out as root/<label>/<file>
func NewEmotionFolderDataset(root string, opts ...Option) (*EmotionDataset, error) {
	probe := &EmotionDataset{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(probe)
	}

	paths, err := curation.ListImages(probe.fs, root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}
	return NewEmotionDataset(paths, opts...)
}

// Len returns the number of items in the dataset
func (d *EmotionDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and class index at the given index
func (d *EmotionDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, &IndexError{Index: index, Len: len(d.imagePaths)}
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Get reads and preprocesses the image at index with its own file handle
func (d *EmotionDataset) Get(index int) (*preprocessing.ProcessedImage, int, error) {
	path, label, err := d.GetItem(index)
	if err != nil {
		return nil, 0, err
	}

	img, err := preprocessing.NewImageProcessor(d.imageSize, d.channels).LoadFile(d.fs, path)
	if err != nil {
		return nil, 0, err
	}
	return img, label, nil
}

// Preload reads and preprocesses the images at indices concurrently,
// with at most workers files open at once
func (d *EmotionDataset) Preload(ctx context.Context, indices []int, workers int) ([]*preprocessing.ProcessedImage, error) {
	paths := make([]string, len(indices))
	for i, idx := range indices {
		path, _, err := d.GetItem(idx)
		if err != nil {
			return nil, err
		}
		paths[i] = path
	}
	return preprocessing.PreprocessBatch(ctx, d.fs, paths, d.imageSize, d.channels, workers)
}

// NumClasses returns the number of classes
func (d *EmotionDataset) NumClasses() int {
	return emotion.NumClasses
}

// ClassDistribution returns the number of samples per label
func (d *EmotionDataset) ClassDistribution() map[emotion.Label]int {
	dist := make(map[emotion.Label]int)
	for _, idx := range d.labels {
		label, _ := emotion.FromIndex(idx)
		dist[label]++
	}
	return dist
}

// Subset creates a dataset with the items at the specified indices
func (d *EmotionDataset) Subset(indices []int) (*EmotionDataset, error) {
	subset := &EmotionDataset{
		fs:         d.fs,
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		imageSize:  d.imageSize,
		channels:   d.channels,
	}

	for i, idx := range indices {
		if idx < 0 || idx >= len(d.imagePaths) {
			return nil, &IndexError{Index: idx, Len: len(d.imagePaths)}
		}
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}

	return subset, nil
}

// String returns a string representation of the dataset
func (d *EmotionDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("EmotionDataset: %d samples, %d classes\n", len(d.imagePaths), emotion.NumClasses))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, label := range emotion.Labels() {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", label, dist[label]))
	}

	return sb.String()
}
