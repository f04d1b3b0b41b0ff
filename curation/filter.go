package curation

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-emom/detector"
	"github.com/tsawler/go-emom/emotion"
	"github.com/tsawler/go-emom/vision/preprocessing"
)

// DefaultThreshold is the detection confidence an image must exceed to be confirmed
const DefaultThreshold = 0.6

var imageExtensions = map[string]bool{
	"bmp": true, "dib": true, "jpeg": true, "jpg": true, "jpe": true, "jp2": true,
	"png": true, "webp": true, "pbm": true, "pgm": true, "ppm": true, "pxm": true,
	"pnm": true, "pfm": true, "sr": true, "ras": true, "tiff": true, "tif": true,
	"exr": true, "hdr": true, "pic": true,
}

// IsImage reports whether the extension of name is a supported image format.
// The comparison is case-sensitive: "photo.JPG" is not an image.
func IsImage(name string) bool {
	return hasImageExtension(name, false)
}

func hasImageExtension(name string, foldCase bool) bool {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return false
	}
	ext := name[dot+1:]
	if foldCase {
		ext = strings.ToLower(ext)
	}
	return imageExtensions[ext]
}

// Extensions returns the supported image extensions, sorted
func Extensions() []string {
	exts := make([]string, 0, len(imageExtensions))
	for ext := range imageExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Candidate is a file offered to a Filter. Name is either a zip member path
// or a filesystem path; its parent directory is the label folder.
type Candidate struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// folder returns the name of the candidate's immediate parent directory
func (c Candidate) folder() string {
	name := filepath.ToSlash(c.Name)
	return path.Base(path.Dir(name))
}

// Filter decides which candidates a stage keeps.
// An error means no decision could be made; callers treat it as a rejection.
type Filter interface {
	Accept(ctx context.Context, c Candidate) (bool, error)
}

// ExtensionFilter keeps candidates whose name has a supported image extension
type ExtensionFilter struct {
	FoldCase bool // also accept uppercase extensions such as ".JPG"
}

// Accept implements Filter
func (f ExtensionFilter) Accept(_ context.Context, c Candidate) (bool, error) {
	return hasImageExtension(c.Name, f.FoldCase), nil
}

// EmotionFilter keeps images on which a secondary detector agrees with the
// folder-derived label with confidence above Threshold. Files without an
// image extension (in any case) are rejected before the folder is resolved.
type EmotionFilter struct {
	Detector  detector.Detector
	Threshold float64
	Folders   emotion.FolderMap // resolves raw folder names; defaults to emotion.DefaultFolderMap
	TopOnly   bool              // only consider the highest-confidence detection
}

// NewEmotionFilter returns an EmotionFilter with the default threshold and folder map
func NewEmotionFilter(d detector.Detector) *EmotionFilter {
	return &EmotionFilter{
		Detector:  d,
		Threshold: DefaultThreshold,
		Folders:   emotion.DefaultFolderMap(),
	}
}

// Accept implements Filter
func (f *EmotionFilter) Accept(ctx context.Context, c Candidate) (bool, error) {
	if !hasImageExtension(c.Name, true) {
		return false, nil
	}
	folders := f.Folders
	if folders == nil {
		folders = emotion.DefaultFolderMap()
	}
	label, err := folders.Lookup(c.folder())
	if err != nil {
		return false, err
	}

	rc, err := c.Open()
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", c.Name, err)
	}
	defer rc.Close()

	img, err := preprocessing.Decode(rc)
	if err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", c.Name, err)
	}

	detections, err := f.Detector.Detect(ctx, img)
	if err != nil {
		return false, &DetectionError{Name: c.Name, Err: err}
	}
	if len(detections) == 0 {
		return false, &DetectionError{Name: c.Name, Err: errNoDetections}
	}

	return Matches(detections, label, f.Threshold, f.TopOnly), nil
}

// Matches reports whether the detections confirm label.
// With topOnly set only the most confident detection is considered.
func Matches(detections []detector.Detection, label emotion.Label, threshold float64, topOnly bool) bool {
	if topOnly {
		best := -1
		for i, d := range detections {
			if best < 0 || d.Confidence > detections[best].Confidence {
				best = i
			}
		}
		if best < 0 {
			return false
		}
		detections = detections[best : best+1]
	}

	for _, d := range detections {
		if emotion.Label(strings.ToLower(d.Label)) == label && d.Confidence > threshold {
			return true
		}
	}
	return false
}
