// Package detector defines the secondary emotion classifier consumed by the
// quarantine stage, along with an HTTP client for a detection sidecar.
package detector

import (
	"context"
	"image"
)

// Detection is a single emotion prediction for a face found in an image
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Detector runs emotion detection on a decoded image.
// Implementations may return zero detections when no face is found.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Func adapts a plain function to the Detector interface
type Func func(ctx context.Context, img image.Image) ([]Detection, error)

// Detect calls f
func (f Func) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return f(ctx, img)
}

// Static returns a detector that reports the same detections for every image
func Static(detections ...Detection) Detector {
	return Func(func(context.Context, image.Image) ([]Detection, error) {
		out := make([]Detection, len(detections))
		copy(out, detections)
		return out, nil
	})
}
