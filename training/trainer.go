// Package training defines the contract a classifier must meet to consume a
// curated emotion dataset, and the loops that train and evaluate it.
package training

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// BatchSource yields batches of flattened images and class labels.
// A zero batch size with a nil error marks the end of an epoch.
type BatchSource interface {
	NextBatch() (images []float32, labels []int32, n int, err error)
	Reset()
	Progress() (current, total int)
}

// TrainConfig configures Train
type TrainConfig struct {
	Epochs   int
	Logger   zerolog.Logger
	Progress io.Writer // optional progress bar output
}

// EpochStats summarizes one pass over the training data
type EpochStats struct {
	Epoch    int
	Loss     float64 // average per-sample loss
	Accuracy float64
	Samples  int
}

// EvalResult summarizes a pass over held-out data
type EvalResult struct {
	Loss      float64 // average negative log-likelihood
	Accuracy  float64
	Samples   int
	Confusion *ConfusionMatrix
}

// Train runs cfg.Epochs passes over src, updating model after every batch
func Train(ctx context.Context, model Trainable, src BatchSource, cfg TrainConfig) ([]EpochStats, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}

	history := make([]EpochStats, 0, cfg.Epochs)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		src.Reset()

		var bar *ProgressBar
		if cfg.Progress != nil {
			_, total := src.Progress()
			bar = NewProgressBar(cfg.Progress, fmt.Sprintf("Epoch %d/%d", epoch, cfg.Epochs), total)
		}

		stats := EpochStats{Epoch: epoch}
		confusion := NewConfusionMatrix(model.NumClasses())
		lossSum := 0.0

		for {
			if err := ctx.Err(); err != nil {
				return history, err
			}

			images, labels, n, err := src.NextBatch()
			if err != nil {
				return history, fmt.Errorf("epoch %d: failed to load batch: %w", epoch, err)
			}
			if n == 0 {
				break
			}

			scores, err := model.Forward(images, n)
			if err != nil {
				return history, fmt.Errorf("epoch %d: forward: %w", epoch, err)
			}
			loss, grad, err := CrossEntropy(scores, labels, n, model.NumClasses())
			if err != nil {
				return history, fmt.Errorf("epoch %d: loss: %w", epoch, err)
			}
			if err := model.Backward(grad); err != nil {
				return history, fmt.Errorf("epoch %d: backward: %w", epoch, err)
			}
			if err := model.Step(); err != nil {
				return history, fmt.Errorf("epoch %d: step: %w", epoch, err)
			}

			if err := confusion.UpdateFromPredictions(scores, labels, n); err != nil {
				return history, err
			}
			lossSum += loss * float64(n)
			stats.Samples += n

			if bar != nil {
				current, _ := src.Progress()
				bar.Update(current, map[string]float64{
					"loss": lossSum / float64(stats.Samples),
					"acc":  confusion.GetAccuracy(),
				})
			}
		}
		if bar != nil {
			bar.Finish()
		}

		if stats.Samples > 0 {
			stats.Loss = lossSum / float64(stats.Samples)
		}
		stats.Accuracy = confusion.GetAccuracy()
		history = append(history, stats)

		cfg.Logger.Info().
			Int("epoch", epoch).
			Float64("loss", stats.Loss).
			Float64("accuracy", stats.Accuracy).
			Int("samples", stats.Samples).
			Msg("Epoch complete")
	}

	return history, nil
}

// Evaluate scores model on every batch of src without updating it
func Evaluate(ctx context.Context, model Model, src BatchSource, logger zerolog.Logger) (*EvalResult, error) {
	src.Reset()

	numClasses := model.NumClasses()
	result := &EvalResult{Confusion: NewConfusionMatrix(numClasses)}
	lossSum := 0.0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		images, labels, n, err := src.NextBatch()
		if err != nil {
			return nil, fmt.Errorf("failed to load batch: %w", err)
		}
		if n == 0 {
			break
		}

		scores, err := model.Forward(images, n)
		if err != nil {
			return nil, fmt.Errorf("forward: %w", err)
		}
		loss, _, err := CrossEntropy(scores, labels, n, numClasses)
		if err != nil {
			return nil, err
		}
		if err := result.Confusion.UpdateFromPredictions(scores, labels, n); err != nil {
			return nil, err
		}
		lossSum += loss * float64(n)
		result.Samples += n
	}

	if result.Samples > 0 {
		result.Loss = lossSum / float64(result.Samples)
	}
	result.Accuracy = result.Confusion.GetAccuracy()

	logger.Info().
		Float64("loss", result.Loss).
		Float64("accuracy", result.Accuracy).
		Float64("macro_f1", result.Confusion.GetMetric(MacroF1)).
		Int("samples", result.Samples).
		Msg("Evaluation complete")

	return result, nil
}
