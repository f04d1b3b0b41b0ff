package training

import (
	"fmt"
	"math"
)

// LogSoftmax returns the row-wise log-softmax of batchSize x numClasses scores
func LogSoftmax(scores []float32, batchSize, numClasses int) []float64 {
	out := make([]float64, len(scores))
	for i := 0; i < batchSize; i++ {
		row := scores[i*numClasses : (i+1)*numClasses]

		maxVal := float64(row[0])
		for _, v := range row[1:] {
			maxVal = math.Max(maxVal, float64(v))
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(float64(v) - maxVal)
		}
		logSum := maxVal + math.Log(sum)

		for j, v := range row {
			out[i*numClasses+j] = float64(v) - logSum
		}
	}
	return out
}

// CrossEntropy computes the mean negative log-likelihood of labels under the
// softmax of scores, and the gradient of that mean with respect to the scores.
func CrossEntropy(scores []float32, labels []int32, batchSize, numClasses int) (float64, []float32, error) {
	if batchSize <= 0 {
		return 0, nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(scores) != batchSize*numClasses {
		return 0, nil, fmt.Errorf("scores length mismatch: expected %d, got %d", batchSize*numClasses, len(scores))
	}
	if len(labels) != batchSize {
		return 0, nil, fmt.Errorf("labels length mismatch: expected %d, got %d", batchSize, len(labels))
	}

	logProbs := LogSoftmax(scores, batchSize, numClasses)
	grad := make([]float32, len(scores))
	loss := 0.0
	inv := 1.0 / float64(batchSize)

	for i := 0; i < batchSize; i++ {
		label := int(labels[i])
		if label < 0 || label >= numClasses {
			return 0, nil, fmt.Errorf("label %d at position %d out of range [0, %d)", label, i, numClasses)
		}
		loss -= logProbs[i*numClasses+label]
		for j := 0; j < numClasses; j++ {
			g := math.Exp(logProbs[i*numClasses+j])
			if j == label {
				g--
			}
			grad[i*numClasses+j] = float32(g * inv)
		}
	}

	return loss * inv, grad, nil
}
