package training

import (
	"fmt"
	"strings"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
	Accuracy
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	case Accuracy:
		return "Accuracy"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix accumulates multi-class predictions.
// Matrix is indexed [true_class][predicted_class].
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		clear(cm.Matrix[i])
	}
	cm.TotalSamples = 0
}

// UpdateFromPredictions adds a batch of row-major scores (batchSize x NumClasses).
// The predicted class is the argmax of each row; samples with an out of range
// true label are skipped.
func (cm *ConfusionMatrix) UpdateFromPredictions(scores []float32, trueLabels []int32, batchSize int) error {
	if len(scores) != batchSize*cm.NumClasses {
		return fmt.Errorf("predictions length mismatch: expected %d, got %d", batchSize*cm.NumClasses, len(scores))
	}
	if len(trueLabels) != batchSize {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", batchSize, len(trueLabels))
	}

	for i := 0; i < batchSize; i++ {
		trueClass := int(trueLabels[i])
		if trueClass < 0 || trueClass >= cm.NumClasses {
			continue
		}
		cm.Matrix[trueClass][Argmax(scores[i*cm.NumClasses:(i+1)*cm.NumClasses])]++
		cm.TotalSamples++
	}
	return nil
}

// Argmax returns the index of the largest value, the first one on ties
func Argmax(row []float32) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}

// GetMetric calculates a metric from the current counts
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case MacroPrecision:
		return cm.macro(cm.precision)
	case MacroRecall:
		return cm.macro(cm.recall)
	case MacroF1:
		return f1(cm.macro(cm.precision), cm.macro(cm.recall))
	case MicroPrecision, MicroRecall, MicroF1, Accuracy:
		// Every misclassification is one FP and one FN, so micro precision,
		// recall and F1 all equal accuracy for single-label classification.
		return cm.GetAccuracy()
	default:
		return 0
	}
}

// precision returns tp/(tp+fp) for class and whether the class was ever predicted
func (cm *ConfusionMatrix) precision(class int) (float64, bool) {
	predicted := 0
	for t := 0; t < cm.NumClasses; t++ {
		predicted += cm.Matrix[t][class]
	}
	if predicted == 0 {
		return 0, false
	}
	return float64(cm.Matrix[class][class]) / float64(predicted), true
}

// recall returns tp/(tp+fn) for class and whether the class has any samples
func (cm *ConfusionMatrix) recall(class int) (float64, bool) {
	actual := 0
	for _, n := range cm.Matrix[class] {
		actual += n
	}
	if actual == 0 {
		return 0, false
	}
	return float64(cm.Matrix[class][class]) / float64(actual), true
}

// macro averages a per-class metric over the classes where it is defined
func (cm *ConfusionMatrix) macro(metric func(int) (float64, bool)) float64 {
	sum := 0.0
	valid := 0
	for class := 0; class < cm.NumClasses; class++ {
		if v, ok := metric(class); ok {
			sum += v
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	return sum / float64(valid)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// ClassRecall returns the recall of a single class (0 if it has no samples)
func (cm *ConfusionMatrix) ClassRecall(class int) float64 {
	if class < 0 || class >= cm.NumClasses {
		return 0
	}
	r, _ := cm.recall(class)
	return r
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// Format renders the matrix as a table with the given class names as row and
// column headers. Missing names fall back to the class index.
func (cm *ConfusionMatrix) Format(names []string) string {
	name := func(i int) string {
		if i < len(names) {
			return names[i]
		}
		return fmt.Sprintf("%d", i)
	}

	width := 8
	for i := 0; i < cm.NumClasses; i++ {
		width = max(width, len(name(i))+1)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%*s", width, "true\\pred"))
	for j := 0; j < cm.NumClasses; j++ {
		sb.WriteString(fmt.Sprintf("%*s", width, name(j)))
	}
	sb.WriteString("\n")
	for i := 0; i < cm.NumClasses; i++ {
		sb.WriteString(fmt.Sprintf("%*s", width, name(i)))
		for j := 0; j < cm.NumClasses; j++ {
			sb.WriteString(fmt.Sprintf("%*d", width, cm.Matrix[i][j]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
