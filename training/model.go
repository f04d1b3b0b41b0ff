package training

import (
	"fmt"
	"math/rand/v2"
)

// Model maps a batch of n flattened images to n x NumClasses() scores (logits)
type Model interface {
	Forward(batch []float32, n int) ([]float32, error)
	NumClasses() int
}

// Trainable is a Model that can be updated from the gradient of the loss with
// respect to the scores of its most recent Forward call
type Trainable interface {
	Model
	Backward(grad []float32) error
	Step() error
}

// LinearModel is a multinomial logistic regression over flattened pixels,
// trained with plain SGD. It serves as a reference Trainable.
type LinearModel struct {
	inputLen     int
	numClasses   int
	learningRate float32

	weights []float32 // numClasses x inputLen
	bias    []float32

	gradW []float32
	gradB []float32

	lastInput []float32
	lastN     int
}

// NewLinearModel creates a model with small random weights drawn from seed
func NewLinearModel(inputLen, numClasses int, learningRate float32, seed uint64) *LinearModel {
	rng := rand.New(rand.NewPCG(seed, seed))
	weights := make([]float32, numClasses*inputLen)
	for i := range weights {
		weights[i] = (rng.Float32() - 0.5) * 0.02
	}
	return &LinearModel{
		inputLen:     inputLen,
		numClasses:   numClasses,
		learningRate: learningRate,
		weights:      weights,
		bias:         make([]float32, numClasses),
		gradW:        make([]float32, numClasses*inputLen),
		gradB:        make([]float32, numClasses),
	}
}

// NumClasses returns the number of output classes
func (m *LinearModel) NumClasses() int {
	return m.numClasses
}

// Forward computes scores for n images
func (m *LinearModel) Forward(batch []float32, n int) ([]float32, error) {
	if len(batch) != n*m.inputLen {
		return nil, fmt.Errorf("input length mismatch: expected %d, got %d", n*m.inputLen, len(batch))
	}

	scores := make([]float32, n*m.numClasses)
	for i := 0; i < n; i++ {
		x := batch[i*m.inputLen : (i+1)*m.inputLen]
		for c := 0; c < m.numClasses; c++ {
			w := m.weights[c*m.inputLen : (c+1)*m.inputLen]
			sum := m.bias[c]
			for k, v := range x {
				sum += w[k] * v
			}
			scores[i*m.numClasses+c] = sum
		}
	}

	m.lastInput = batch
	m.lastN = n
	return scores, nil
}

// Backward accumulates parameter gradients for the last Forward batch
func (m *LinearModel) Backward(grad []float32) error {
	if m.lastInput == nil {
		return fmt.Errorf("backward called before forward")
	}
	if len(grad) != m.lastN*m.numClasses {
		return fmt.Errorf("gradient length mismatch: expected %d, got %d", m.lastN*m.numClasses, len(grad))
	}

	for i := 0; i < m.lastN; i++ {
		x := m.lastInput[i*m.inputLen : (i+1)*m.inputLen]
		for c := 0; c < m.numClasses; c++ {
			g := grad[i*m.numClasses+c]
			if g == 0 {
				continue
			}
			gw := m.gradW[c*m.inputLen : (c+1)*m.inputLen]
			for k, v := range x {
				gw[k] += g * v
			}
			m.gradB[c] += g
		}
	}
	return nil
}

// Step applies and clears the accumulated gradients
func (m *LinearModel) Step() error {
	for i, g := range m.gradW {
		m.weights[i] -= m.learningRate * g
	}
	for i, g := range m.gradB {
		m.bias[i] -= m.learningRate * g
	}
	clear(m.gradW)
	clear(m.gradB)
	m.lastInput = nil
	return nil
}
