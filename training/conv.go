package training

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// kernelSize is the side of every convolution kernel; convolutions use
// stride 1 and no padding, so each one shrinks the image by kernelSize-1
const kernelSize = 3

// ConvConfig describes a ConvModel: valid 3x3 convolutions, each followed by
// ReLU, then fully connected hidden layers with ReLU, then a linear output layer
type ConvConfig struct {
	InputSize    int   // side of the square input image
	InChannels   int   // 1 for grayscale, 3 for RGB
	ConvChannels []int // output channels of each convolution, in order
	Hidden       []int // widths of the hidden dense layers, in order
	NumClasses   int
	LearningRate float32
	Seed         uint64
}

// BaselineConvConfig returns the baseline emotion network: six 16-channel
// convolutions and dense layers of 256 and 128 units. On 48x48 grayscale
// input the flattened convolution output has 16x36x36 = 20736 features.
func BaselineConvConfig(inputSize, inChannels, numClasses int, learningRate float32, seed uint64) ConvConfig {
	return ConvConfig{
		InputSize:    inputSize,
		InChannels:   inChannels,
		ConvChannels: []int{16, 16, 16, 16, 16, 16},
		Hidden:       []int{256, 128},
		NumClasses:   numClasses,
		LearningRate: learningRate,
		Seed:         seed,
	}
}

// layer is one stage of a ConvModel. backward returns the gradient with
// respect to the input of the most recent forward call and accumulates
// parameter gradients until step.
type layer interface {
	forward(x []float32, n int) []float32
	backward(grad []float32) []float32
	step(learningRate float32)
}

// ConvModel is a small convolutional classifier trained with plain SGD on the CPU
type ConvModel struct {
	layers       []layer
	inputLen     int
	featureLen   int
	numClasses   int
	learningRate float32
	lastN        int
}

// NewConvModel builds the network described by cfg with He-initialized weights drawn from cfg.Seed
func NewConvModel(cfg ConvConfig) (*ConvModel, error) {
	if cfg.InputSize <= 0 || cfg.InChannels <= 0 {
		return nil, fmt.Errorf("invalid input geometry %dx%dx%d", cfg.InChannels, cfg.InputSize, cfg.InputSize)
	}
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", cfg.NumClasses)
	}
	outSize := cfg.InputSize - len(cfg.ConvChannels)*(kernelSize-1)
	if outSize <= 0 {
		return nil, fmt.Errorf("input size %d is too small for %d valid %dx%d convolutions",
			cfg.InputSize, len(cfg.ConvChannels), kernelSize, kernelSize)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	m := &ConvModel{
		inputLen:     cfg.InChannels * cfg.InputSize * cfg.InputSize,
		numClasses:   cfg.NumClasses,
		learningRate: cfg.LearningRate,
	}

	size, channels := cfg.InputSize, cfg.InChannels
	for i, c := range cfg.ConvChannels {
		if c <= 0 {
			return nil, fmt.Errorf("convolution %d: channels must be positive, got %d", i+1, c)
		}
		m.layers = append(m.layers, newConv2D(channels, c, size, rng), &relu{})
		size -= kernelSize - 1
		channels = c
	}

	features := channels * size * size
	m.featureLen = features
	for i, h := range cfg.Hidden {
		if h <= 0 {
			return nil, fmt.Errorf("hidden layer %d: width must be positive, got %d", i+1, h)
		}
		m.layers = append(m.layers, newDense(features, h, rng), &relu{})
		features = h
	}
	m.layers = append(m.layers, newDense(features, cfg.NumClasses, rng))

	return m, nil
}

// NumClasses returns the number of output classes
func (m *ConvModel) NumClasses() int {
	return m.numClasses
}

// InputLen returns the number of float32 values per input image
func (m *ConvModel) InputLen() int {
	return m.inputLen
}

// FeatureLen returns the length of the flattened convolution output
func (m *ConvModel) FeatureLen() int {
	return m.featureLen
}

// Forward computes scores for n images laid out CHW
func (m *ConvModel) Forward(batch []float32, n int) ([]float32, error) {
	if len(batch) != n*m.inputLen {
		return nil, fmt.Errorf("input length mismatch: expected %d, got %d", n*m.inputLen, len(batch))
	}

	x := batch
	for _, l := range m.layers {
		x = l.forward(x, n)
	}
	m.lastN = n
	return x, nil
}

// Backward accumulates parameter gradients for the last Forward batch
func (m *ConvModel) Backward(grad []float32) error {
	if m.lastN == 0 {
		return fmt.Errorf("backward called before forward")
	}
	if len(grad) != m.lastN*m.numClasses {
		return fmt.Errorf("gradient length mismatch: expected %d, got %d", m.lastN*m.numClasses, len(grad))
	}

	g := grad
	for i := len(m.layers) - 1; i >= 0; i-- {
		g = m.layers[i].backward(g)
	}
	return nil
}

// Step applies and clears the accumulated gradients
func (m *ConvModel) Step() error {
	for _, l := range m.layers {
		l.step(m.learningRate)
	}
	m.lastN = 0
	return nil
}

func heInit(rng *rand.Rand, n, fanIn int) []float32 {
	limit := float32(math.Sqrt(6 / float64(fanIn)))
	w := make([]float32, n)
	for i := range w {
		w[i] = (rng.Float32()*2 - 1) * limit
	}
	return w
}

func sgd(params, grads []float32, learningRate float32) {
	for i, g := range grads {
		params[i] -= learningRate * g
	}
	clear(grads)
}

// conv2d is a valid, stride 1, 3x3 convolution over CHW planes
type conv2d struct {
	inC, outC       int
	inSize, outSize int

	weights []float32 // outC x inC x 3 x 3
	bias    []float32
	gradW   []float32
	gradB   []float32

	lastIn []float32
	lastN  int
}

func newConv2D(inC, outC, inSize int, rng *rand.Rand) *conv2d {
	fanIn := inC * kernelSize * kernelSize
	return &conv2d{
		inC:     inC,
		outC:    outC,
		inSize:  inSize,
		outSize: inSize - kernelSize + 1,
		weights: heInit(rng, outC*fanIn, fanIn),
		bias:    make([]float32, outC),
		gradW:   make([]float32, outC*fanIn),
		gradB:   make([]float32, outC),
	}
}

func (l *conv2d) forward(x []float32, n int) []float32 {
	inPlane := l.inSize * l.inSize
	outPlane := l.outSize * l.outSize
	out := make([]float32, n*l.outC*outPlane)

	for b := 0; b < n; b++ {
		in := x[b*l.inC*inPlane : (b+1)*l.inC*inPlane]
		for oc := 0; oc < l.outC; oc++ {
			dst := out[(b*l.outC+oc)*outPlane : (b*l.outC+oc+1)*outPlane]
			for i := range dst {
				dst[i] = l.bias[oc]
			}
			for ic := 0; ic < l.inC; ic++ {
				src := in[ic*inPlane : (ic+1)*inPlane]
				k := l.kernel(l.weights, oc, ic)
				for ky := 0; ky < kernelSize; ky++ {
					for kx := 0; kx < kernelSize; kx++ {
						w := k[ky*kernelSize+kx]
						for y := 0; y < l.outSize; y++ {
							row := src[(y+ky)*l.inSize+kx : (y+ky)*l.inSize+kx+l.outSize]
							d := dst[y*l.outSize : (y+1)*l.outSize]
							for i, v := range row {
								d[i] += w * v
							}
						}
					}
				}
			}
		}
	}

	l.lastIn = x
	l.lastN = n
	return out
}

func (l *conv2d) backward(grad []float32) []float32 {
	inPlane := l.inSize * l.inSize
	outPlane := l.outSize * l.outSize
	gradIn := make([]float32, len(l.lastIn))

	for b := 0; b < l.lastN; b++ {
		in := l.lastIn[b*l.inC*inPlane : (b+1)*l.inC*inPlane]
		gin := gradIn[b*l.inC*inPlane : (b+1)*l.inC*inPlane]
		for oc := 0; oc < l.outC; oc++ {
			g := grad[(b*l.outC+oc)*outPlane : (b*l.outC+oc+1)*outPlane]
			for _, v := range g {
				l.gradB[oc] += v
			}
			for ic := 0; ic < l.inC; ic++ {
				src := in[ic*inPlane : (ic+1)*inPlane]
				gsrc := gin[ic*inPlane : (ic+1)*inPlane]
				k := l.kernel(l.weights, oc, ic)
				gk := l.kernel(l.gradW, oc, ic)
				for ky := 0; ky < kernelSize; ky++ {
					for kx := 0; kx < kernelSize; kx++ {
						w := k[ky*kernelSize+kx]
						var acc float32
						for y := 0; y < l.outSize; y++ {
							off := (y+ky)*l.inSize + kx
							row := src[off : off+l.outSize]
							grow := gsrc[off : off+l.outSize]
							for i, gv := range g[y*l.outSize : (y+1)*l.outSize] {
								acc += gv * row[i]
								grow[i] += gv * w
							}
						}
						gk[ky*kernelSize+kx] += acc
					}
				}
			}
		}
	}
	return gradIn
}

func (l *conv2d) kernel(params []float32, oc, ic int) []float32 {
	start := (oc*l.inC + ic) * kernelSize * kernelSize
	return params[start : start+kernelSize*kernelSize]
}

func (l *conv2d) step(learningRate float32) {
	sgd(l.weights, l.gradW, learningRate)
	sgd(l.bias, l.gradB, learningRate)
	l.lastIn = nil
}

// dense is a fully connected layer
type dense struct {
	in, out int

	weights []float32 // out x in
	bias    []float32
	gradW   []float32
	gradB   []float32

	lastIn []float32
	lastN  int
}

func newDense(in, out int, rng *rand.Rand) *dense {
	return &dense{
		in:      in,
		out:     out,
		weights: heInit(rng, out*in, in),
		bias:    make([]float32, out),
		gradW:   make([]float32, out*in),
		gradB:   make([]float32, out),
	}
}

func (l *dense) forward(x []float32, n int) []float32 {
	out := make([]float32, n*l.out)
	for b := 0; b < n; b++ {
		row := x[b*l.in : (b+1)*l.in]
		for o := 0; o < l.out; o++ {
			w := l.weights[o*l.in : (o+1)*l.in]
			sum := l.bias[o]
			for i, v := range row {
				sum += w[i] * v
			}
			out[b*l.out+o] = sum
		}
	}
	l.lastIn = x
	l.lastN = n
	return out
}

func (l *dense) backward(grad []float32) []float32 {
	gradIn := make([]float32, len(l.lastIn))
	for b := 0; b < l.lastN; b++ {
		row := l.lastIn[b*l.in : (b+1)*l.in]
		gin := gradIn[b*l.in : (b+1)*l.in]
		for o := 0; o < l.out; o++ {
			g := grad[b*l.out+o]
			if g == 0 {
				continue
			}
			w := l.weights[o*l.in : (o+1)*l.in]
			gw := l.gradW[o*l.in : (o+1)*l.in]
			for i, v := range row {
				gw[i] += g * v
				gin[i] += g * w[i]
			}
			l.gradB[o] += g
		}
	}
	return gradIn
}

func (l *dense) step(learningRate float32) {
	sgd(l.weights, l.gradW, learningRate)
	sgd(l.bias, l.gradB, learningRate)
	l.lastIn = nil
}

// relu clamps its input to zero in place
type relu struct {
	lastOut []float32
}

func (l *relu) forward(x []float32, _ int) []float32 {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
	l.lastOut = x
	return x
}

func (l *relu) backward(grad []float32) []float32 {
	out := make([]float32, len(grad))
	for i, g := range grad {
		if l.lastOut[i] > 0 {
			out[i] = g
		}
	}
	return out
}

func (l *relu) step(float32) {
	l.lastOut = nil
}
