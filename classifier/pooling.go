// Package classifier implements the intent-detection head: a pooling
// strategy reducing the encoder's hidden states to a fixed-width vector,
// and a linear layer scoring intent labels, trained with either a
// single-label or a multi-label loss.
package classifier

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/nn"
)

// Pooling reduces a [T][D] hidden-state matrix to a fixed-width vector and
// knows how to backpropagate through that reduction. Implementations are a
// closed set selected once at configuration time.
type Pooling interface {
	Name() string
	OutDim() int
	Params() []*nn.Param
	Forward(hidden *mat.Dense) ([]float64, any)
	Backward(hidden *mat.Dense, cache any, dOut []float64) *mat.Dense
}

// NewPooling selects a pooling strategy by name. hiddenDim is the encoder
// output width; hiddenSize the per-direction width (FinalStates needs both).
func NewPooling(name string, hiddenDim, hiddenSize int, bidirectional bool) (Pooling, error) {
	switch strings.ToLower(name) {
	case "2tails":
		return &FinalStates{dim: hiddenDim, size: hiddenSize, bi: bidirectional}, nil
	case "maxpooling":
		return &MaxPool{dim: hiddenDim}, nil
	case "hiddencnn":
		return NewCNN(hiddenDim, hiddenDim), nil
	case "hiddenattention":
		return NewAttention(hiddenDim, hiddenSize), nil
	default:
		return nil, fmt.Errorf("classifier: unknown pooling strategy %q", name)
	}
}

// FinalStates concatenates the last forward state with the first backward
// state (or just the final state for a unidirectional encoder).
type FinalStates struct {
	dim  int
	size int
	bi   bool
}

func (p *FinalStates) Name() string        { return "2tails" }
func (p *FinalStates) OutDim() int         { return p.dim }
func (p *FinalStates) Params() []*nn.Param { return nil }

func (p *FinalStates) Forward(hidden *mat.Dense) ([]float64, any) {
	T, _ := hidden.Dims()
	out := make([]float64, p.dim)
	if p.bi {
		copy(out[:p.size], hidden.RawRowView(T-1)[:p.size])
		copy(out[p.size:], hidden.RawRowView(0)[p.size:])
	} else {
		copy(out, hidden.RawRowView(T-1))
	}
	return out, nil
}

func (p *FinalStates) Backward(hidden *mat.Dense, _ any, dOut []float64) *mat.Dense {
	T, D := hidden.Dims()
	dh := mat.NewDense(T, D, nil)
	if p.bi {
		for j := range p.size {
			dh.Set(T-1, j, dOut[j])
			dh.Set(0, p.size+j, dOut[p.size+j])
		}
	} else {
		dh.SetRow(T-1, dOut)
	}
	return dh
}

// MaxPool takes the elementwise maximum over time.
type MaxPool struct {
	dim int
}

func (p *MaxPool) Name() string        { return "maxPooling" }
func (p *MaxPool) OutDim() int         { return p.dim }
func (p *MaxPool) Params() []*nn.Param { return nil }

func (p *MaxPool) Forward(hidden *mat.Dense) ([]float64, any) {
	T, _ := hidden.Dims()
	out := make([]float64, p.dim)
	arg := make([]int, p.dim)
	for j := range p.dim {
		best := math.Inf(-1)
		for t := range T {
			if v := hidden.At(t, j); v > best {
				best = v
				arg[j] = t
			}
		}
		out[j] = best
	}
	return out, arg
}

func (p *MaxPool) Backward(hidden *mat.Dense, cache any, dOut []float64) *mat.Dense {
	T, D := hidden.Dims()
	arg := cache.([]int)
	dh := mat.NewDense(T, D, nil)
	for j := range p.dim {
		dh.Set(arg[j], j, dOut[j])
	}
	return dh
}
