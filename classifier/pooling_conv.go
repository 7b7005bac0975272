package classifier

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/nn"
)

// CNN applies a width-3 same-padded convolution over the hidden states,
// ReLU, then max-over-time.
type CNN struct {
	conv    *nn.Linear // [3*hiddenDim][filters]
	dim     int
	filters int
}

// NewCNN creates a CNN pooling layer with the given number of filters.
func NewCNN(hiddenDim, filters int) *CNN {
	return &CNN{
		conv:    nn.NewLinear("pool.cnn", 3*hiddenDim, filters),
		dim:     hiddenDim,
		filters: filters,
	}
}

func (p *CNN) Name() string        { return "hiddenCNN" }
func (p *CNN) OutDim() int         { return p.filters }
func (p *CNN) Params() []*nn.Param { return p.conv.Params() }

type cnnCache struct {
	windows *mat.Dense // [T][3*dim]
	pre     *mat.Dense // [T][filters] pre-activation
	arg     []int      // argmax over time per filter
}

func (p *CNN) Forward(hidden *mat.Dense) ([]float64, any) {
	T, _ := hidden.Dims()
	windows := mat.NewDense(T, 3*p.dim, nil)
	for t := range T {
		for w := range 3 {
			src := t + w - 1
			if src < 0 || src >= T {
				continue
			}
			for j := range p.dim {
				windows.Set(t, w*p.dim+j, hidden.At(src, j))
			}
		}
	}

	pre := p.conv.Forward(windows)
	out := make([]float64, p.filters)
	arg := make([]int, p.filters)
	for f := range p.filters {
		best := math.Inf(-1)
		for t := range T {
			v := pre.At(t, f)
			if v < 0 {
				v = 0
			}
			if v > best {
				best = v
				arg[f] = t
			}
		}
		out[f] = best
	}
	return out, &cnnCache{windows: windows, pre: pre, arg: arg}
}

func (p *CNN) Backward(hidden *mat.Dense, cache any, dOut []float64) *mat.Dense {
	T, D := hidden.Dims()
	cc := cache.(*cnnCache)

	dPre := mat.NewDense(T, p.filters, nil)
	for f := range p.filters {
		t := cc.arg[f]
		if cc.pre.At(t, f) > 0 {
			dPre.Set(t, f, dOut[f])
		}
	}

	dWindows := p.conv.Backward(cc.windows, dPre)
	dh := mat.NewDense(T, D, nil)
	for t := range T {
		for w := range 3 {
			src := t + w - 1
			if src < 0 || src >= T {
				continue
			}
			for j := range p.dim {
				dh.Set(src, j, dh.At(src, j)+dWindows.At(t, w*p.dim+j))
			}
		}
	}
	return dh
}
