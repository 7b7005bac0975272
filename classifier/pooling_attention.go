package classifier

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/nn"
)

// Attention pools hidden states by additive attention:
// u_t = tanh(h_t W + b), s_t = u_t . v, a = softmax(s), out = sum a_t h_t.
type Attention struct {
	proj *nn.Linear // [hiddenDim][attDim]
	v    *nn.Param  // [attDim][1]
	dim  int
	att  int
}

// NewAttention creates an attention pooling layer with attDim score units.
func NewAttention(hiddenDim, attDim int) *Attention {
	return &Attention{
		proj: nn.NewLinear("pool.att", hiddenDim, attDim),
		v:    nn.NewParam("pool.att.v", attDim, 1),
		dim:  hiddenDim,
		att:  attDim,
	}
}

func (p *Attention) Name() string        { return "hiddenAttention" }
func (p *Attention) OutDim() int         { return p.dim }
func (p *Attention) Params() []*nn.Param { return append(p.proj.Params(), p.v) }

type attCache struct {
	u *mat.Dense // [T][att] tanh projections
	a []float64  // [T] attention weights
}

func (p *Attention) Forward(hidden *mat.Dense) ([]float64, any) {
	T, _ := hidden.Dims()
	u := nn.Tanh(p.proj.Forward(hidden))

	scores := make([]float64, T)
	for t := range T {
		var s float64
		for k := range p.att {
			s += u.At(t, k) * p.v.Value.At(k, 0)
		}
		scores[t] = s
	}
	a := softmax(scores)

	out := make([]float64, p.dim)
	for t := range T {
		for j := range p.dim {
			out[j] += a[t] * hidden.At(t, j)
		}
	}
	return out, &attCache{u: u, a: a}
}

func (p *Attention) Backward(hidden *mat.Dense, cache any, dOut []float64) *mat.Dense {
	T, D := hidden.Dims()
	ac := cache.(*attCache)

	dh := mat.NewDense(T, D, nil)
	da := make([]float64, T)
	for t := range T {
		for j := range p.dim {
			dh.Set(t, j, ac.a[t]*dOut[j])
			da[t] += hidden.At(t, j) * dOut[j]
		}
	}

	// Softmax backward: ds_t = a_t * (da_t - sum_k a_k da_k).
	var mean float64
	for t := range T {
		mean += ac.a[t] * da[t]
	}
	du := mat.NewDense(T, p.att, nil)
	for t := range T {
		ds := ac.a[t] * (da[t] - mean)
		for k := range p.att {
			du.Set(t, k, ds*p.v.Value.At(k, 0))
			p.v.Grad.Set(k, 0, p.v.Grad.At(k, 0)+ds*ac.u.At(t, k))
		}
	}

	dProj := nn.TanhBackward(ac.u, du)
	dh.Add(dh, p.proj.Backward(hidden, dProj))
	return dh
}

func softmax(xs []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, x := range xs {
		if x > maxVal {
			maxVal = x
		}
	}
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp(x - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
