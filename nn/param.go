// Package nn provides the small neural toolkit shared by the encoder and
// the classifier heads: dense parameters with accumulated gradients, a few
// layers with explicit backward passes, weight initialization and the
// optimizers selectable from the command line.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Param is a trainable dense matrix with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam creates a zero-initialized r x c parameter.
func NewParam(name string, r, c int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(r, c, nil),
		Grad:  mat.NewDense(r, c, nil),
	}
}

// WrapParam creates a parameter sharing the given backing slice, so updates
// through the optimizer are visible to the owner of the slice.
func WrapParam(name string, r, c int, backing []float64) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(r, c, backing),
		Grad:  mat.NewDense(r, c, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// InitUniform fills every parameter with samples from U[-width, width].
func InitUniform(params []*Param, width float64, seed uint64) {
	u := distuv.Uniform{
		Min: -width,
		Max: width,
		Src: rand.NewPCG(seed, seed),
	}
	for _, p := range params {
		r, c := p.Value.Dims()
		for i := range r {
			for j := range c {
				p.Value.Set(i, j, u.Rand())
			}
		}
	}
}

// ZeroGrads clears the gradients of all parameters.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// ClipGradNorm rescales all gradients so their global 2-norm does not exceed
// maxNorm, and returns the pre-clipping norm. A maxNorm <= 0 disables
// clipping.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		n := mat.Norm(p.Grad, 2)
		sq += n * n
	}
	norm := math.Sqrt(sq)
	if maxNorm <= 0 || norm <= maxNorm || norm == 0 {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		p.Grad.Scale(scale, p.Grad)
	}
	return norm
}

// CheckFinite returns an error naming the first parameter whose gradient
// contains NaN or Inf.
func CheckFinite(params []*Param) error {
	for _, p := range params {
		r, c := p.Grad.Dims()
		for i := range r {
			for j := range c {
				if v := p.Grad.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("nn: non-finite gradient in %s", p.Name)
				}
			}
		}
	}
	return nil
}
