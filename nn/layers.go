package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer y = xW + b.
type Linear struct {
	W *Param // [in][out]
	B *Param // [1][out]
}

// NewLinear creates a linear layer with zeroed parameters.
func NewLinear(name string, in, out int) *Linear {
	return &Linear{
		W: NewParam(name+".W", in, out),
		B: NewParam(name+".b", 1, out),
	}
}

// Params returns the layer's trainable parameters.
func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// Forward computes y = xW + b for a [n][in] input.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	_, out := l.W.Value.Dims()
	y := mat.NewDense(n, out, nil)
	y.Mul(x, l.W.Value)
	for i := range n {
		for j := range out {
			y.Set(i, j, y.At(i, j)+l.B.Value.At(0, j))
		}
	}
	return y
}

// Backward accumulates parameter gradients for upstream gradient dy and
// returns the gradient with respect to x.
func (l *Linear) Backward(x, dy *mat.Dense) *mat.Dense {
	n, in := x.Dims()
	_, out := l.W.Value.Dims()

	var dW mat.Dense
	dW.Mul(x.T(), dy)
	l.W.Grad.Add(l.W.Grad, &dW)

	for j := range out {
		var s float64
		for i := range n {
			s += dy.At(i, j)
		}
		l.B.Grad.Set(0, j, l.B.Grad.At(0, j)+s)
	}

	dx := mat.NewDense(n, in, nil)
	dx.Mul(dy, l.W.Value.T())
	return dx
}

// Embedding looks rows up in a trainable table.
type Embedding struct {
	Table *Param // [vocab][dim]
}

// NewEmbedding creates an embedding table with zeroed parameters.
func NewEmbedding(name string, vocab, dim int) *Embedding {
	return &Embedding{Table: NewParam(name, vocab, dim)}
}

// Params returns the embedding table.
func (e *Embedding) Params() []*Param {
	return []*Param{e.Table}
}

// Lookup gathers the rows for ids into a [len(ids)][dim] matrix.
func (e *Embedding) Lookup(ids []int) *mat.Dense {
	_, dim := e.Table.Value.Dims()
	out := mat.NewDense(len(ids), dim, nil)
	for i, id := range ids {
		out.SetRow(i, e.Table.Value.RawRowView(id))
	}
	return out
}

// Backward scatter-adds the row gradients back into the table gradient.
func (e *Embedding) Backward(ids []int, dy *mat.Dense) {
	_, dim := e.Table.Value.Dims()
	for i, id := range ids {
		for j := range dim {
			e.Table.Grad.Set(id, j, e.Table.Grad.At(id, j)+dy.At(i, j))
		}
	}
}

// SeedRow overwrites one table row, used to load pretrained vectors at
// construction time.
func (e *Embedding) SeedRow(id int, vec []float64) {
	e.Table.Value.SetRow(id, vec)
}

// Tanh applies tanh elementwise and returns the result.
func Tanh(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	y := mat.NewDense(r, c, nil)
	for i := range r {
		for j := range c {
			y.Set(i, j, math.Tanh(x.At(i, j)))
		}
	}
	return y
}

// TanhBackward returns dy * (1 - y^2) given the tanh output y.
func TanhBackward(y, dy *mat.Dense) *mat.Dense {
	r, c := y.Dims()
	dx := mat.NewDense(r, c, nil)
	for i := range r {
		for j := range c {
			v := y.At(i, j)
			dx.Set(i, j, dy.At(i, j)*(1-v*v))
		}
	}
	return dx
}

// ReLU applies max(0, x) elementwise.
func ReLU(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	y := mat.NewDense(r, c, nil)
	for i := range r {
		for j := range c {
			if v := x.At(i, j); v > 0 {
				y.Set(i, j, v)
			}
		}
	}
	return y
}

// ReLUBackward masks dy by the sign of the pre-activation x.
func ReLUBackward(x, dy *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	dx := mat.NewDense(r, c, nil)
	for i := range r {
		for j := range c {
			if x.At(i, j) > 0 {
				dx.Set(i, j, dy.At(i, j))
			}
		}
	}
	return dx
}

// Sigmoid applies the logistic function elementwise to a slice.
func Sigmoid(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = 1 / (1 + math.Exp(-x))
	}
	return out
}

// LogSoftmax computes log-softmax of a slice with max subtraction.
func LogSoftmax(xs []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, x := range xs {
		if x > maxVal {
			maxVal = x
		}
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	logZ := maxVal + math.Log(sum)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x - logZ
	}
	return out
}

// Dropout zeroes entries with probability rate and scales survivors by
// 1/(1-rate) (inverted dropout). It returns the output and the scaled mask
// for the backward pass. A rate <= 0 is the identity with a nil mask.
func Dropout(x *mat.Dense, rate float64, rng func() float64) (*mat.Dense, *mat.Dense) {
	if rate <= 0 {
		return x, nil
	}
	r, c := x.Dims()
	y := mat.NewDense(r, c, nil)
	mask := mat.NewDense(r, c, nil)
	keep := 1 - rate
	for i := range r {
		for j := range c {
			if rng() < keep {
				mask.Set(i, j, 1/keep)
				y.Set(i, j, x.At(i, j)/keep)
			}
		}
	}
	return y, mask
}

// DropoutBackward applies the stored mask to dy; a nil mask is the identity.
func DropoutBackward(dy, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return dy
	}
	r, c := dy.Dims()
	dx := mat.NewDense(r, c, nil)
	dx.MulElem(dy, mask)
	return dx
}
