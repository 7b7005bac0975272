package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLinearForwardBackward(t *testing.T) {
	l := NewLinear("fc", 2, 3)
	l.W.Value.Set(0, 0, 1)
	l.W.Value.Set(0, 1, 2)
	l.W.Value.Set(1, 2, -1)
	l.B.Value.Set(0, 1, 0.5)

	x := mat.NewDense(1, 2, []float64{3, 4})
	y := l.Forward(x)
	assert.InDelta(t, 3.0, y.At(0, 0), 1e-12)
	assert.InDelta(t, 6.5, y.At(0, 1), 1e-12)
	assert.InDelta(t, -4.0, y.At(0, 2), 1e-12)

	dy := mat.NewDense(1, 3, []float64{1, 1, 1})
	dx := l.Backward(x, dy)
	// dx = dy W^T
	assert.InDelta(t, 3.0, dx.At(0, 0), 1e-12) // 1+2+0
	assert.InDelta(t, -1.0, dx.At(0, 1), 1e-12)
	// dW = x^T dy
	assert.InDelta(t, 3.0, l.W.Grad.At(0, 0), 1e-12)
	assert.InDelta(t, 4.0, l.W.Grad.At(1, 2), 1e-12)
	assert.InDelta(t, 1.0, l.B.Grad.At(0, 1), 1e-12)
}

func TestEmbeddingLookupBackward(t *testing.T) {
	e := NewEmbedding("emb", 3, 2)
	e.SeedRow(1, []float64{1, 2})
	e.SeedRow(2, []float64{3, 4})

	out := e.Lookup([]int{2, 1, 2})
	assert.Equal(t, 3.0, out.At(0, 0))
	assert.Equal(t, 2.0, out.At(1, 1))

	dy := mat.NewDense(3, 2, []float64{1, 1, 1, 1, 1, 1})
	e.Backward([]int{2, 1, 2}, dy)
	// Row 2 referenced twice accumulates twice.
	assert.Equal(t, 2.0, e.Table.Grad.At(2, 0))
	assert.Equal(t, 1.0, e.Table.Grad.At(1, 0))
	assert.Equal(t, 0.0, e.Table.Grad.At(0, 0))
}

func TestLogSoftmaxStable(t *testing.T) {
	out := LogSoftmax([]float64{1000, 1001, 1002})
	var sum float64
	for _, v := range out {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		sum += math.Exp(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestClipGradNorm(t *testing.T) {
	p := NewParam("p", 1, 2)
	p.Grad.Set(0, 0, 3)
	p.Grad.Set(0, 1, 4)

	norm := ClipGradNorm([]*Param{p}, 5)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.InDelta(t, 3.0, p.Grad.At(0, 0), 1e-12) // norm == max, unchanged

	norm = ClipGradNorm([]*Param{p}, 1)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.InDelta(t, 0.6, p.Grad.At(0, 0), 1e-12)
	assert.InDelta(t, 0.8, p.Grad.At(0, 1), 1e-12)
}

func TestOptimizersDescend(t *testing.T) {
	// Minimize f(w) = w^2 from w=1; every optimizer should move toward 0.
	for _, name := range []string{"sgd", "adam", "adadelta", "rmsprop"} {
		opt, err := NewOptimizer(name, 0.1)
		require.NoError(t, err, name)

		p := NewParam("w", 1, 1)
		p.Value.Set(0, 0, 1.0)
		start := math.Abs(p.Value.At(0, 0))
		for range 50 {
			p.ZeroGrad()
			p.Grad.Set(0, 0, 2*p.Value.At(0, 0))
			opt.Step([]*Param{p})
		}
		assert.Less(t, math.Abs(p.Value.At(0, 0)), start, name)
	}
}

func TestUnknownOptimizer(t *testing.T) {
	_, err := NewOptimizer("momentum", 0.1)
	assert.Error(t, err)
}

func TestInitUniformBounds(t *testing.T) {
	p := NewParam("p", 4, 4)
	InitUniform([]*Param{p}, 0.2, 1)
	var nonzero bool
	for i := range 4 {
		for j := range 4 {
			v := p.Value.At(i, j)
			require.LessOrEqual(t, math.Abs(v), 0.2)
			if v != 0 {
				nonzero = true
			}
		}
	}
	assert.True(t, nonzero)
}

func TestDropoutMask(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	y, mask := Dropout(x, 0, nil)
	assert.Nil(t, mask)
	assert.Equal(t, x, y)

	i := 0
	seq := []float64{0.1, 0.9, 0.1, 0.9} // keep, drop (rate 0.5), keep, drop
	rng := func() float64 { v := seq[i%len(seq)]; i++; return v }
	y, mask = Dropout(x, 0.5, rng)
	require.NotNil(t, mask)
	assert.InDelta(t, 2.0, y.At(0, 0), 1e-12) // survivor scaled by 1/keep
	assert.InDelta(t, 0.0, y.At(0, 1), 1e-12)

	dy := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	dx := DropoutBackward(dy, mask)
	assert.InDelta(t, 2.0, dx.At(0, 0), 1e-12)
	assert.InDelta(t, 0.0, dx.At(0, 1), 1e-12)
}
