package encoder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/nn"
)

func newTestEncoder(t *testing.T, cfg Config, senVectors *mat.Dense) *Encoder {
	t.Helper()
	e, err := New(cfg, senVectors, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	nn.InitUniform(e.Params(), 0.5, 42)
	return e
}

func TestOutputShape(t *testing.T) {
	e := newTestEncoder(t, Config{WordVocab: 10, EmbSize: 4, HiddenSize: 3}, nil)
	out, err := e.Forward([]int{1, 2, 3, 4, 5}, 0, false)
	require.NoError(t, err)
	r, c := out.Hidden.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 3, c)

	bi := newTestEncoder(t, Config{WordVocab: 10, EmbSize: 4, HiddenSize: 3, Bidirectional: true}, nil)
	out, err = bi.Forward([]int{1, 2}, 0, false)
	require.NoError(t, err)
	r, c = out.Hidden.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 6, c)
	assert.Equal(t, 6, bi.OutputDim())
}

func TestZeroLengthRejected(t *testing.T) {
	e := newTestEncoder(t, Config{WordVocab: 10, EmbSize: 4, HiddenSize: 3}, nil)
	_, err := e.Forward(nil, 0, false)
	assert.Error(t, err)
}

func TestSentenceVectorsChangeOutput(t *testing.T) {
	sen := mat.NewDense(2, 3, []float64{1, 2, 3, -1, -2, -3})
	cfg := Config{WordVocab: 10, EmbSize: 4, SenVocab: 2, SenDim: 3, HiddenSize: 3}
	e := newTestEncoder(t, cfg, nil)
	require.NoError(t, e.SeedSentenceVectors(sen))

	a, err := e.Forward([]int{1, 2}, 0, false)
	require.NoError(t, err)
	b, err := e.Forward([]int{1, 2}, 1, false)
	require.NoError(t, err)
	assert.False(t, mat.EqualApprox(a.Hidden, b.Hidden, 1e-12),
		"different sentence vectors must change the encoding")
}

func TestSeedSentenceVectorsShapeMismatch(t *testing.T) {
	cfg := Config{WordVocab: 10, EmbSize: 4, SenVocab: 2, SenDim: 3, HiddenSize: 3}
	e := newTestEncoder(t, cfg, nil)
	assert.Error(t, e.SeedSentenceVectors(mat.NewDense(2, 4, nil)))
	assert.Error(t, newTestEncoder(t, Config{WordVocab: 10, EmbSize: 4, HiddenSize: 3}, nil).
		SeedSentenceVectors(mat.NewDense(1, 1, nil)))
}

// weighted sum of all hidden states, an arbitrary differentiable scalar
func probeLoss(e *Encoder, tokens []int, senID int, weights *mat.Dense) float64 {
	out, err := e.Forward(tokens, senID, false)
	if err != nil {
		panic(err)
	}
	var sum float64
	r, c := out.Hidden.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += weights.At(i, j) * out.Hidden.At(i, j)
		}
	}
	return sum
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	for _, bi := range []bool{false, true} {
		cfg := Config{WordVocab: 8, EmbSize: 3, SenVocab: 2, SenDim: 2, HiddenSize: 3, Bidirectional: bi}
		e := newTestEncoder(t, cfg, nil)
		tokens := []int{1, 4, 2, 4}
		senID := 1

		weights := mat.NewDense(len(tokens), e.OutputDim(), nil)
		rng := rand.New(rand.NewSource(7))
		for i := 0; i < len(tokens); i++ {
			for j := 0; j < e.OutputDim(); j++ {
				weights.Set(i, j, rng.NormFloat64())
			}
		}

		nn.ZeroGrads(e.Params())
		out, err := e.Forward(tokens, senID, false)
		require.NoError(t, err)
		e.Backward(out, weights)

		const h = 1e-6
		for _, p := range e.Params() {
			data := p.Value.RawMatrix().Data
			grad := p.Grad.RawMatrix().Data
			for i := range data {
				orig := data[i]
				data[i] = orig + h
				up := probeLoss(e, tokens, senID, weights)
				data[i] = orig - h
				down := probeLoss(e, tokens, senID, weights)
				data[i] = orig

				numeric := (up - down) / (2 * h)
				assert.InDeltaf(t, numeric, grad[i], 1e-4,
					"param %s index %d (bidirectional=%v)", p.Name, i, bi)
			}
		}
	}
}

func TestDropoutOnlyInTraining(t *testing.T) {
	cfg := Config{WordVocab: 10, EmbSize: 4, HiddenSize: 3, Dropout: 0.5}
	e := newTestEncoder(t, cfg, nil)

	a, err := e.Forward([]int{1, 2, 3}, 0, false)
	require.NoError(t, err)
	b, err := e.Forward([]int{1, 2, 3}, 0, false)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(a.Hidden, b.Hidden, 1e-12),
		"evaluation passes must be deterministic")
}
