package tagger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/crf"
	"github.com/happyhackingspace/slu/nn"
)

const padTag = 0

func randomHidden(t, d int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	h := mat.NewDense(t, d, nil)
	for i := 0; i < t; i++ {
		for j := 0; j < d; j++ {
			h.Set(i, j, rng.NormFloat64())
		}
	}
	return h
}

func TestNewValidation(t *testing.T) {
	_, err := New(CRF, 4, 3, 5)
	assert.Error(t, err, "padding tag out of range")
	_, err = New(Scheme("perceptron"), 4, 3, 0)
	assert.Error(t, err, "unknown scheme")
	m, err := New(Softmax, 4, 3, padTag)
	require.NoError(t, err)
	assert.Nil(t, m.Chain)
	m, err = New(CRF, 4, 3, padTag)
	require.NoError(t, err)
	assert.NotNil(t, m.Chain)
}

func TestSoftmaxLossSkipsPadPositions(t *testing.T) {
	m, err := New(Softmax, 3, 4, padTag)
	require.NoError(t, err)
	nn.InitUniform(m.Params(), 0.3, 9)

	hidden := randomHidden(4, 3, 2)
	res := m.Forward(hidden)
	full, err := m.Loss(res, []int{1, 2, 3, 1})
	require.NoError(t, err)

	// padding the gold of the last two positions must drop exactly their
	// contribution, whatever the emissions there are
	res2 := m.Forward(hidden)
	masked, err := m.Loss(res2, []int{1, 2, padTag, padTag})
	require.NoError(t, err)

	short := m.Forward(hidden.Slice(0, 2, 0, 3).(*mat.Dense))
	shortLoss, err := m.Loss(short, []int{1, 2})
	require.NoError(t, err)

	assert.InDelta(t, shortLoss, masked, 1e-12)
	assert.Greater(t, full, masked)
}

func TestSoftmaxDecodeIsArgmax(t *testing.T) {
	m, err := New(Softmax, 2, 3, padTag)
	require.NoError(t, err)
	res := &Result{Emissions: mat.NewDense(2, 3, []float64{
		0.1, 5, -1,
		2, 0, 1,
	})}
	path, err := m.Decode(res)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, path)
}

func TestCRFLossMatchesChainScore(t *testing.T) {
	m, err := New(CRF, 3, 3, padTag)
	require.NoError(t, err)
	nn.InitUniform(m.Params(), 0.3, 9)
	m.AfterStep()

	hidden := randomHidden(3, 3, 4)
	res := m.Forward(hidden)
	gold := []int{1, 2, 1}
	loss, err := m.Loss(res, gold)
	require.NoError(t, err)

	T, _ := res.Emissions.Dims()
	rows := make([][]float64, T)
	for i := range rows {
		rows[i] = res.Emissions.RawRowView(i)
	}
	direct, err := m.Chain.Score(rows, gold)
	require.NoError(t, err)
	assert.InDelta(t, direct, loss, 1e-10)

	path, err := m.Decode(res)
	require.NoError(t, err)
	_, want, err := m.Chain.Decode(rows)
	require.NoError(t, err)
	assert.Equal(t, want, path)
}

func TestLossGoldLengthMismatch(t *testing.T) {
	m, err := New(Softmax, 2, 3, padTag)
	require.NoError(t, err)
	res := m.Forward(randomHidden(3, 2, 1))
	_, err = m.Loss(res, []int{1})
	assert.Error(t, err)
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	for _, scheme := range []Scheme{Softmax, CRF} {
		t.Run(string(scheme), func(t *testing.T) {
			const (
				T = 3
				D = 3
				L = 3
			)
			m, err := New(scheme, D, L, padTag)
			require.NoError(t, err)
			nn.InitUniform(m.Params(), 0.4, 17)
			m.AfterStep()

			hidden := randomHidden(T, D, 8)
			gold := []int{1, 2, 1}
			lossAt := func() float64 {
				res := m.Forward(hidden)
				l, err := m.Loss(res, gold)
				require.NoError(t, err)
				return l
			}

			nn.ZeroGrads(m.Params())
			res := m.Forward(hidden)
			_, err = m.Loss(res, gold)
			require.NoError(t, err)
			dHidden := m.Backward(res, 1.0)

			const h = 1e-6
			for _, p := range m.Params() {
				data := p.Value.RawMatrix().Data
				grad := p.Grad.RawMatrix().Data
				for i := range data {
					if data[i] == crf.Impossible {
						continue
					}
					orig := data[i]
					data[i] = orig + h
					up := lossAt()
					data[i] = orig - h
					down := lossAt()
					data[i] = orig
					assert.InDeltaf(t, (up-down)/(2*h), grad[i], 1e-4,
						"param %s index %d", p.Name, i)
				}
			}
			for i := 0; i < T; i++ {
				for j := 0; j < D; j++ {
					orig := hidden.At(i, j)
					hidden.Set(i, j, orig+h)
					up := lossAt()
					hidden.Set(i, j, orig-h)
					down := lossAt()
					hidden.Set(i, j, orig)
					assert.InDeltaf(t, (up-down)/(2*h), dHidden.At(i, j), 1e-4,
						"hidden[%d][%d]", i, j)
				}
			}
		})
	}
}

func TestAfterStepRestoresConstraints(t *testing.T) {
	m, err := New(CRF, 2, 3, padTag)
	require.NoError(t, err)

	// simulate an optimizer walking the forbidden entries off their pin
	n := m.Chain.NumStates()
	for j := 0; j < n; j++ {
		m.Chain.Weights[m.Chain.TransIndex(j, m.Chain.Start())] = 1.5
		m.Chain.Weights[m.Chain.TransIndex(m.Chain.Stop(), j)] = -0.5
	}
	m.AfterStep()
	for j := 0; j < n; j++ {
		assert.Equal(t, crf.Impossible, m.Chain.Trans(j, m.Chain.Start()))
		assert.Equal(t, crf.Impossible, m.Chain.Trans(m.Chain.Stop(), j))
	}
}

func TestBackwardScaleIsLinear(t *testing.T) {
	m, err := New(Softmax, 2, 3, padTag)
	require.NoError(t, err)
	nn.InitUniform(m.Params(), 0.3, 3)

	hidden := randomHidden(2, 2, 5)
	res := m.Forward(hidden)
	_, err = m.Loss(res, []int{1, 2})
	require.NoError(t, err)
	nn.ZeroGrads(m.Params())
	d1 := m.Backward(res, 1.0)

	res2 := m.Forward(hidden)
	_, err = m.Loss(res2, []int{1, 2})
	require.NoError(t, err)
	nn.ZeroGrads(m.Params())
	d2 := m.Backward(res2, 0.5)

	var scaled mat.Dense
	scaled.Scale(2, d2)
	assert.True(t, mat.EqualApprox(d1, &scaled, 1e-12))
}
