package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/nn"
)

// Model scores intent labels from pooled encoder output.
type Model struct {
	Pool  Pooling
	Head  *nn.Linear
	Multi bool

	numClasses int
}

// New builds an intent classifier over numClasses labels using the given
// pooling strategy. Multi selects independent per-label sigmoid scoring
// instead of a single softmax.
func New(pool Pooling, numClasses int, multi bool) (*Model, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("classifier: need at least one class, got %d", numClasses)
	}
	return &Model{
		Pool:       pool,
		Head:       nn.NewLinear("intent", pool.OutDim(), numClasses),
		Multi:      multi,
		numClasses: numClasses,
	}, nil
}

// Params returns the trainable parameters of the head and the pooling layer.
func (m *Model) Params() []*nn.Param {
	return append(m.Head.Params(), m.Pool.Params()...)
}

// Result caches one example's forward pass.
type Result struct {
	Logits []float64

	hidden  *mat.Dense
	pooled  []float64
	pcache  any
	dlogits []float64
}

// Forward pools the hidden states and scores every intent label.
func (m *Model) Forward(hidden *mat.Dense) *Result {
	pooled, cache := m.Pool.Forward(hidden)
	logits := m.Head.Forward(mat.NewDense(1, len(pooled), pooled))
	return &Result{
		Logits: logits.RawRowView(0),
		hidden: hidden,
		pooled: pooled,
		pcache: cache,
	}
}

// Loss computes the example's intent loss and stashes the logit gradient for
// Backward. Single-label mode uses categorical negative log-likelihood over
// a softmax against gold[0]; multi-label mode sums independent binary
// cross-entropies against the gold label set.
func (m *Model) Loss(res *Result, gold []int) (float64, error) {
	if len(gold) == 0 {
		return 0, fmt.Errorf("classifier: example without gold intent")
	}
	res.dlogits = make([]float64, m.numClasses)

	if !m.Multi {
		logp := nn.LogSoftmax(res.Logits)
		y := gold[0]
		if y < 0 || y >= m.numClasses {
			return 0, fmt.Errorf("classifier: gold intent %d out of range", y)
		}
		for c := range m.numClasses {
			res.dlogits[c] = math.Exp(logp[c])
		}
		res.dlogits[y] -= 1
		return -logp[y], nil
	}

	target := make([]float64, m.numClasses)
	for _, y := range gold {
		if y < 0 || y >= m.numClasses {
			return 0, fmt.Errorf("classifier: gold intent %d out of range", y)
		}
		target[y] = 1
	}
	probs := nn.Sigmoid(res.Logits)
	var loss float64
	for c := range m.numClasses {
		p := clampProb(probs[c])
		if target[c] == 1 {
			loss -= math.Log(p)
		} else {
			loss -= math.Log(1 - p)
		}
		res.dlogits[c] = probs[c] - target[c]
	}
	return loss, nil
}

// Backward scales the stashed logit gradient and backpropagates through the
// head and the pooling layer, returning the hidden-state gradient.
func (m *Model) Backward(res *Result, scale float64) *mat.Dense {
	dlogits := mat.NewDense(1, m.numClasses, nil)
	for c := range m.numClasses {
		dlogits.Set(0, c, res.dlogits[c]*scale)
	}
	dPooled := m.Head.Backward(mat.NewDense(1, len(res.pooled), res.pooled), dlogits)
	return m.Pool.Backward(res.hidden, res.pcache, dPooled.RawRowView(0))
}

// Decode returns the predicted intent IDs: the argmax in single-label mode,
// every label whose probability exceeds 0.5 in multi-label mode (possibly
// none).
func (m *Model) Decode(res *Result) []int {
	if !m.Multi {
		best := 0
		for c := 1; c < m.numClasses; c++ {
			if res.Logits[c] > res.Logits[best] {
				best = c
			}
		}
		return []int{best}
	}
	var out []int
	for c, p := range nn.Sigmoid(res.Logits) {
		if p > 0.5 {
			out = append(out, c)
		}
	}
	return out
}

func clampProb(p float64) float64 {
	const eps = 1e-12
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
