// Package tagger implements the slot-tagging head: a linear emission layer
// over the encoder's hidden states, decoded and scored either through a
// linear-chain CRF or as independent per-token softmaxes.
package tagger

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/crf"
	"github.com/happyhackingspace/slu/nn"
)

// Scheme selects how tag sequences are scored and decoded.
type Scheme string

const (
	// Softmax scores each token independently; decoding is per-token
	// argmax with no structural constraint.
	Softmax Scheme = "softmax"
	// CRF scores whole tag paths with transition weights; decoding is
	// Viterbi.
	CRF Scheme = "crf"
)

// Model is the slot-tagging head.
type Model struct {
	Scheme Scheme
	Emit   *nn.Linear
	Chain  *crf.CRF

	chainParam *nn.Param
	numTags    int
	padTag     int
}

// New builds a tagging head over numTags labels, with padTag the reserved
// padding tag excluded from the softmax loss. The CRF scheme wraps the
// transition weights as a parameter so the optimizer updates them with
// everything else.
func New(scheme Scheme, hiddenDim, numTags, padTag int) (*Model, error) {
	if padTag < 0 || padTag >= numTags {
		return nil, fmt.Errorf("tagger: padding tag %d not within %d tags", padTag, numTags)
	}
	m := &Model{
		Scheme:  scheme,
		Emit:    nn.NewLinear("emit", hiddenDim, numTags),
		numTags: numTags,
		padTag:  padTag,
	}
	switch scheme {
	case Softmax:
	case CRF:
		chain, err := crf.New(numTags)
		if err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		m.Chain = chain
		n := chain.NumStates()
		m.chainParam = nn.WrapParam("crf.trans", n, n, chain.Weights)
	default:
		return nil, fmt.Errorf("tagger: unknown scheme %q", scheme)
	}
	return m, nil
}

// Params returns the trainable parameters of the head.
func (m *Model) Params() []*nn.Param {
	params := m.Emit.Params()
	if m.chainParam != nil {
		params = append(params, m.chainParam)
	}
	return params
}

// Result caches one example's emission scores.
type Result struct {
	Emissions *mat.Dense // [T][numTags]

	hidden     *mat.Dense
	dEmissions *mat.Dense
	dChain     []float64
}

// Forward computes emission scores for one unpadded example.
func (m *Model) Forward(hidden *mat.Dense) *Result {
	return &Result{
		Emissions: m.Emit.Forward(hidden),
		hidden:    hidden,
	}
}

// Loss computes the slot loss of one example against its gold tags and
// stashes the gradients for Backward. The CRF scheme returns the exact path
// negative log-likelihood; the softmax scheme sums masked per-token negative
// log-likelihoods with the pad tag weighted zero.
func (m *Model) Loss(res *Result, gold []int) (float64, error) {
	T, L := res.Emissions.Dims()
	if len(gold) != T {
		return 0, fmt.Errorf("tagger: %d gold tags for %d positions", len(gold), T)
	}

	if m.Scheme == CRF {
		nll, g, err := m.Chain.ScoreWithGradients(emissionRows(res.Emissions), gold)
		if err != nil {
			return 0, fmt.Errorf("tagger: %w", err)
		}
		res.dEmissions = mat.NewDense(T, L, nil)
		for t := range T {
			res.dEmissions.SetRow(t, g.Emissions[t])
		}
		res.dChain = g.Trans
		return nll, nil
	}

	var loss float64
	res.dEmissions = mat.NewDense(T, L, nil)
	for t := range T {
		y := gold[t]
		if y == m.padTag {
			continue
		}
		logp := nn.LogSoftmax(res.Emissions.RawRowView(t))
		loss -= logp[y]
		for c := range L {
			res.dEmissions.Set(t, c, math.Exp(logp[c]))
		}
		res.dEmissions.Set(t, y, res.dEmissions.At(t, y)-1)
	}
	return loss, nil
}

// Backward scales the stashed gradients and backpropagates through the
// emission layer (and into the CRF transition weights), returning the
// hidden-state gradient.
func (m *Model) Backward(res *Result, scale float64) *mat.Dense {
	var dEm mat.Dense
	dEm.Scale(scale, res.dEmissions)

	if m.Scheme == CRF && res.dChain != nil {
		m.Chain.FreezeGrad(res.dChain)
		n := m.Chain.NumStates()
		for i := range n {
			for j := range n {
				idx := m.Chain.TransIndex(i, j)
				m.chainParam.Grad.Set(i, j, m.chainParam.Grad.At(i, j)+res.dChain[idx]*scale)
			}
		}
	}
	return m.Emit.Backward(res.hidden, &dEm)
}

// AfterStep restores the structural transition constraints after an
// optimizer update.
func (m *Model) AfterStep() {
	if m.Chain != nil {
		m.Chain.Freeze()
	}
}

// Decode returns the predicted tag sequence: the Viterbi path for the CRF
// scheme, per-token argmax otherwise.
func (m *Model) Decode(res *Result) ([]int, error) {
	T, L := res.Emissions.Dims()
	if m.Scheme == CRF {
		_, path, err := m.Chain.Decode(emissionRows(res.Emissions))
		if err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		return path, nil
	}
	path := make([]int, T)
	for t := range T {
		best := 0
		for c := 1; c < L; c++ {
			if res.Emissions.At(t, c) > res.Emissions.At(t, best) {
				best = c
			}
		}
		path[t] = best
	}
	return path, nil
}

func emissionRows(m *mat.Dense) [][]float64 {
	T, _ := m.Dims()
	rows := make([][]float64, T)
	for t := range T {
		rows[t] = m.RawRowView(t)
	}
	return rows
}
