// Package encoder implements the recurrent sequence encoder shared by the
// slot tagger and the intent classifier.
//
// The encoder embeds token IDs (optionally concatenated with a precomputed
// per-utterance sentence vector), runs an Elman recurrence in one or both
// directions, and exposes the per-token hidden states. Consumers decide how
// to pool them; Backward accepts the summed hidden-state gradient from all
// of them and backpropagates through time into the parameters.
package encoder

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/nn"
)

// Config sizes the encoder.
type Config struct {
	WordVocab     int
	EmbSize       int
	SenVocab      int // 0 disables the sentence-vector input
	SenDim        int
	HiddenSize    int
	Bidirectional bool
	Dropout       float64
}

// Encoder holds the trainable encoder parameters.
type Encoder struct {
	cfg   Config
	words *nn.Embedding
	sens  *nn.Embedding
	fwd   *cell
	bwd   *cell
	rng   *rand.Rand
}

// New builds an encoder. senVectors optionally seeds the sentence-embedding
// table row by row; it must have SenVocab rows of SenDim columns.
func New(cfg Config, senVectors *mat.Dense, rng *rand.Rand) (*Encoder, error) {
	if cfg.WordVocab <= 0 || cfg.EmbSize <= 0 || cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("encoder: invalid sizes %+v", cfg)
	}
	e := &Encoder{
		cfg:   cfg,
		words: nn.NewEmbedding("words", cfg.WordVocab, cfg.EmbSize),
		rng:   rng,
	}
	in := cfg.EmbSize
	if cfg.SenVocab > 0 {
		if cfg.SenDim <= 0 {
			return nil, fmt.Errorf("encoder: sentence vectors need a positive dimension")
		}
		e.sens = nn.NewEmbedding("sens", cfg.SenVocab, cfg.SenDim)
		in += cfg.SenDim
	}
	e.fwd = newCell("rnn.fwd", in, cfg.HiddenSize)
	if cfg.Bidirectional {
		e.bwd = newCell("rnn.bwd", in, cfg.HiddenSize)
	}

	if senVectors != nil {
		if err := e.SeedSentenceVectors(senVectors); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SeedSentenceVectors copies the pretrained table into the sentence
// embedding. Weight initialization overwrites the table, so callers re-seed
// after initializing.
func (e *Encoder) SeedSentenceVectors(senVectors *mat.Dense) error {
	if e.sens == nil {
		return fmt.Errorf("encoder: sentence vectors supplied but SenVocab is 0")
	}
	r, c := senVectors.Dims()
	if r != e.cfg.SenVocab || c != e.cfg.SenDim {
		return fmt.Errorf("encoder: sentence table is %dx%d, want %dx%d",
			r, c, e.cfg.SenVocab, e.cfg.SenDim)
	}
	for i := range r {
		e.sens.SeedRow(i, senVectors.RawRowView(i))
	}
	return nil
}

// Params returns all trainable parameters.
func (e *Encoder) Params() []*nn.Param {
	params := e.words.Params()
	if e.sens != nil {
		params = append(params, e.sens.Params()...)
	}
	params = append(params, e.fwd.params()...)
	if e.bwd != nil {
		params = append(params, e.bwd.params()...)
	}
	return params
}

// OutputDim returns the width of each hidden-state row.
func (e *Encoder) OutputDim() int {
	if e.cfg.Bidirectional {
		return 2 * e.cfg.HiddenSize
	}
	return e.cfg.HiddenSize
}

// HiddenSize returns the per-direction hidden width.
func (e *Encoder) HiddenSize() int {
	return e.cfg.HiddenSize
}

// Bidirectional reports whether a backward pass runs too.
func (e *Encoder) Bidirectional() bool {
	return e.cfg.Bidirectional
}

// Output carries the hidden states of one example plus the caches the
// backward pass needs.
type Output struct {
	Hidden *mat.Dense // [T][OutputDim]

	tokens  []int
	senID   int
	x       *mat.Dense // post-dropout inputs
	inMask  *mat.Dense
	outMask *mat.Dense
	fwdRun  *cellRun
	bwdRun  *cellRun
}

// Forward encodes one example. senID indexes the sentence-vector table and
// is ignored when the encoder was built without one. Dropout applies only
// when train is true.
func (e *Encoder) Forward(tokens []int, senID int, train bool) (*Output, error) {
	T := len(tokens)
	if T == 0 {
		return nil, fmt.Errorf("encoder: zero-length sequence")
	}

	x := e.words.Lookup(tokens)
	if e.sens != nil {
		sen := e.sens.Lookup([]int{senID})
		wide := mat.NewDense(T, e.cfg.EmbSize+e.cfg.SenDim, nil)
		for t := range T {
			for j := range e.cfg.EmbSize {
				wide.Set(t, j, x.At(t, j))
			}
			for j := range e.cfg.SenDim {
				wide.Set(t, e.cfg.EmbSize+j, sen.At(0, j))
			}
		}
		x = wide
	}

	out := &Output{tokens: tokens, senID: senID}
	if train {
		x, out.inMask = nn.Dropout(x, e.cfg.Dropout, e.rng.Float64)
	}
	out.x = x

	out.fwdRun = e.fwd.forward(x, false)
	hidden := out.fwdRun.h
	if e.bwd != nil {
		out.bwdRun = e.bwd.forward(x, true)
		wide := mat.NewDense(T, 2*e.cfg.HiddenSize, nil)
		for t := range T {
			for j := range e.cfg.HiddenSize {
				wide.Set(t, j, out.fwdRun.h.At(t, j))
				wide.Set(t, e.cfg.HiddenSize+j, out.bwdRun.h.At(t, j))
			}
		}
		hidden = wide
	}
	if train {
		hidden, out.outMask = nn.Dropout(hidden, e.cfg.Dropout, e.rng.Float64)
	}
	out.Hidden = hidden
	return out, nil
}

// Backward backpropagates the summed hidden-state gradient of one example
// through the recurrence and the embeddings, accumulating into Params.
func (e *Encoder) Backward(out *Output, dHidden *mat.Dense) {
	T := len(out.tokens)
	H := e.cfg.HiddenSize

	dHidden = nn.DropoutBackward(dHidden, out.outMask)

	var dx *mat.Dense
	if e.bwd != nil {
		dFwd := mat.NewDense(T, H, nil)
		dBwd := mat.NewDense(T, H, nil)
		for t := range T {
			for j := range H {
				dFwd.Set(t, j, dHidden.At(t, j))
				dBwd.Set(t, j, dHidden.At(t, H+j))
			}
		}
		dx = e.fwd.backward(out.fwdRun, dFwd)
		dx.Add(dx, e.bwd.backward(out.bwdRun, dBwd))
	} else {
		dx = e.fwd.backward(out.fwdRun, dHidden)
	}

	dx = nn.DropoutBackward(dx, out.inMask)

	if e.sens != nil {
		dWords := mat.NewDense(T, e.cfg.EmbSize, nil)
		dSen := mat.NewDense(1, e.cfg.SenDim, nil)
		for t := range T {
			for j := range e.cfg.EmbSize {
				dWords.Set(t, j, dx.At(t, j))
			}
			for j := range e.cfg.SenDim {
				dSen.Set(0, j, dSen.At(0, j)+dx.At(t, e.cfg.EmbSize+j))
			}
		}
		e.words.Backward(out.tokens, dWords)
		e.sens.Backward([]int{out.senID}, dSen)
	} else {
		e.words.Backward(out.tokens, dx)
	}
}
