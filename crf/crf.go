// Package crf implements a linear-chain Conditional Random Field over
// neural emission scores.
//
// Unlike a feature-template CRF, the per-position scores arrive from an
// encoder as a [T][L] emission matrix; the CRF itself only owns the
// transition parameters. Two virtual states, START and STOP, bracket every
// sequence, so the transition matrix is (L+2)x(L+2).
package crf

import (
	"encoding/json"
	"fmt"
	"os"
)

// Impossible is the score assigned to structurally forbidden transitions
// (into START, out of STOP). It is negative enough to never win a max and to
// vanish under exp in the forward recursion, without producing -Inf
// arithmetic.
const Impossible = -10000.0

// CRF holds the transition parameters of a linear-chain CRF.
type CRF struct {
	NumTags int       `json:"num_tags"`
	Weights []float64 `json:"weights"`
	// Weight layout: flat (NumTags+2) x (NumTags+2) row-major transition
	// matrix. Weights[TransIndex(i, j)] scores the transition i -> j.
}

// New creates a CRF over numTags real tags. All learnable transitions start
// at zero; transitions into START and out of STOP are pinned at Impossible.
func New(numTags int) (*CRF, error) {
	if numTags <= 0 {
		return nil, fmt.Errorf("crf: need at least one tag, got %d", numTags)
	}
	c := &CRF{
		NumTags: numTags,
		Weights: make([]float64, (numTags+2)*(numTags+2)),
	}
	c.Freeze()
	return c, nil
}

// NumStates returns the number of states including START and STOP.
func (c *CRF) NumStates() int {
	return c.NumTags + 2
}

// Start returns the virtual START state index.
func (c *CRF) Start() int {
	return c.NumTags
}

// Stop returns the virtual STOP state index.
func (c *CRF) Stop() int {
	return c.NumTags + 1
}

// TransIndex returns the weight index for the transition from -> to.
func (c *CRF) TransIndex(from, to int) int {
	return from*c.NumStates() + to
}

// Trans returns the transition score from -> to.
func (c *CRF) Trans(from, to int) float64 {
	return c.Weights[c.TransIndex(from, to)]
}

// Freeze re-stamps the forbidden transitions. Call after every parameter
// update so the optimizer cannot drift them away from Impossible.
func (c *CRF) Freeze() {
	n := c.NumStates()
	for i := range n {
		c.Weights[c.TransIndex(i, c.Start())] = Impossible
		c.Weights[c.TransIndex(c.Stop(), i)] = Impossible
	}
}

// FreezeGrad zeroes the gradient entries of frozen transitions. grad must
// have the same layout as Weights.
func (c *CRF) FreezeGrad(grad []float64) {
	n := c.NumStates()
	for i := range n {
		grad[c.TransIndex(i, c.Start())] = 0
		grad[c.TransIndex(c.Stop(), i)] = 0
	}
}

// Save serializes the CRF to JSON.
func Save(c *CRF, path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load deserializes a CRF from JSON.
func Load(path string) (*CRF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c CRF
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if want := (c.NumTags + 2) * (c.NumTags + 2); len(c.Weights) != want {
		return nil, fmt.Errorf("crf: %s: %d weights for %d tags, want %d",
			path, len(c.Weights), c.NumTags, want)
	}
	return &c, nil
}
