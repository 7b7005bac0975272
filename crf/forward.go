package crf

import (
	"fmt"
	"math"
)

// logSumExp computes log(sum(exp(xs))) with max subtraction so that large
// magnitudes never overflow.
func logSumExp(xs []float64) float64 {
	maxVal := math.Inf(-1)
	for _, x := range xs {
		if x > maxVal {
			maxVal = x
		}
	}
	if math.IsInf(maxVal, -1) {
		return maxVal
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// logZ runs the forward algorithm in log space and returns the log partition
// function together with the forward lattice alpha[t][y].
func (c *CRF) logZ(emissions [][]float64) (float64, [][]float64) {
	T := len(emissions)
	L := c.NumTags

	alpha := make([][]float64, T)
	alpha[0] = make([]float64, L)
	for y := range L {
		alpha[0][y] = c.Trans(c.Start(), y) + emissions[0][y]
	}

	work := make([]float64, L)
	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, L)
		for y := range L {
			for yp := range L {
				work[yp] = alpha[t-1][yp] + c.Trans(yp, y)
			}
			alpha[t][y] = logSumExp(work) + emissions[t][y]
		}
	}

	final := make([]float64, L)
	for y := range L {
		final[y] = alpha[T-1][y] + c.Trans(y, c.Stop())
	}
	return logSumExp(final), alpha
}

// pathScore returns the unnormalized log score of a single tag path.
func (c *CRF) pathScore(emissions [][]float64, tags []int) float64 {
	score := c.Trans(c.Start(), tags[0])
	for t, y := range tags {
		score += emissions[t][y]
		if t > 0 {
			score += c.Trans(tags[t-1], y)
		}
	}
	return score + c.Trans(tags[len(tags)-1], c.Stop())
}

// Score returns the negative log-likelihood -log P(gold | emissions) of one
// unpadded example. len(emissions) must equal len(gold) and be positive.
func (c *CRF) Score(emissions [][]float64, gold []int) (float64, error) {
	if err := c.check(emissions, gold); err != nil {
		return 0, err
	}
	z, _ := c.logZ(emissions)
	return z - c.pathScore(emissions, gold), nil
}

// Gradients holds the derivative of the negative log-likelihood with respect
// to the emission scores and the transition weights of one example.
type Gradients struct {
	Emissions [][]float64 // [T][NumTags]
	Trans     []float64   // same flat layout as CRF.Weights
}

// ScoreWithGradients returns the negative log-likelihood of one unpadded
// example together with its gradients: model marginals minus empirical
// counts, computed by a log-space forward-backward pass.
func (c *CRF) ScoreWithGradients(emissions [][]float64, gold []int) (float64, *Gradients, error) {
	if err := c.check(emissions, gold); err != nil {
		return 0, nil, err
	}
	T := len(emissions)
	L := c.NumTags

	z, alpha := c.logZ(emissions)
	nll := z - c.pathScore(emissions, gold)

	// Backward lattice: beta[t][y] = log sum over suffixes starting with y at t.
	beta := make([][]float64, T)
	beta[T-1] = make([]float64, L)
	for y := range L {
		beta[T-1][y] = c.Trans(y, c.Stop())
	}
	work := make([]float64, L)
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, L)
		for y := range L {
			for yn := range L {
				work[yn] = c.Trans(y, yn) + emissions[t+1][yn] + beta[t+1][yn]
			}
			beta[t][y] = logSumExp(work)
		}
	}

	g := &Gradients{
		Emissions: make([][]float64, T),
		Trans:     make([]float64, len(c.Weights)),
	}

	// Unary marginals drive the emission gradient and the START/STOP rows.
	for t := range T {
		g.Emissions[t] = make([]float64, L)
		for y := range L {
			g.Emissions[t][y] = math.Exp(alpha[t][y] + beta[t][y] - z)
		}
		g.Emissions[t][gold[t]] -= 1
	}
	for y := range L {
		marg0 := g.Emissions[0][y]
		if y == gold[0] {
			marg0 += 1
		}
		g.Trans[c.TransIndex(c.Start(), y)] = marg0
		margT := g.Emissions[T-1][y]
		if y == gold[T-1] {
			margT += 1
		}
		g.Trans[c.TransIndex(y, c.Stop())] = margT
	}
	g.Trans[c.TransIndex(c.Start(), gold[0])] -= 1
	g.Trans[c.TransIndex(gold[T-1], c.Stop())] -= 1

	// Pairwise marginals drive the tag-to-tag transition gradient.
	for t := 0; t < T-1; t++ {
		for i := range L {
			for j := range L {
				p := math.Exp(alpha[t][i] + c.Trans(i, j) + emissions[t+1][j] + beta[t+1][j] - z)
				g.Trans[c.TransIndex(i, j)] += p
			}
		}
		g.Trans[c.TransIndex(gold[t], gold[t+1])] -= 1
	}

	return nll, g, nil
}

// ScoreBatch sums the negative log-likelihood over a padded batch. emissions
// is [B][maxT][NumTags], masks is [B][maxT] with 1 marking valid positions
// as a contiguous prefix, gold is padded the same way. Padded positions do
// not advance the forward recursion.
func (c *CRF) ScoreBatch(emissions [][][]float64, masks [][]byte, gold [][]int) (float64, error) {
	var total float64
	for b := range emissions {
		T := maskLen(masks[b])
		nll, err := c.Score(emissions[b][:T], gold[b][:T])
		if err != nil {
			return 0, fmt.Errorf("crf: example %d: %w", b, err)
		}
		total += nll
	}
	return total, nil
}

func (c *CRF) check(emissions [][]float64, gold []int) error {
	if len(emissions) == 0 {
		return fmt.Errorf("crf: zero-length sequence")
	}
	if gold != nil && len(gold) != len(emissions) {
		return fmt.Errorf("crf: %d gold tags for %d positions", len(gold), len(emissions))
	}
	for t := range emissions {
		if len(emissions[t]) != c.NumTags {
			return fmt.Errorf("crf: emission row %d has %d scores, want %d",
				t, len(emissions[t]), c.NumTags)
		}
	}
	if gold != nil {
		for t, y := range gold {
			if y < 0 || y >= c.NumTags {
				return fmt.Errorf("crf: gold tag %d at position %d out of range", y, t)
			}
		}
	}
	return nil
}

func maskLen(mask []byte) int {
	n := 0
	for _, m := range mask {
		if m == 0 {
			break
		}
		n++
	}
	return n
}
