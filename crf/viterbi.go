package crf

import (
	"fmt"
	"math"
)

// Decode finds the best tag path for one unpadded example using the Viterbi
// algorithm, backtracking from the virtual STOP state.
func (c *CRF) Decode(emissions [][]float64) (float64, []int, error) {
	if err := c.check(emissions, nil); err != nil {
		return 0, nil, err
	}
	T := len(emissions)
	L := c.NumTags

	// delta[t][y] = best score of any path ending at (t, y)
	// psi[t][y] = predecessor of y on that path
	delta := make([][]float64, T)
	psi := make([][]int, T)

	delta[0] = make([]float64, L)
	psi[0] = make([]int, L)
	for y := range L {
		delta[0][y] = c.Trans(c.Start(), y) + emissions[0][y]
	}

	for t := 1; t < T; t++ {
		delta[t] = make([]float64, L)
		psi[t] = make([]int, L)
		for y := range L {
			bestScore := math.Inf(-1)
			bestPrev := 0
			for yp := range L {
				score := delta[t-1][yp] + c.Trans(yp, y)
				if score > bestScore {
					bestScore = score
					bestPrev = yp
				}
			}
			delta[t][y] = bestScore + emissions[t][y]
			psi[t][y] = bestPrev
		}
	}

	bestScore := math.Inf(-1)
	bestLast := 0
	for y := range L {
		score := delta[T-1][y] + c.Trans(y, c.Stop())
		if score > bestScore {
			bestScore = score
			bestLast = y
		}
	}

	path := make([]int, T)
	path[T-1] = bestLast
	for t := T - 2; t >= 0; t-- {
		path[t] = psi[t+1][path[t+1]]
	}
	return bestScore, path, nil
}

// DecodeBatch runs Viterbi over a padded batch, truncating each returned
// path to the example's true length as given by its mask prefix.
func (c *CRF) DecodeBatch(emissions [][][]float64, masks [][]byte) ([]float64, [][]int, error) {
	scores := make([]float64, len(emissions))
	paths := make([][]int, len(emissions))
	for b := range emissions {
		T := maskLen(masks[b])
		score, path, err := c.Decode(emissions[b][:T])
		if err != nil {
			return nil, nil, fmt.Errorf("crf: example %d: %w", b, err)
		}
		scores[b] = score
		paths[b] = path
	}
	return scores, paths, nil
}
