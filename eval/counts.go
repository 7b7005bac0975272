package eval

// Counts accumulates exact-match decisions over one full evaluation pass.
// Counters only ever increase; TN is kept for symmetry but never used.
type Counts struct {
	TP float64
	FP float64
	FN float64
	TN float64
}

// AddChunks scores predicted chunks against gold chunks by set membership.
// Each predicted chunk present anywhere in the gold list counts one TP,
// otherwise one FP; each gold chunk absent from the predicted list counts
// one FN. Duplicates are counted independently on both sides, so repeated
// predicted chunks can each match the same gold chunk.
func (c *Counts) AddChunks(pred, gold []Chunk) {
	for _, p := range pred {
		if containsChunk(gold, p) {
			c.TP++
		} else {
			c.FP++
		}
	}
	for _, g := range gold {
		if !containsChunk(pred, g) {
			c.FN++
		}
	}
}

// AddSets scores predicted label sets against gold label sets with the same
// membership rule, used for multi-label intents.
func (c *Counts) AddSets(pred, gold []string) {
	for _, p := range pred {
		if containsString(gold, p) {
			c.TP++
		} else {
			c.FP++
		}
	}
	for _, g := range gold {
		if !containsString(pred, g) {
			c.FN++
		}
	}
}

// AddSingle scores a single-label prediction against a gold set. A miss is
// both a false positive and a false negative.
func (c *Counts) AddSingle(pred string, gold []string) {
	if containsString(gold, pred) {
		c.TP++
	} else {
		c.FP++
		c.FN++
	}
}

// PRF returns precision, recall and F1 as percentages. All three are zero
// when TP is zero, including the 0/0 case where FP and FN are also zero.
func (c *Counts) PRF() (p, r, f1 float64) {
	if c.TP == 0 {
		return 0, 0, 0
	}
	p = 100 * c.TP / (c.TP + c.FP)
	r = 100 * c.TP / (c.TP + c.FN)
	f1 = 100 * 2 * c.TP / (2*c.TP + c.FP + c.FN)
	return p, r, f1
}

func containsChunk(chunks []Chunk, c Chunk) bool {
	for _, x := range chunks {
		if x == c {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
