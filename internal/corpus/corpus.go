// Package corpus reads labeled utterances and assembles padded minibatches.
//
// Corpus files carry one utterance per line: whitespace-separated word:tag
// pairs, then "<=>", then one or more ";"-joined intent labels, e.g.
//
//	book:O a:O flight:B-obj <=> atis_flight
package corpus

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/happyhackingspace/slu/internal/vocab"
)

// Example is one utterance, immutable once read.
type Example struct {
	Words   []string
	Tokens  []int
	Tags    []int
	RawTags []string
	Intents []int
	SenID   int
	Line    int
}

// Load reads a corpus split. Unknown words map to the reserved unknown
// label; unknown tags or intents are data errors and abort the load, as does
// any malformed line. senBank, when non-nil, maps the joined utterance text
// to its sentence-vector row; a missing utterance is a data error.
func Load(path string, words, tags, intents *vocab.Alphabet, senBank map[string]int, lowercase bool) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()

	unk := words.Get(vocab.Unk)
	var examples []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		seq, intentPart, ok := strings.Cut(line, "<=>")
		if !ok {
			return nil, fmt.Errorf("corpus: %s:%d: missing intent separator", path, lineNum)
		}

		ex := Example{Line: lineNum}
		for _, pair := range strings.Fields(seq) {
			i := strings.LastIndex(pair, ":")
			if i <= 0 || i == len(pair)-1 {
				return nil, fmt.Errorf("corpus: %s:%d: malformed pair %q", path, lineNum, pair)
			}
			w, tag := pair[:i], pair[i+1:]
			if lowercase {
				w = strings.ToLower(w)
			}
			wid := words.Get(w)
			if wid < 0 {
				wid = unk
			}
			tid := tags.Get(tag)
			if tid < 0 {
				return nil, fmt.Errorf("corpus: %s:%d: unknown tag %q", path, lineNum, tag)
			}
			ex.Words = append(ex.Words, w)
			ex.Tokens = append(ex.Tokens, wid)
			ex.Tags = append(ex.Tags, tid)
			ex.RawTags = append(ex.RawTags, tag)
		}
		if len(ex.Tokens) == 0 {
			return nil, fmt.Errorf("corpus: %s:%d: empty utterance", path, lineNum)
		}

		for _, label := range strings.Split(intentPart, ";") {
			label = strings.TrimSpace(label)
			if label == "" {
				continue
			}
			cid := intents.Get(label)
			if cid < 0 {
				return nil, fmt.Errorf("corpus: %s:%d: unknown intent %q", path, lineNum, label)
			}
			ex.Intents = append(ex.Intents, cid)
		}
		if len(ex.Intents) == 0 {
			return nil, fmt.Errorf("corpus: %s:%d: no intent labels", path, lineNum)
		}

		if senBank != nil {
			id, ok := senBank[strings.Join(ex.Words, " ")]
			if !ok {
				return nil, fmt.Errorf("corpus: %s:%d: utterance missing from sentence bank", path, lineNum)
			}
			ex.SenID = id
		}

		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", path, err)
	}
	return examples, nil
}

// Batch is a padded view over a window of examples. Padding positions carry
// the reserved pad IDs and mask 0; raw tags and intents stay unpadded.
type Batch struct {
	Tokens  [][]int
	Tags    [][]int
	Masks   [][]byte
	Lengths []int
	Words   [][]string
	RawTags [][]string
	Intents [][]int
	SenIDs  []int
	Lines   []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.Lengths)
}

// TotalTokens returns the number of non-padded tokens across the batch.
func (b *Batch) TotalTokens() int {
	var n int
	for _, l := range b.Lengths {
		n += l
	}
	return n
}

// Minibatch gathers examples[perm[offset : offset+size]] (clamped to the
// permutation's end), orders them by decreasing length and pads token and
// tag matrices to the window's maximum length.
func Minibatch(examples []Example, perm []int, offset, size, padWord, padTag int) *Batch {
	end := offset + size
	if end > len(perm) {
		end = len(perm)
	}
	window := make([]int, end-offset)
	copy(window, perm[offset:end])
	sort.SliceStable(window, func(i, j int) bool {
		return len(examples[window[i]].Tokens) > len(examples[window[j]].Tokens)
	})

	maxT := 0
	for _, idx := range window {
		if l := len(examples[idx].Tokens); l > maxT {
			maxT = l
		}
	}

	b := &Batch{}
	for _, idx := range window {
		ex := examples[idx]
		T := len(ex.Tokens)

		tokens := make([]int, maxT)
		tags := make([]int, maxT)
		mask := make([]byte, maxT)
		for t := range maxT {
			if t < T {
				tokens[t] = ex.Tokens[t]
				tags[t] = ex.Tags[t]
				mask[t] = 1
			} else {
				tokens[t] = padWord
				tags[t] = padTag
			}
		}

		b.Tokens = append(b.Tokens, tokens)
		b.Tags = append(b.Tags, tags)
		b.Masks = append(b.Masks, mask)
		b.Lengths = append(b.Lengths, T)
		b.Words = append(b.Words, ex.Words)
		b.RawTags = append(b.RawTags, ex.RawTags)
		b.Intents = append(b.Intents, ex.Intents)
		b.SenIDs = append(b.SenIDs, ex.SenID)
		b.Lines = append(b.Lines, ex.Line)
	}
	return b
}
