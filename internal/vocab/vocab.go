// Package vocab maps between string labels and dense integer IDs.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Reserved labels. Every vocabulary assigns Pad the first ID; word
// vocabularies built from data additionally reserve Unk.
const (
	Pad = "<pad>"
	Unk = "<unk>"
)

// Alphabet is a bidirectional mapping between labels and contiguous IDs.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// New creates an empty alphabet.
func New() *Alphabet {
	return &Alphabet{ToID: make(map[string]int)}
}

// Add adds a label if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a label, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// Str returns the label for an ID, or the empty string if out of range.
func (a *Alphabet) Str(id int) string {
	if id < 0 || id >= len(a.ToStr) {
		return ""
	}
	return a.ToStr[id]
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}

// PadID returns the ID of the reserved padding label, or an error if the
// vocabulary does not contain it.
func (a *Alphabet) PadID() (int, error) {
	id := a.Get(Pad)
	if id < 0 {
		return 0, fmt.Errorf("vocab: reserved label %q missing", Pad)
	}
	return id, nil
}

// Load reads a label vocabulary from a line-oriented file. Only the first
// whitespace-separated field of each line is used; blank lines are skipped.
// The padding label is reserved before any file entries.
func Load(path string) (*Alphabet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	a := New()
	a.Add(Pad)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		a.Add(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}
	return a, nil
}

// FromCorpus builds a word vocabulary from a training-split file where each
// line is "w1:t1 w2:t2 ... <=> intents". Words occurring fewer than minFreq
// times map to the reserved unknown label. Ties in frequency resolve by
// first-seen order, which keeps IDs stable across runs.
func FromCorpus(path string, minFreq int, lowercase bool) (*Alphabet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	counts := make(map[string]int)
	var order []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		seq, _, ok := strings.Cut(line, "<=>")
		if !ok {
			seq = line
		}
		for _, pair := range strings.Fields(seq) {
			i := strings.LastIndex(pair, ":")
			if i <= 0 {
				continue
			}
			w := pair[:i]
			if lowercase {
				w = strings.ToLower(w)
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	a := New()
	a.Add(Pad)
	a.Add(Unk)
	for _, w := range order {
		if counts[w] >= minFreq {
			a.Add(w)
		}
	}
	return a, nil
}
