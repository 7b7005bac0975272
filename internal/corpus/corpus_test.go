package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/happyhackingspace/slu/internal/vocab"
)

func testVocabs(t *testing.T) (words, tags, intents *vocab.Alphabet) {
	t.Helper()
	words = vocab.New()
	for _, w := range []string{vocab.Pad, vocab.Unk, "show", "flights", "to", "boston", "new", "york"} {
		words.Add(w)
	}
	tags = vocab.New()
	for _, tag := range []string{vocab.Pad, "O", "B-city", "I-city"} {
		tags.Add(tag)
	}
	intents = vocab.New()
	for _, c := range []string{vocab.Pad, "flight", "airfare"} {
		intents.Add(c)
	}
	return words, tags, intents
}

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	words, tags, intents := testVocabs(t)
	path := writeCorpus(t,
		"show:O flights:O to:O new:B-city york:I-city <=> flight\n"+
			"\n"+
			"flights:O to:O boston:B-city <=> flight;airfare\n")

	examples, err := Load(path, words, tags, intents, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 2 {
		t.Fatalf("examples = %d, want 2", len(examples))
	}

	ex := examples[0]
	if ex.Line != 1 {
		t.Errorf("line = %d, want 1", ex.Line)
	}
	if len(ex.Tokens) != 5 || len(ex.Tags) != 5 {
		t.Fatalf("lengths = %d/%d, want 5/5", len(ex.Tokens), len(ex.Tags))
	}
	if got := ex.RawTags[3]; got != "B-city" {
		t.Errorf("raw tag = %q, want B-city", got)
	}
	if got := ex.Tags[3]; got != tags.Get("B-city") {
		t.Errorf("tag id = %d, want %d", got, tags.Get("B-city"))
	}
	if len(ex.Intents) != 1 || ex.Intents[0] != intents.Get("flight") {
		t.Errorf("intents = %v", ex.Intents)
	}

	if got := examples[1].Line; got != 3 {
		t.Errorf("second example line = %d, want 3", got)
	}
	if got := len(examples[1].Intents); got != 2 {
		t.Errorf("multi intents = %d, want 2", got)
	}
}

func TestLoadUnknownWordMapsToUnk(t *testing.T) {
	words, tags, intents := testVocabs(t)
	path := writeCorpus(t, "show:O zurich:B-city <=> flight\n")

	examples, err := Load(path, words, tags, intents, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := examples[0].Tokens[1]; got != words.Get(vocab.Unk) {
		t.Errorf("unknown word id = %d, want unk id %d", got, words.Get(vocab.Unk))
	}
	// the surface form survives for output lines
	if got := examples[0].Words[1]; got != "zurich" {
		t.Errorf("surface word = %q, want zurich", got)
	}
}

func TestLoadErrors(t *testing.T) {
	words, tags, intents := testVocabs(t)
	cases := map[string]string{
		"unknown tag":      "show:B-airline <=> flight\n",
		"unknown intent":   "show:O <=> wizardry\n",
		"missing intents":  "show:O <=> \n",
		"no separator":     "show:O flights:O\n",
		"malformed pair":   "show flights:O <=> flight\n",
		"empty utterance":  " <=> flight\n",
		"colon at the end": "show::O bad: <=> flight\n",
	}
	for name, content := range cases {
		t.Run(strings.ReplaceAll(name, " ", "_"), func(t *testing.T) {
			path := writeCorpus(t, content)
			if _, err := Load(path, words, tags, intents, nil, false); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadSentenceBank(t *testing.T) {
	words, tags, intents := testVocabs(t)
	path := writeCorpus(t, "flights:O to:O boston:B-city <=> flight\n")

	bank := map[string]int{"flights to boston": 7}
	examples, err := Load(path, words, tags, intents, bank, false)
	if err != nil {
		t.Fatal(err)
	}
	if examples[0].SenID != 7 {
		t.Errorf("sen id = %d, want 7", examples[0].SenID)
	}

	if _, err := Load(path, words, tags, intents, map[string]int{}, false); err == nil {
		t.Fatal("expected error for utterance missing from sentence bank")
	}
}

func TestMinibatchPadsAndSorts(t *testing.T) {
	words, tags, intents := testVocabs(t)
	path := writeCorpus(t,
		"show:O <=> flight\n"+
			"show:O flights:O to:O boston:B-city <=> flight\n"+
			"flights:O to:O <=> airfare\n")
	examples, err := Load(path, words, tags, intents, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	padWord := words.Get(vocab.Pad)
	padTag := tags.Get(vocab.Pad)
	perm := []int{0, 1, 2}
	b := Minibatch(examples, perm, 0, 3, padWord, padTag)

	if b.Size() != 3 {
		t.Fatalf("size = %d, want 3", b.Size())
	}
	if got := b.Lengths; got[0] != 4 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("lengths = %v, want sorted [4 2 1]", got)
	}
	if b.TotalTokens() != 7 {
		t.Fatalf("total tokens = %d, want 7", b.TotalTokens())
	}

	for i := range b.Tokens {
		if len(b.Tokens[i]) != 4 || len(b.Tags[i]) != 4 || len(b.Masks[i]) != 4 {
			t.Fatalf("example %d not padded to 4", i)
		}
		for t2 := 0; t2 < 4; t2++ {
			if t2 < b.Lengths[i] {
				if b.Masks[i][t2] != 1 {
					t.Errorf("example %d mask[%d] = 0 inside length", i, t2)
				}
			} else {
				if b.Masks[i][t2] != 0 {
					t.Errorf("example %d mask[%d] = 1 in padding", i, t2)
				}
				if b.Tokens[i][t2] != padWord || b.Tags[i][t2] != padTag {
					t.Errorf("example %d padding carries non-pad ids", i)
				}
			}
		}
	}

	// raw tags stay unpadded and aligned with the sorted order
	if len(b.RawTags[0]) != 4 || len(b.RawTags[2]) != 1 {
		t.Errorf("raw tags padded or misaligned: %v", b.RawTags)
	}
	if b.Lines[0] != 2 {
		t.Errorf("longest example should be corpus line 2, got %d", b.Lines[0])
	}
}

func TestMinibatchClampsWindow(t *testing.T) {
	words, tags, intents := testVocabs(t)
	path := writeCorpus(t, "show:O <=> flight\nflights:O <=> flight\n")
	examples, err := Load(path, words, tags, intents, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	b := Minibatch(examples, []int{0, 1}, 1, 64, 0, 0)
	if b.Size() != 1 {
		t.Fatalf("size = %d, want 1", b.Size())
	}
}
