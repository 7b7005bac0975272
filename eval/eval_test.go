package eval

import (
	"math"
	"reflect"
	"testing"
)

func TestChunksBasic(t *testing.T) {
	tags := []string{"O", "B-PER", "I-PER", "O", "B-LOC"}
	got := Chunks(tags)
	want := []Chunk{{"PER", 1, 2}, {"LOC", 4, 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Chunks = %v, want %v", got, want)
	}
}

func TestChunksAdjacentAndBareI(t *testing.T) {
	// B-X directly after B-X closes the first chunk; a leading I-X with no
	// open chunk starts one; I-Y after I-X switches chunks.
	tags := []string{"B-X", "B-X", "I-X", "I-Y", "O", "I-Z"}
	got := Chunks(tags)
	want := []Chunk{{"X", 0, 0}, {"X", 1, 2}, {"Y", 3, 3}, {"Z", 5, 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Chunks = %v, want %v", got, want)
	}
}

func TestChunksAllOutside(t *testing.T) {
	if got := Chunks([]string{"O", "O", "O"}); len(got) != 0 {
		t.Errorf("Chunks = %v, want none", got)
	}
}

func TestChunksEndsAtBoundary(t *testing.T) {
	got := Chunks([]string{"B-obj", "I-obj"})
	want := []Chunk{{"obj", 0, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Chunks = %v, want %v", got, want)
	}
}

func TestReconstructRoundTrip(t *testing.T) {
	cases := [][]string{
		{"O", "B-PER", "I-PER", "O", "B-LOC"},
		{"B-X", "I-X", "I-X"},
		{"O", "O"},
		{"B-A", "B-B", "B-A"},
	}
	for _, tags := range cases {
		got := Reconstruct(Chunks(tags), len(tags))
		if !reflect.DeepEqual(got, tags) {
			t.Errorf("round trip of %v = %v", tags, got)
		}
	}
}

func TestPRFZeroConvention(t *testing.T) {
	var c Counts
	p, r, f := c.PRF()
	if p != 0 || r != 0 || f != 0 {
		t.Errorf("empty counts PRF = %v %v %v, want zeros", p, r, f)
	}

	c = Counts{FP: 3, FN: 2} // TP == 0 with nonzero errors
	p, r, f = c.PRF()
	if p != 0 || r != 0 || f != 0 {
		t.Errorf("TP=0 PRF = %v %v %v, want zeros", p, r, f)
	}
}

func TestPRFFixture(t *testing.T) {
	var c Counts
	gold := []Chunk{{"PER", 0, 1}}
	pred := []Chunk{{"PER", 0, 1}, {"LOC", 2, 2}}
	c.AddChunks(pred, gold)

	if c.TP != 1 || c.FP != 1 || c.FN != 0 {
		t.Fatalf("counts = %+v, want TP=1 FP=1 FN=0", c)
	}
	p, r, f := c.PRF()
	if p != 50 || r != 100 {
		t.Errorf("P=%v R=%v, want 50, 100", p, r)
	}
	if math.Abs(f-66.66666666666667) > 1e-9 {
		t.Errorf("F1 = %v, want 66.67", f)
	}
}

func TestAddChunksDuplicates(t *testing.T) {
	// Membership comparison, not bipartite matching: duplicate predicted
	// chunks each count as a TP against a single gold chunk.
	var c Counts
	gold := []Chunk{{"PER", 0, 1}}
	pred := []Chunk{{"PER", 0, 1}, {"PER", 0, 1}}
	c.AddChunks(pred, gold)
	if c.TP != 2 || c.FP != 0 || c.FN != 0 {
		t.Errorf("counts = %+v, want TP=2 FP=0 FN=0", c)
	}
}

func TestAddSetsMultiLabel(t *testing.T) {
	var c Counts
	c.AddSets([]string{"B", "C"}, []string{"A", "B"})
	if c.TP != 1 || c.FP != 1 || c.FN != 1 {
		t.Errorf("counts = %+v, want TP=1 FP=1 FN=1", c)
	}
}

func TestAddSingle(t *testing.T) {
	var c Counts
	c.AddSingle("A", []string{"A"})
	c.AddSingle("B", []string{"A"})
	if c.TP != 1 || c.FP != 1 || c.FN != 1 {
		t.Errorf("counts = %+v, want TP=1 FP=1 FN=1", c)
	}
}

func TestSlotExactMatchEndToEnd(t *testing.T) {
	gold := []string{"O", "O", "B-obj"}

	var c Counts
	c.AddChunks(Chunks(gold), Chunks(gold))
	if p, r, f := c.PRF(); p != 100 || r != 100 || f != 100 {
		t.Errorf("exact prediction PRF = %v %v %v, want 100s", p, r, f)
	}

	c = Counts{}
	c.AddChunks(Chunks([]string{"O", "O", "O"}), Chunks(gold))
	if c.FN != 1 {
		t.Fatalf("counts = %+v, want FN=1", c)
	}
	if p, r, f := c.PRF(); p != 0 || r != 0 || f != 0 {
		t.Errorf("all-O prediction PRF = %v %v %v, want zeros", p, r, f)
	}
}
