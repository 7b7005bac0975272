// Package eval scores slot-tagging and intent-detection output.
//
// Slot predictions are scored by exact span match: BIO tag sequences are
// converted to labeled chunks and compared chunk-by-chunk. Intent
// predictions are scored as label sets. Both feed the same P/R/F1 counters.
package eval

import "strings"

// Chunk is a labeled token span extracted from a BIO tag sequence.
// Start and End are inclusive token indices.
type Chunk struct {
	Label string
	Start int
	End   int
}

// Chunks extracts labeled spans from a BIO/IOB tag sequence. The sequence is
// treated as if bracketed by an outer "O" on both sides: a chunk of label X
// opens on any tag introducing X that does not continue an already-open X
// chunk, and closes as soon as the current tag is not I-X for the same X.
func Chunks(tags []string) []Chunk {
	var chunks []Chunk
	openLabel := ""
	openStart := 0
	for i, tag := range tags {
		prefix, label := splitTag(tag)
		cont := prefix == "I" && label == openLabel
		if openLabel != "" && !cont {
			chunks = append(chunks, Chunk{Label: openLabel, Start: openStart, End: i - 1})
			openLabel = ""
		}
		if label != "" && !cont {
			openLabel = label
			openStart = i
		}
	}
	if openLabel != "" {
		chunks = append(chunks, Chunk{Label: openLabel, Start: openStart, End: len(tags) - 1})
	}
	return chunks
}

// Reconstruct writes chunks back onto an all-"O" sequence of length n.
// For well-formed BIO input this is the inverse of Chunks.
func Reconstruct(chunks []Chunk, n int) []string {
	tags := make([]string, n)
	for i := range tags {
		tags[i] = "O"
	}
	for _, c := range chunks {
		if c.Start < 0 || c.End >= n {
			continue
		}
		tags[c.Start] = "B-" + c.Label
		for i := c.Start + 1; i <= c.End; i++ {
			tags[i] = "I-" + c.Label
		}
	}
	return tags
}

// splitTag returns the BIO prefix and the chunk label, or ("", "") for "O"
// and the padding tag. Tags without a B-/I- prefix act as chunk starts of
// their own label.
func splitTag(tag string) (prefix, label string) {
	switch tag {
	case "O", "", "<pad>":
		return "", ""
	}
	if p, l, ok := strings.Cut(tag, "-"); ok && (p == "B" || p == "I") {
		return p, l
	}
	return "B", tag
}
