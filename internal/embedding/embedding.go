// Package embedding loads the precomputed sentence-embedding table and its
// sentence bank.
package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ReadSentenceVectors reads a text file with one embedding per line,
// whitespace-separated floats, row index equal to line index. All rows must
// share one dimension.
func ReadSentenceVectors(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	defer f.Close()

	var rows [][]float64
	dim := -1
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("embedding: %s:%d: %w", path, lineNum, err)
			}
			row[i] = v
		}
		if dim < 0 {
			dim = len(row)
		} else if len(row) != dim {
			return nil, fmt.Errorf("embedding: %s:%d: dimension %d, want %d",
				path, lineNum, len(row), dim)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("embedding: read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("embedding: %s: no vectors", path)
	}

	table := mat.NewDense(len(rows), dim, nil)
	for i, row := range rows {
		table.SetRow(i, row)
	}
	return table, nil
}

// ReadSentenceBank reads the sentence file mapping each line's utterance
// text to its row in the sentence-vector table. Duplicate sentences keep
// the first row.
func ReadSentenceBank(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	defer f.Close()

	bank := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	idx := 0
	for scanner.Scan() {
		sen := strings.TrimSpace(scanner.Text())
		if _, ok := bank[sen]; !ok {
			bank[sen] = idx
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("embedding: read %s: %w", path, err)
	}
	return bank, nil
}
