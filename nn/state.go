package nn

import (
	"encoding/json"
	"fmt"
	"os"
)

type paramState struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// SaveParams serializes parameters to JSON keyed by name.
func SaveParams(path string, params []*Param) error {
	states := make(map[string]paramState, len(params))
	for _, p := range params {
		if _, ok := states[p.Name]; ok {
			return fmt.Errorf("nn: duplicate parameter name %q", p.Name)
		}
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := range r {
			data = append(data, p.Value.RawRowView(i)...)
		}
		states[p.Name] = paramState{Rows: r, Cols: c, Data: data}
	}
	out, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

// LoadParams restores parameters from a file written by SaveParams into the
// already-constructed params, which fixes the expected names and shapes.
func LoadParams(path string, params []*Param) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var states map[string]paramState
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("nn: %s: %w", path, err)
	}
	for _, p := range params {
		st, ok := states[p.Name]
		if !ok {
			return fmt.Errorf("nn: %s: missing parameter %q", path, p.Name)
		}
		r, c := p.Value.Dims()
		if st.Rows != r || st.Cols != c {
			return fmt.Errorf("nn: %s: parameter %q is %dx%d, want %dx%d",
				path, p.Name, st.Rows, st.Cols, r, c)
		}
		if len(st.Data) != r*c {
			return fmt.Errorf("nn: %s: parameter %q has %d values, want %d",
				path, p.Name, len(st.Data), r*c)
		}
		for i := range r {
			p.Value.SetRow(i, st.Data[i*c:(i+1)*c])
		}
	}
	return nil
}
