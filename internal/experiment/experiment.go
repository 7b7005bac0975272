// Package experiment handles per-run bookkeeping: the experiment directory
// derived from the hyperparameters, and the slog handler that tees records
// to a log file next to the run's output.
package experiment

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Params names the hyperparameters that identify an experiment.
type Params struct {
	Task      string // combined task name
	Optimizer string
	LR        float64
	EmbSize   int
	Hidden    int
	BatchSize int
	Dropout   float64
	MaxNorm   float64
	TagEmb    int
	Alpha     float64
	HasIntent bool
	SenEmb    bool
}

// Path builds the experiment directory path under root from the
// hyperparameter string and creates it.
func Path(root string, p Params) (string, error) {
	name := fmt.Sprintf("model_%s__optim_%s__lr_%g__emb_%d__hid_%d__bs_%d__drop_%g__mn_%g",
		p.Task, p.Optimizer, p.LR, p.EmbSize, p.Hidden, p.BatchSize, p.Dropout, p.MaxNorm)
	name += fmt.Sprintf("__tes_%d", p.TagEmb)
	if p.HasIntent {
		name += fmt.Sprintf("__alpha_%g", p.Alpha)
	}
	if p.SenEmb {
		name += "__preSenEmb_in"
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("experiment: %w", err)
	}
	return dir, nil
}

// OpenLog creates the run's log file in dir (log_train.txt, or log_test.txt
// in decode-only mode) and installs a default slog handler writing to both
// the file and, unless silenced, stderr. The returned closer flushes the
// file.
func OpenLog(dir string, decodeOnly, verbose, silent bool) (io.Closer, error) {
	name := "log_train.txt"
	if decodeOnly {
		name = "log_test.txt"
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}

	var w io.Writer = f
	if !silent {
		w = io.MultiWriter(f, os.Stderr)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return f, nil
}

// OutputFile returns the per-epoch decode output path for a split, e.g.
// valid.iter3.
func OutputFile(dir, split string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.iter%d", split, epoch))
}
