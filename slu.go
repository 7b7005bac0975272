// Package slu jointly trains and evaluates a slot tagger and an intent
// classifier over a shared recurrent encoder.
//
// The slot tagger labels every token of an utterance with a BIO slot tag,
// decoded either through a linear-chain CRF or as independent per-token
// softmaxes. The intent classifier scores the whole utterance from a pooled
// view of the encoder's hidden states. Both tasks train against a weighted
// joint loss and are evaluated with exact-span chunk F1 and label-set F1.
//
//	opts := slu.DefaultTrainOptions()
//	opts.DataRoot = "data/atis-2"
//	result, _ := slu.Train(opts)
//	fmt.Println(result.BestValidSlotF1)
package slu

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/happyhackingspace/slu/classifier"
	"github.com/happyhackingspace/slu/encoder"
	"github.com/happyhackingspace/slu/internal/vocab"
	"github.com/happyhackingspace/slu/nn"
	"github.com/happyhackingspace/slu/tagger"
)

// Intent strategies. IntentNone disables the intent task entirely.
const (
	IntentNone = "none"
)

// TrainOptions configures a training run. All fields have YAML tags so a run
// can be described by a config file as well as flags.
type TrainOptions struct {
	TaggerScheme   string  `yaml:"tagger_scheme"`   // softmax | crf
	IntentStrategy string  `yaml:"intent_strategy"` // none | 2tails | maxpooling | hiddencnn | hiddenattention
	IntentLoss     string  `yaml:"intent_loss"`     // single | multi
	TagWeight      float64 `yaml:"tag_weight"`      // alpha in (0, 1]

	DataRoot   string `yaml:"data_root"`
	SenVectors string `yaml:"sen_vectors"`
	SenBank    string `yaml:"sen_bank"`
	Experiment string `yaml:"experiment"`
	SaveModel  string `yaml:"save_model"`

	EmbSize       int     `yaml:"emb_size"`
	TagEmbSize    int     `yaml:"tag_emb_size"`
	HiddenSize    int     `yaml:"hidden_size"`
	Bidirectional bool    `yaml:"bidirectional"`
	Dropout       float64 `yaml:"dropout"`
	InitWeight    float64 `yaml:"init_weight"`

	Optimizer     string  `yaml:"optimizer"`
	LR            float64 `yaml:"lr"`
	MaxNorm       float64 `yaml:"max_norm"`
	BatchSize     int     `yaml:"batch_size"`
	TestBatchSize int     `yaml:"test_batch_size"`
	MaxEpoch      int     `yaml:"max_epoch"`
	Seed          int64   `yaml:"seed"`

	MinWordFreq int  `yaml:"min_word_freq"`
	Lowercase   bool `yaml:"lowercase"`

	Verbose bool `yaml:"-"`
	Silent  bool `yaml:"-"`
}

// DefaultTrainOptions returns the defaults matching the flag surface.
func DefaultTrainOptions() *TrainOptions {
	return &TrainOptions{
		TaggerScheme:   string(tagger.CRF),
		IntentStrategy: IntentNone,
		IntentLoss:     "single",
		TagWeight:      0.5,
		Experiment:     "exp",
		SaveModel:      "model",
		EmbSize:        100,
		TagEmbSize:     100,
		HiddenSize:     100,
		Optimizer:      "sgd",
		LR:             0.01,
		MaxNorm:        5,
		BatchSize:      64,
		MaxEpoch:       50,
		Seed:           999,
		InitWeight:     0.2,
		MinWordFreq:    2,
	}
}

// Validate checks the option combination before anything is loaded.
func (o *TrainOptions) Validate() error {
	switch tagger.Scheme(o.TaggerScheme) {
	case tagger.Softmax, tagger.CRF:
	default:
		return fmt.Errorf("slu: unknown tagger scheme %q", o.TaggerScheme)
	}
	switch strings.ToLower(o.IntentStrategy) {
	case IntentNone, "2tails", "maxpooling", "hiddencnn", "hiddenattention":
	default:
		return fmt.Errorf("slu: unknown intent strategy %q", o.IntentStrategy)
	}
	switch o.IntentLoss {
	case "single", "multi":
	default:
		return fmt.Errorf("slu: unknown intent loss %q", o.IntentLoss)
	}
	if o.TagWeight <= 0 || o.TagWeight > 1 {
		return fmt.Errorf("slu: tag weight %g outside (0, 1]", o.TagWeight)
	}
	if o.DataRoot == "" {
		return fmt.Errorf("slu: data root is required")
	}
	if o.BatchSize <= 0 || o.MaxEpoch <= 0 {
		return fmt.Errorf("slu: batch size and max epoch must be positive")
	}
	if (o.SenVectors == "") != (o.SenBank == "") {
		return fmt.Errorf("slu: sentence vectors and sentence bank must be given together")
	}
	return nil
}

// HasIntentTask reports whether the intent classifier is active. A tag
// weight of exactly 1 leaves no weight for the intent loss, which disables
// the task just like strategy "none".
func (o *TrainOptions) HasIntentTask() bool {
	return strings.ToLower(o.IntentStrategy) != IntentNone && o.TagWeight < 1
}

// LoadConfig overlays a YAML config file onto the options.
func (o *TrainOptions) LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("slu: %w", err)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("slu: config %s: %w", path, err)
	}
	return nil
}

// DecodeOptions configures a standalone evaluation run over a trained model.
type DecodeOptions struct {
	ModelDir string // experiment directory holding config.yaml and checkpoints
	DataRoot string
	OutPath  string
	Split    string // corpus file under DataRoot, default "test"

	TestBatchSize int
	Verbose       bool
	Silent        bool
}

// Validate enforces the decode-mode flag contract: a model and an output
// path, both or neither.
func (o *DecodeOptions) Validate() error {
	if o.ModelDir == "" || o.OutPath == "" {
		return fmt.Errorf("slu: decode mode requires both a model directory and an output path")
	}
	if o.DataRoot == "" {
		return fmt.Errorf("slu: data root is required")
	}
	return nil
}

// Model bundles the jointly trained sub-models with their vocabularies.
type Model struct {
	Encoder *encoder.Encoder
	Tagger  *tagger.Model
	Intent  *classifier.Model

	Words   *vocab.Alphabet
	Tags    *vocab.Alphabet
	Classes *vocab.Alphabet

	opts    *TrainOptions
	padWord int
	padTag  int
	rng     *rand.Rand
}

// Params returns the tagger-side parameters (encoder plus tagging head) and
// the classifier-side parameters, mirroring the two checkpoint files.
func (m *Model) Params() (tagParams, classParams []*nn.Param) {
	tagParams = append(m.Encoder.Params(), m.Tagger.Params()...)
	if m.Intent != nil {
		classParams = m.Intent.Params()
	}
	return tagParams, classParams
}

// Save writes the sub-model checkpoints (<name>.tag and <name>.class) into
// dir.
func (m *Model) Save(dir, name string) error {
	tagParams, classParams := m.Params()
	if err := nn.SaveParams(filepath.Join(dir, name+".tag"), tagParams); err != nil {
		return fmt.Errorf("slu: save tagger: %w", err)
	}
	if m.Intent != nil {
		if err := nn.SaveParams(filepath.Join(dir, name+".class"), classParams); err != nil {
			return fmt.Errorf("slu: save classifier: %w", err)
		}
	}
	return nil
}

// LoadCheckpoint restores both sub-models from dir.
func (m *Model) LoadCheckpoint(dir, name string) error {
	tagParams, classParams := m.Params()
	if err := nn.LoadParams(filepath.Join(dir, name+".tag"), tagParams); err != nil {
		return fmt.Errorf("slu: load tagger: %w", err)
	}
	m.Tagger.AfterStep()
	if m.Intent != nil {
		if err := nn.LoadParams(filepath.Join(dir, name+".class"), classParams); err != nil {
			return fmt.Errorf("slu: load classifier: %w", err)
		}
	}
	return nil
}

// SaveConfig writes the options the model was built from into dir so a later
// decode run can rebuild an identical model.
func SaveConfig(dir string, opts *TrainOptions) error {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("slu: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// LoadSavedConfig reads the config.yaml written by a training run.
func LoadSavedConfig(dir string) (*TrainOptions, error) {
	opts := DefaultTrainOptions()
	if err := opts.LoadConfig(filepath.Join(dir, "config.yaml")); err != nil {
		return nil, err
	}
	return opts, nil
}
