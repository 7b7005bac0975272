package slu

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/happyhackingspace/slu/classifier"
	"github.com/happyhackingspace/slu/encoder"
	"github.com/happyhackingspace/slu/eval"
	"github.com/happyhackingspace/slu/internal/corpus"
	"github.com/happyhackingspace/slu/internal/embedding"
	"github.com/happyhackingspace/slu/internal/experiment"
	"github.com/happyhackingspace/slu/internal/vocab"
	"github.com/happyhackingspace/slu/nn"
	"github.com/happyhackingspace/slu/tagger"
)

// Scores holds the result of one evaluation pass. Losses are means of the
// per-batch normalized losses; the P/R/F1 numbers are percentages.
type Scores struct {
	TagLoss    float64
	IntentLoss float64

	SlotP, SlotR, SlotF1       float64
	IntentP, IntentR, IntentF1 float64
}

// TrainResult reports the best epoch of a training run.
type TrainResult struct {
	ExpDir    string
	BestEpoch int
	BestValid Scores
	BestTest  Scores
}

type datasets struct {
	words, tags, classes *vocab.Alphabet
	train, valid, test   []corpus.Example
	senVectors           *mat.Dense
	senDim               int
}

// loadData builds the vocabularies and reads the three corpus splits under
// the data root.
func loadData(opts *TrainOptions) (*datasets, error) {
	d := &datasets{}

	var err error
	if d.tags, err = vocab.Load(filepath.Join(opts.DataRoot, "vocab.slot")); err != nil {
		return nil, err
	}
	if d.classes, err = vocab.Load(filepath.Join(opts.DataRoot, "vocab.intent")); err != nil {
		return nil, err
	}
	trainPath := filepath.Join(opts.DataRoot, "train")
	if d.words, err = vocab.FromCorpus(trainPath, opts.MinWordFreq, opts.Lowercase); err != nil {
		return nil, err
	}
	if _, err = d.tags.PadID(); err != nil {
		return nil, err
	}
	slog.Info("vocabularies loaded",
		"words", d.words.Size(), "tags", d.tags.Size(), "intents", d.classes.Size())

	var senBank map[string]int
	if opts.SenVectors != "" {
		if d.senVectors, err = embedding.ReadSentenceVectors(opts.SenVectors); err != nil {
			return nil, err
		}
		if senBank, err = embedding.ReadSentenceBank(opts.SenBank); err != nil {
			return nil, err
		}
		_, d.senDim = d.senVectors.Dims()
		rows, _ := d.senVectors.Dims()
		slog.Info("sentence vectors loaded", "rows", rows, "dim", d.senDim, "bank", len(senBank))
	}

	if d.train, err = corpus.Load(trainPath, d.words, d.tags, d.classes, senBank, opts.Lowercase); err != nil {
		return nil, err
	}
	if d.valid, err = corpus.Load(filepath.Join(opts.DataRoot, "valid"), d.words, d.tags, d.classes, senBank, opts.Lowercase); err != nil {
		return nil, err
	}
	if d.test, err = corpus.Load(filepath.Join(opts.DataRoot, "test"), d.words, d.tags, d.classes, senBank, opts.Lowercase); err != nil {
		return nil, err
	}
	slog.Info("corpus loaded",
		"train", len(d.train), "valid", len(d.valid), "test", len(d.test))
	return d, nil
}

// build assembles the joint model from the options and loaded data.
func build(opts *TrainOptions, d *datasets) (*Model, error) {
	rng := rand.New(rand.NewSource(opts.Seed))

	cfg := encoder.Config{
		WordVocab:     d.words.Size(),
		EmbSize:       opts.EmbSize,
		HiddenSize:    opts.HiddenSize,
		Bidirectional: opts.Bidirectional,
		Dropout:       opts.Dropout,
	}
	if d.senVectors != nil {
		rows, _ := d.senVectors.Dims()
		cfg.SenVocab = rows
		cfg.SenDim = d.senDim
	}
	enc, err := encoder.New(cfg, d.senVectors, rng)
	if err != nil {
		return nil, err
	}

	padTag, err := d.tags.PadID()
	if err != nil {
		return nil, err
	}
	tag, err := tagger.New(tagger.Scheme(opts.TaggerScheme), enc.OutputDim(), d.tags.Size(), padTag)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Encoder: enc,
		Tagger:  tag,
		Words:   d.words,
		Tags:    d.tags,
		Classes: d.classes,
		opts:    opts,
		padWord: d.words.Get(vocab.Pad),
		padTag:  padTag,
		rng:     rng,
	}
	if opts.HasIntentTask() {
		pool, err := classifier.NewPooling(opts.IntentStrategy, enc.OutputDim(), enc.HiddenSize(), enc.Bidirectional())
		if err != nil {
			return nil, err
		}
		m.Intent, err = classifier.New(pool, d.classes.Size(), opts.IntentLoss == "multi")
		if err != nil {
			return nil, err
		}
	}

	tagParams, classParams := m.Params()
	nn.InitUniform(tagParams, opts.InitWeight, uint64(opts.Seed))
	nn.InitUniform(classParams, opts.InitWeight, uint64(opts.Seed)+1)
	if d.senVectors != nil {
		// re-seed the sentence table, InitUniform overwrote the pretrained rows
		if err := enc.SeedSentenceVectors(d.senVectors); err != nil {
			return nil, err
		}
	}
	m.Tagger.AfterStep()
	return m, nil
}

// Train runs the full training loop: per epoch one shuffled pass over the
// training split, then an evaluation pass over valid and test. The model is
// checkpointed whenever the combined validation F1 strictly improves.
func Train(opts *TrainOptions) (*TrainResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	task := opts.TaggerScheme
	if opts.HasIntentTask() {
		task += "__" + strings.ToLower(opts.IntentStrategy)
	}
	expDir, err := experiment.Path(opts.Experiment, experiment.Params{
		Task:      task,
		Optimizer: opts.Optimizer,
		LR:        opts.LR,
		EmbSize:   opts.EmbSize,
		Hidden:    opts.HiddenSize,
		BatchSize: opts.BatchSize,
		Dropout:   opts.Dropout,
		MaxNorm:   opts.MaxNorm,
		TagEmb:    opts.TagEmbSize,
		Alpha:     opts.TagWeight,
		HasIntent: opts.HasIntentTask(),
		SenEmb:    opts.SenVectors != "",
	})
	if err != nil {
		return nil, err
	}
	logC, err := experiment.OpenLog(expDir, false, opts.Verbose, opts.Silent)
	if err != nil {
		return nil, err
	}
	defer logC.Close()
	if err := SaveConfig(expDir, opts); err != nil {
		return nil, err
	}

	d, err := loadData(opts)
	if err != nil {
		return nil, err
	}
	m, err := build(opts, d)
	if err != nil {
		return nil, err
	}

	tagParams, classParams := m.Params()
	params := append(append([]*nn.Param{}, tagParams...), classParams...)
	optimizer, err := nn.NewOptimizer(opts.Optimizer, opts.LR)
	if err != nil {
		return nil, err
	}

	testBatch := opts.TestBatchSize
	if testBatch <= 0 {
		testBatch = opts.BatchSize
	}

	slog.Info("training starts", "time", time.Now().Format(time.ANSIC), "exp", expDir)
	perm := make([]int, len(d.train))
	for i := range perm {
		perm[i] = i
	}

	res := &TrainResult{ExpDir: expDir, BestEpoch: -1}
	bestF1 := -1.0
	for epoch := 0; epoch < opts.MaxEpoch; epoch++ {
		start := time.Now()
		m.rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		tagLoss, intentLoss, err := m.trainEpoch(d.train, perm, params, optimizer)
		if err != nil {
			return nil, fmt.Errorf("slu: epoch %d: %w", epoch, err)
		}
		slog.Info("training", "epoch", epoch, "time", time.Since(start).Seconds(),
			"tagLoss", tagLoss, "intentLoss", intentLoss)

		valScores, err := m.evaluateToFile(d.valid, testBatch, experiment.OutputFile(expDir, "valid", epoch), false)
		if err != nil {
			return nil, err
		}
		logScores("validation", epoch, valScores)
		testScores, err := m.evaluateToFile(d.test, testBatch, experiment.OutputFile(expDir, "test", epoch), false)
		if err != nil {
			return nil, err
		}
		logScores("evaluation", epoch, testScores)

		f1 := valScores.SlotF1
		if opts.HasIntentTask() {
			f1 = opts.TagWeight*valScores.SlotF1 + (1-opts.TagWeight)*valScores.IntentF1
		}
		if f1 > bestF1 {
			if err := m.Save(expDir, opts.SaveModel); err != nil {
				return nil, err
			}
			bestF1 = f1
			res.BestEpoch = epoch
			res.BestValid = valScores
			res.BestTest = testScores
			slog.Info("new best", "epoch", epoch,
				"validSlotF1", valScores.SlotF1, "validIntentF1", valScores.IntentF1,
				"testSlotF1", testScores.SlotF1, "testIntentF1", testScores.IntentF1)
		}
	}
	slog.Info("best result", "epoch", res.BestEpoch,
		"validSlotF1", res.BestValid.SlotF1, "validIntentF1", res.BestValid.IntentF1,
		"testSlotF1", res.BestTest.SlotF1, "testIntentF1", res.BestTest.IntentF1)
	return res, nil
}

// trainEpoch runs one shuffled pass over the training examples and returns
// the mean per-batch normalized losses.
func (m *Model) trainEpoch(examples []corpus.Example, perm []int, params []*nn.Param, optimizer nn.Optimizer) (tagLoss, intentLoss float64, err error) {
	opts := m.opts
	var batches int
	for off := 0; off < len(perm); off += opts.BatchSize {
		b := corpus.Minibatch(examples, perm, off, opts.BatchSize, m.padWord, m.padTag)
		nn.ZeroGrads(params)

		tagScale := 1.0 / float64(b.TotalTokens())
		intentScale := 0.0
		if m.Intent != nil {
			tagScale = opts.TagWeight / float64(b.TotalTokens())
			intentScale = (1 - opts.TagWeight) / float64(b.Size())
		}

		var bTag, bIntent float64
		for i := 0; i < b.Size(); i++ {
			n := b.Lengths[i]
			out, err := m.Encoder.Forward(b.Tokens[i][:n], b.SenIDs[i], true)
			if err != nil {
				return 0, 0, err
			}
			tagRes := m.Tagger.Forward(out.Hidden)
			l, err := m.Tagger.Loss(tagRes, b.Tags[i][:n])
			if err != nil {
				return 0, 0, err
			}
			bTag += l
			dHidden := m.Tagger.Backward(tagRes, tagScale)

			if m.Intent != nil {
				clsRes := m.Intent.Forward(out.Hidden)
				cl, err := m.Intent.Loss(clsRes, b.Intents[i])
				if err != nil {
					return 0, 0, err
				}
				bIntent += cl
				dHidden.Add(dHidden, m.Intent.Backward(clsRes, intentScale))
			}
			m.Encoder.Backward(out, dHidden)
		}

		if opts.MaxNorm > 0 {
			nn.ClipGradNorm(params, opts.MaxNorm)
		}
		optimizer.Step(params)
		m.Tagger.AfterStep()

		tagLoss += bTag / float64(b.TotalTokens())
		intentLoss += bIntent / float64(b.Size())
		batches++
	}
	if batches > 0 {
		tagLoss /= float64(batches)
		intentLoss /= float64(batches)
	}
	return tagLoss, intentLoss, nil
}

// Evaluate decodes the examples in order, writes one result line per example
// to out and scores slot chunks and intent labels. withLineNums prefixes
// each line with the example's corpus line number.
func (m *Model) Evaluate(examples []corpus.Example, batchSize int, out *bufio.Writer, withLineNums bool) (Scores, error) {
	perm := make([]int, len(examples))
	for i := range perm {
		perm[i] = i
	}

	var s Scores
	var slots, intents eval.Counts
	var batches int
	for off := 0; off < len(perm); off += batchSize {
		b := corpus.Minibatch(examples, perm, off, batchSize, m.padWord, m.padTag)

		var bTag, bIntent float64
		for i := 0; i < b.Size(); i++ {
			n := b.Lengths[i]
			enc, err := m.Encoder.Forward(b.Tokens[i][:n], b.SenIDs[i], false)
			if err != nil {
				return s, err
			}
			tagRes := m.Tagger.Forward(enc.Hidden)
			l, err := m.Tagger.Loss(tagRes, b.Tags[i][:n])
			if err != nil {
				return s, err
			}
			bTag += l
			predIDs, err := m.Tagger.Decode(tagRes)
			if err != nil {
				return s, err
			}
			pred := make([]string, n)
			for t, id := range predIDs {
				pred[t] = m.Tags.Str(id)
			}
			slots.AddChunks(eval.Chunks(pred), eval.Chunks(b.RawTags[i]))

			fields := make([]string, n)
			for t := 0; t < n; t++ {
				fields[t] = b.Words[i][t] + ":" + b.RawTags[i][t] + ":" + pred[t]
			}

			var goldStr, predStr string
			if m.Intent != nil {
				clsRes := m.Intent.Forward(enc.Hidden)
				cl, err := m.Intent.Loss(clsRes, b.Intents[i])
				if err != nil {
					return s, err
				}
				bIntent += cl

				gold := make([]string, len(b.Intents[i]))
				for k, id := range b.Intents[i] {
					gold[k] = m.Classes.Str(id)
				}
				goldStr = strings.Join(gold, ";")

				predClasses := m.Intent.Decode(clsRes)
				if m.Intent.Multi {
					labels := make([]string, len(predClasses))
					for k, id := range predClasses {
						labels[k] = m.Classes.Str(id)
					}
					intents.AddSets(labels, gold)
					predStr = strings.Join(labels, ";")
				} else {
					predStr = m.Classes.Str(predClasses[0])
					intents.AddSingle(predStr, gold)
				}
			}

			line := strings.Join(fields, " ") + " <=> " + goldStr + " <=> " + predStr
			if withLineNums {
				line = fmt.Sprintf("%d : %s", b.Lines[i], line)
			}
			if _, err := out.WriteString(line + "\n"); err != nil {
				return s, fmt.Errorf("slu: write output: %w", err)
			}
		}
		s.TagLoss += bTag / float64(b.TotalTokens())
		s.IntentLoss += bIntent / float64(b.Size())
		batches++
	}
	if batches > 0 {
		s.TagLoss /= float64(batches)
		s.IntentLoss /= float64(batches)
	}
	s.SlotP, s.SlotR, s.SlotF1 = slots.PRF()
	s.IntentP, s.IntentR, s.IntentF1 = intents.PRF()
	return s, out.Flush()
}

func (m *Model) evaluateToFile(examples []corpus.Example, batchSize int, path string, withLineNums bool) (Scores, error) {
	f, err := os.Create(path)
	if err != nil {
		return Scores{}, fmt.Errorf("slu: %w", err)
	}
	defer f.Close()
	return m.Evaluate(examples, batchSize, bufio.NewWriter(f), withLineNums)
}

func logScores(pass string, epoch int, s Scores) {
	slog.Info(pass, "epoch", epoch, "tagLoss", s.TagLoss, "intentLoss", s.IntentLoss,
		"P", s.SlotP, "R", s.SlotR, "F1", s.SlotF1,
		"clsP", s.IntentP, "clsR", s.IntentR, "clsF1", s.IntentF1)
}

// Decode evaluates a trained model over one corpus split in standalone
// mode. The model directory must hold the config.yaml and checkpoints of a
// training run; results go to OutPath with line-number prefixes.
func Decode(opts *DecodeOptions) (Scores, error) {
	if err := opts.Validate(); err != nil {
		return Scores{}, err
	}
	trainOpts, err := LoadSavedConfig(opts.ModelDir)
	if err != nil {
		return Scores{}, err
	}
	trainOpts.DataRoot = opts.DataRoot

	if err := os.MkdirAll(opts.OutPath, 0755); err != nil {
		return Scores{}, fmt.Errorf("slu: %w", err)
	}
	logC, err := experiment.OpenLog(opts.OutPath, true, opts.Verbose, opts.Silent)
	if err != nil {
		return Scores{}, err
	}
	defer logC.Close()

	d, err := loadData(trainOpts)
	if err != nil {
		return Scores{}, err
	}
	m, err := build(trainOpts, d)
	if err != nil {
		return Scores{}, err
	}
	if err := m.LoadCheckpoint(opts.ModelDir, trainOpts.SaveModel); err != nil {
		return Scores{}, err
	}

	split := opts.Split
	if split == "" {
		split = "test"
	}
	examples := d.test
	switch split {
	case "train":
		examples = d.train
	case "valid":
		examples = d.valid
	case "test":
	default:
		return Scores{}, fmt.Errorf("slu: unknown split %q", split)
	}

	batch := opts.TestBatchSize
	if batch <= 0 {
		batch = trainOpts.BatchSize
	}
	start := time.Now()
	s, err := m.evaluateToFile(examples, batch, filepath.Join(opts.OutPath, split+".eval"), true)
	if err != nil {
		return Scores{}, err
	}
	slog.Info("evaluation", "split", split, "time", time.Since(start).Seconds(),
		"tagLoss", s.TagLoss, "intentLoss", s.IntentLoss,
		"P", s.SlotP, "R", s.SlotR, "F1", s.SlotF1,
		"clsP", s.IntentP, "clsR", s.IntentR, "clsF1", s.IntentF1)
	return s, nil
}
