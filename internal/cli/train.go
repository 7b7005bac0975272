package cli

import (
	"log/slog"
	"time"

	"github.com/happyhackingspace/slu"
	"github.com/spf13/cobra"
)

func (c *CLI) newTrainCommand() *cobra.Command {
	var configPath string
	opts := slu.DefaultTrainOptions()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a joint slot tagger and intent classifier",
		Args:  cobra.NoArgs,
		Example: `  slu train --dataroot data/atis-2 --tagger crf
  slu train --dataroot data/atis-2 --intent 2tails --tag-weight 0.5
  slu train --config run.yaml -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				// config file first, explicit flags win
				flags := *opts
				if err := opts.LoadConfig(configPath); err != nil {
					return err
				}
				applyChangedFlags(cmd, opts, &flags)
			}
			opts.Verbose = c.verbose
			opts.Silent = c.silent

			start := time.Now()
			res, err := slu.Train(opts)
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))
			slog.Info("Best model saved", "path", res.ExpDir, "epoch", res.BestEpoch,
				"validSlotF1", res.BestValid.SlotF1, "validIntentF1", res.BestValid.IntentF1)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file, overridden by explicit flags")
	f.StringVar(&opts.TaggerScheme, "tagger", opts.TaggerScheme, "Tagging scheme: softmax or crf")
	f.StringVar(&opts.IntentStrategy, "intent", opts.IntentStrategy, "Intent pooling: none, 2tails, maxpooling, hiddencnn or hiddenattention")
	f.StringVar(&opts.IntentLoss, "intent-loss", opts.IntentLoss, "Intent loss: single or multi")
	f.Float64Var(&opts.TagWeight, "tag-weight", opts.TagWeight, "Slot-loss weight alpha in (0, 1]")
	f.StringVar(&opts.DataRoot, "dataroot", opts.DataRoot, "Directory with train, valid, test, vocab.slot and vocab.intent")
	f.StringVar(&opts.SenVectors, "sen-vectors", opts.SenVectors, "Pretrained sentence-vector file")
	f.StringVar(&opts.SenBank, "sen-bank", opts.SenBank, "Sentence bank mapping utterances to vector rows")
	f.StringVar(&opts.Experiment, "experiment", opts.Experiment, "Experiment root directory")
	f.StringVar(&opts.SaveModel, "save-model", opts.SaveModel, "Checkpoint base name")
	f.IntVar(&opts.EmbSize, "emb-size", opts.EmbSize, "Word embedding size")
	f.IntVar(&opts.TagEmbSize, "tag-emb-size", opts.TagEmbSize, "Tag embedding size")
	f.IntVar(&opts.HiddenSize, "hidden-size", opts.HiddenSize, "Encoder hidden size per direction")
	f.BoolVar(&opts.Bidirectional, "bidirectional", opts.Bidirectional, "Run the encoder in both directions")
	f.Float64Var(&opts.Dropout, "dropout", opts.Dropout, "Dropout rate")
	f.Float64Var(&opts.InitWeight, "init-weight", opts.InitWeight, "Uniform init half-width")
	f.StringVar(&opts.Optimizer, "optimizer", opts.Optimizer, "Optimizer: sgd, adam, adadelta or rmsprop")
	f.Float64Var(&opts.LR, "lr", opts.LR, "Learning rate")
	f.Float64Var(&opts.MaxNorm, "max-norm", opts.MaxNorm, "Gradient clipping norm, 0 disables")
	f.IntVar(&opts.BatchSize, "batch-size", opts.BatchSize, "Training batch size")
	f.IntVar(&opts.TestBatchSize, "test-batch-size", opts.TestBatchSize, "Evaluation batch size, defaults to the training batch size")
	f.IntVar(&opts.MaxEpoch, "max-epoch", opts.MaxEpoch, "Number of training epochs")
	f.Int64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	f.IntVar(&opts.MinWordFreq, "min-word-freq", opts.MinWordFreq, "Minimum training frequency for vocabulary words")
	f.BoolVar(&opts.Lowercase, "lowercase", opts.Lowercase, "Lowercase all words")
	return cmd
}

// applyChangedFlags copies every flag the user set explicitly from the
// flag-bound options over the config-file values.
func applyChangedFlags(cmd *cobra.Command, opts, flags *slu.TrainOptions) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("tagger", func() { opts.TaggerScheme = flags.TaggerScheme })
	set("intent", func() { opts.IntentStrategy = flags.IntentStrategy })
	set("intent-loss", func() { opts.IntentLoss = flags.IntentLoss })
	set("tag-weight", func() { opts.TagWeight = flags.TagWeight })
	set("dataroot", func() { opts.DataRoot = flags.DataRoot })
	set("sen-vectors", func() { opts.SenVectors = flags.SenVectors })
	set("sen-bank", func() { opts.SenBank = flags.SenBank })
	set("experiment", func() { opts.Experiment = flags.Experiment })
	set("save-model", func() { opts.SaveModel = flags.SaveModel })
	set("emb-size", func() { opts.EmbSize = flags.EmbSize })
	set("tag-emb-size", func() { opts.TagEmbSize = flags.TagEmbSize })
	set("hidden-size", func() { opts.HiddenSize = flags.HiddenSize })
	set("bidirectional", func() { opts.Bidirectional = flags.Bidirectional })
	set("dropout", func() { opts.Dropout = flags.Dropout })
	set("init-weight", func() { opts.InitWeight = flags.InitWeight })
	set("optimizer", func() { opts.Optimizer = flags.Optimizer })
	set("lr", func() { opts.LR = flags.LR })
	set("max-norm", func() { opts.MaxNorm = flags.MaxNorm })
	set("batch-size", func() { opts.BatchSize = flags.BatchSize })
	set("test-batch-size", func() { opts.TestBatchSize = flags.TestBatchSize })
	set("max-epoch", func() { opts.MaxEpoch = flags.MaxEpoch })
	set("seed", func() { opts.Seed = flags.Seed })
	set("min-word-freq", func() { opts.MinWordFreq = flags.MinWordFreq })
	set("lowercase", func() { opts.Lowercase = flags.Lowercase })
}
