package cli

import (
	"log/slog"
	"time"

	"github.com/happyhackingspace/slu"
	"github.com/spf13/cobra"
)

func (c *CLI) newDecodeCommand() *cobra.Command {
	opts := &slu.DecodeOptions{}

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Evaluate a trained model over a corpus split",
		Args:  cobra.NoArgs,
		Example: `  slu decode --model exp/model_crf__... --dataroot data/atis-2 --out results
  slu decode --model exp/model_crf__... --dataroot data/atis-2 --out results --split valid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Verbose = c.verbose
			opts.Silent = c.silent

			start := time.Now()
			s, err := slu.Decode(opts)
			if err != nil {
				return err
			}
			slog.Debug("Decoding completed", "duration", time.Since(start))
			slog.Info("Results written", "path", opts.OutPath,
				"slotF1", s.SlotF1, "intentF1", s.IntentF1)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ModelDir, "model", "", "Experiment directory of a finished training run")
	f.StringVar(&opts.DataRoot, "dataroot", "", "Directory with train, valid, test, vocab.slot and vocab.intent")
	f.StringVar(&opts.OutPath, "out", "", "Output directory for result and log files")
	f.StringVar(&opts.Split, "split", "test", "Corpus split to evaluate: train, valid or test")
	f.IntVar(&opts.TestBatchSize, "test-batch-size", 0, "Evaluation batch size, defaults to the trained batch size")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
