package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegnn/internal/config"
	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
	"github.com/dusk-indust/codegnn/internal/training"
)

func trainCmd(a *app) *cobra.Command {
	var (
		samples int
		epochs  int
		save    string
	)
	cmd := &cobra.Command{
		Use:   "train <dir>",
		Short: "Evaluate the contrastive objective over a codebase",
		Long: `Sample anchor, positive and negative graphs from the files under dir,
run the configured number of epochs and print the loss per epoch. Positives
are augmented views of the anchor. --save writes the model so later runs
can load it through model.path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := graph.NewTreeSitterParser()
			defer parser.Close()
			graphs, err := a.readGraphs(cmd, parser, args[0])
			if err != nil {
				return err
			}

			comp, err := a.cfg.NewCompressor()
			if err != nil {
				return err
			}
			batch := make([]gnn.BatchGraph, len(graphs))
			for i, g := range graphs {
				batch[i] = training.FromCodeGraph(comp.Extractor(), g, a.cfg.Compress.MaxNeighbors)
			}

			if samples <= 0 {
				samples = 4 * len(graphs)
			}
			rng := tensor.NewRand(a.cfg.Model.Seed)
			triplets, err := training.NewDataset(batch, a.cfg.Augment).Sample(samples, rng)
			if err != nil {
				return err
			}

			tcfg := a.cfg.Training
			if epochs > 0 {
				tcfg.Epochs = epochs
			}
			if err := tcfg.Validate(); err != nil {
				return err
			}
			trainer := training.NewTrainer(tcfg, training.WithLogger(a.logger))
			a.logger.Info("training", "graphs", len(graphs), "triplets", len(triplets), "epochs", tcfg.Epochs)

			history, err := trainer.Fit(cmd.Context(), comp.Model(), triplets)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EPOCH\tLOSS\tPENALTY\tLR")
			for _, s := range history {
				fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%g\n", s.Epoch, s.Loss, s.Penalty, s.LearningRate)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if save != "" {
				path := config.Resolve(a.cfg.Dir(), save)
				if err := comp.Model().SaveFile(path); err != nil {
					return err
				}
				a.logger.Info("saved model", "path", path, "fingerprint", comp.Model().Fingerprint())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&samples, "samples", 0, "triplets to sample (default 4 per file)")
	cmd.Flags().IntVar(&epochs, "epochs", 0, "override training.epochs")
	cmd.Flags().StringVar(&save, "save", "", "write the model to this path, relative to the project root")
	return cmd
}
