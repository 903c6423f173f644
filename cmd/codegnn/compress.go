package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/export"
	"github.com/dusk-indust/codegnn/internal/inference"
)

func compressCmd(a *app) *cobra.Command {
	var (
		format  string
		outPath string
		index   string
		stored  bool
	)
	cmd := &cobra.Command{
		Use:   "compress [path]",
		Short: "Compress a file or a codebase into an embedding",
		Long: `Compress one source file, a graph JSON file, or every supported file
under a directory. A directory yields one codebase embedding, the mean of
its file embeddings. --index also writes every file embedding to a
similarity index file for "codegnn search". --stored reads the graphs
saved by "codegnn parse --store" instead of parsing a path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" && outPath != "" {
				format = filepath.Ext(outPath)
			}
			f, err := compress.ParseFormat(format)
			if err != nil {
				return err
			}

			graphs, err := a.inputGraphs(cmd, args, stored)
			if err != nil {
				return err
			}

			engine, closeStore, err := a.engine()
			if err != nil {
				return err
			}
			defer closeStore()

			proc := inference.NewBatchProcessor(engine, 0, func(ev inference.ProgressEvent) {
				a.logger.Debug(inference.FormatProgress(ev))
			})
			results, err := proc.Process(cmd.Context(), graphs)
			if err != nil {
				return err
			}

			if index != "" {
				idx := inference.NewSimilaritySearch(engine)
				for _, r := range results {
					if err := idx.Add(r.FilePath, r.Embedding); err != nil {
						return err
					}
				}
				if err := export.WriteIndexFile(index, export.ExportIndex(idx, engine.ModelID(), engine.OutputDim())); err != nil {
					return err
				}
				a.logger.Info("wrote index", "path", index, "entries", idx.Size())
			}

			var emb *compress.ProjectEmbedding
			if len(results) == 1 {
				r := results[0]
				emb = &compress.ProjectEmbedding{Vector: r.Embedding, Metadata: r.Metadata, Degenerate: r.Degenerate}
			} else {
				emb, err = engine.Codebase(results)
				if err != nil {
					return err
				}
			}

			if outPath != "" {
				if err := compress.WriteFile(outPath, emb, f); err != nil {
					return err
				}
				a.logger.Info("wrote embedding", "path", outPath, "dim", emb.Dim(), "format", f)
				return nil
			}
			if f != compress.FormatJSON {
				return fmt.Errorf("format %s needs --output", f)
			}
			return compress.Encode(a.stdout, emb, f)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "embedding format: json, binary or vector (default from --output extension, else json)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write the embedding to this file instead of stdout")
	cmd.Flags().StringVar(&index, "index", "", "also write a similarity index of every file embedding")
	cmd.Flags().BoolVar(&stored, "stored", false, "compress the graphs in the configured graph database")
	return cmd
}
