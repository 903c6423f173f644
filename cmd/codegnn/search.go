package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegnn/internal/export"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
)

func searchCmd(a *app) *cobra.Command {
	var (
		indexPath string
		repo      string
		stored    bool
		k         int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "search <file>",
		Short: "Find the files most similar to a source file",
		Long: `Rank files by cosine similarity to the query file. The candidates come
from an index written by "codegnn compress --index", from the graph
database with --stored, or from parsing --repo otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parser := graph.NewTreeSitterParser()
			defer parser.Close()

			query, err := a.readGraphs(cmd, parser, args[0])
			if err != nil {
				return err
			}
			if len(query) != 1 {
				return fmt.Errorf("search takes one file, %s holds %d", args[0], len(query))
			}

			engine, closeStore, err := a.engine()
			if err != nil {
				return err
			}
			defer closeStore()

			idx := inference.NewSimilaritySearch(engine)
			if indexPath != "" {
				exp, err := export.ReadIndexFile(indexPath)
				if err != nil {
					return err
				}
				if err := export.LoadIndex(idx, exp, engine.ModelID()); err != nil {
					return err
				}
			} else {
				var graphs []*graph.CodeGraph
				if stored {
					graphs, err = a.storedGraphs(ctx)
				} else {
					graphs, err = a.readGraphs(cmd, parser, repo)
				}
				if err != nil {
					return err
				}
				if err := idx.IndexGraphs(ctx, graphs); err != nil {
					return err
				}
			}
			a.logger.Debug("index ready", "size", idx.Size())

			matches, err := idx.Search(ctx, query[0], k)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if matches == nil {
					matches = []inference.Match{}
				}
				return enc.Encode(matches)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tSCORE\tFILE")
			for i, m := range matches {
				fmt.Fprintf(tw, "%d\t%.4f\t%s\n", i+1, m.Score, m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&indexPath, "index", "", "index file written by compress --index")
	cmd.Flags().StringVar(&repo, "repo", ".", "directory to index when --index is not set")
	cmd.Flags().BoolVar(&stored, "stored", false, "search the graphs in the configured graph database")
	cmd.Flags().IntVarP(&k, "top", "k", 10, "number of matches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matches as JSON")
	return cmd
}
