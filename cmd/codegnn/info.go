package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegnn/internal/features"
)

// projectInfo is the summary printed by `codegnn info`.
type projectInfo struct {
	Config       string             `json:"config"`
	ModelKind    string             `json:"model_kind"`
	Fingerprint  string             `json:"fingerprint"`
	Params       int                `json:"params"`
	InputDim     int                `json:"input_dim"`
	OutputDim    int                `json:"output_dim"`
	Features     []features.Segment `json:"features"`
	StorePath    string             `json:"store_path,omitempty"`
	StoreEntries int                `json:"store_entries"`
	StoreModels  int                `json:"store_models,omitempty"`
	Purged       int                `json:"purged,omitempty"`
}

func infoCmd(a *app) *cobra.Command {
	var (
		asJSON     bool
		purgeStale bool
	)
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the model, feature layout and embedding store",
		Long: `Show the model, its feature layout and the embedding store. Stored
embeddings are keyed by model fingerprint; --purge-stale deletes those of
every model other than the current one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comp, err := a.cfg.NewCompressor()
			if err != nil {
				return err
			}
			model := comp.Model()

			info := projectInfo{
				Config:      a.cfg.Path,
				ModelKind:   string(a.cfg.Model.Kind),
				Fingerprint: model.Fingerprint(),
				Params:      model.ParamCount(),
				InputDim:    model.Config.InputDim,
				OutputDim:   model.OutputDim(),
				Features:    a.cfg.Features.Layout(),
			}
			if a.cfg.Model.Path != "" {
				info.ModelKind = "file"
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
				info.StorePath = a.cfg.Store.Path
				if purgeStale {
					if info.Purged, err = store.PurgeStale(cmd.Context(), info.Fingerprint); err != nil {
						return err
					}
					a.logger.Info("purged stale embeddings", "removed", info.Purged)
				}
				if info.StoreEntries, err = store.Count(cmd.Context()); err != nil {
					return err
				}
				models, err := store.Models(cmd.Context())
				if err != nil {
					return err
				}
				info.StoreModels = len(models)
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "config\t%s\n", info.Config)
			fmt.Fprintf(tw, "model\t%s\n", info.ModelKind)
			fmt.Fprintf(tw, "fingerprint\t%s\n", info.Fingerprint)
			fmt.Fprintf(tw, "parameters\t%d\n", info.Params)
			fmt.Fprintf(tw, "dims\t%d -> %d\n", info.InputDim, info.OutputDim)
			if info.StorePath != "" {
				fmt.Fprintf(tw, "store\t%s (%d entries, %d models)\n", info.StorePath, info.StoreEntries, info.StoreModels)
			} else {
				fmt.Fprintf(tw, "store\tdisabled\n")
			}
			fmt.Fprintln(tw, "\nSEGMENT\tOFFSET\tWIDTH")
			for _, s := range info.Features {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Name, s.Offset, s.Width)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&purgeStale, "purge-stale", false, "delete stored embeddings of other models")
	return cmd
}
