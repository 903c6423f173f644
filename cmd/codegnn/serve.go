package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegnn/internal/export"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
	"github.com/dusk-indust/codegnn/internal/rpcserver"
	"github.com/dusk-indust/codegnn/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(a *app) *cobra.Command {
	var (
		addr      string
		indexPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve inference and similarity search over JSON-RPC",
		Long: `Start the JSON-RPC 2.0 inference server. Requests are POSTed to /rpc;
GET /healthz reports readiness and, with the prometheus metric exporter,
GET /metrics serves the engine metrics. --index preloads a similarity
index written by "codegnn compress --index".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			tcfg := a.cfg.Telemetry
			if tcfg.ServiceVersion == "" || tcfg.ServiceVersion == "dev" {
				tcfg.ServiceVersion = version
			}
			shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTelemetry(sctx); err != nil {
					a.logger.Warn("telemetry shutdown", "error", err)
				}
			}()

			engine, closeStore, err := a.engine()
			if err != nil {
				return err
			}
			defer closeStore()

			parser := graph.NewTreeSitterParser()
			defer parser.Close()

			models := inference.NewModelServer(engine, a.cfg.Server.Version)
			opts := []rpcserver.Option{
				rpcserver.WithParser(parser),
				rpcserver.WithMetricsHandler(telemetry.MetricsHandler()),
				rpcserver.WithLogger(a.logger),
			}
			if a.cfg.Server.MaxRequestBytes > 0 {
				opts = append(opts, rpcserver.WithMaxRequestBytes(a.cfg.Server.MaxRequestBytes))
			}
			srv := rpcserver.NewServer(models, opts...)
			if indexPath != "" {
				exp, err := export.ReadIndexFile(indexPath)
				if err != nil {
					return err
				}
				if err := export.LoadIndex(srv.Search(), exp, engine.ModelID()); err != nil {
					return err
				}
			}

			bound, err := srv.Start(ctx, addr)
			if err != nil {
				return err
			}
			a.logger.Info("serving",
				"addr", bound,
				"model", models.Version(),
				"dim", engine.OutputDim(),
				"indexed", srv.Search().Size(),
			)
			fmt.Fprintln(a.stdout, bound)

			<-ctx.Done()
			a.logger.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(sctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&indexPath, "index", "", "preload a similarity index file")
	return cmd
}
