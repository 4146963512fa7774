package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sofmeright/freightline/src/dispatch"
	"github.com/sofmeright/freightline/src/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive trigger events over HTTP",
	Long: `Run the webhook listener.

Events posted to /events go through the trigger policy; admitted runs are
scheduled per ref and bounded by trigger.max_parallel_runs. Run snapshots
are served under /runs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default: server.listen)")
	serveCmd.Flags().StringVar(&logDir, "log-dir", ".freightline/logs", "directory for per-run build logs")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Server.Listen
	if serveListen != "" {
		addr = serveListen
	}

	var token string
	if cfg.Server.TokenEnv != "" {
		token = os.Getenv(cfg.Server.TokenEnv)
	}
	if token == "" {
		logger.Warn().Str("env", cfg.Server.TokenEnv).Msg("no webhook token set; /events and /runs accept unauthenticated requests")
	}

	runner, closeSinks, err := newRunner(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer closeSinks()

	d, err := dispatch.New(ctx, cfg.Trigger, runner, logger)
	if err != nil {
		return err
	}
	d.Retain = cfg.Server.RetainRuns

	err = server.Serve(ctx, addr, server.NewHandler(d, token, logger), cfg.Server.ShutdownTimeout.Std(), logger)
	logger.Info().Msg("waiting for in-flight runs")
	d.Wait()
	return err
}
