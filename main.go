// Command optiflow proposes short-premium index option orders: it observes
// the market, picks a strategy, places strikes and runs the risk gate.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"optiflow/api"
	"optiflow/config"
	"optiflow/logger"
	"optiflow/pipeline"
)

var (
	configPath string
	envFile    string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "optiflow",
	Short: "Options trade decision pipeline",
	Long: `optiflow scans the index, selects a Strangle or Straddle, places the short
strikes from the expected move and runs the proposal through the risk gate.
Orders are only ever proposed: every one is recorded as pending approval.`,
	Version:       version,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")

	runCmd.Flags().String("strategy", "", "force Strangle or Straddle")
	runCmd.Flags().Float64("sigma", 0, "override the sigma multiplier")
	runCmd.Flags().Bool("no-history", false, "do not open the history database")
	serveCmd.Flags().String("addr", "", "listen address (default from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads the dotenv file (if present), the configuration and the
// logger. Logs go to stderr so run output stays clean JSON.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to load %s: %v", envFile, err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Log
	logCfg.Output = os.Stderr
	if err := logger.Init(&logCfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print the final state",
	Long: `Run the pipeline once and print the final state document as JSON.

Examples:
  # Let the oracle (or the fallback) decide
  optiflow run

  # Force a straddle without touching the history
  optiflow run --strategy Straddle --no-history`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	strategy, _ := cmd.Flags().GetString("strategy")
	sigma, _ := cmd.Flags().GetFloat64("sigma")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	a, err := newApp(cfg, !noHistory, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := a.pipeline.RunOnce(ctx, pipeline.Request{Strategy: strategy, SigmaMult: sigma})
	if err != nil {
		return err
	}
	if a.store != nil {
		if rec, err := pipeline.Record(ctx, a.store.Orders(), out); err != nil {
			logger.Errorf("%v", err)
		} else if rec != nil {
			logger.Infof("recorded order #%d as %s", rec.ID, rec.Status)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out.State)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := newApp(cfg, true, true)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(a.pipeline, a.store, a.prompts, a.metrics, cfg.Server.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigChan:
		logger.Infof("received %s, shutting down", sig)
	}
	if err := server.Shutdown(); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	return <-errCh
}

// executeContext is used by tests to run a command line.
func executeContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
