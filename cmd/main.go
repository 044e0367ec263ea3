package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"drift_spider/internal/app"
	"drift_spider/internal/config"
	"drift_spider/internal/logger"

	"github.com/spf13/cobra"
)

const defaultConfig = "config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the loaded configuration to every subcommand.
type cli struct {
	configPath string
	logLevel   string
	cfg        *config.SpiderConfig
}

func rootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   "drift_spider",
		Short: "Extract sections from pages and PDFs and detect content drift",
		Long: `drift_spider turns web pages, PDF files and sitemaps into an append-only
JSONL store of sections, and compares live sources with the stored snapshots
using embedding similarity.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file path (YAML or TOML, default ./config.yaml when present)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(
		c.ingestCmd(),
		c.compareCmd(),
		c.batchCmd(),
		c.translateCmd(),
		c.viewCmd(),
		c.dbCmd(),
		c.mirrorCmd(),
	)
	return cmd
}

func (c *cli) load() error {
	path := c.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfig); err == nil {
			path = defaultConfig
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger.InitLogger(cfg)
	c.cfg = cfg
	return nil
}

func (c *cli) newApp() (*app.SpiderApp, error) {
	return app.NewSpiderApp(c.cfg)
}
