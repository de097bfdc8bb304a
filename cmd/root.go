package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tinoosan/mdarchive/internal/config"
	"github.com/tinoosan/mdarchive/internal/logging"
)

// commandContext carries what every subcommand shares: the resolved
// configuration and the process logger.
type commandContext struct {
	configPath *string
	cfg        config.Config
	log        *slog.Logger
	logCloser  io.Closer
}

func (c *commandContext) load() error {
	cfg := config.Default()
	if *c.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(*c.configPath); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	c.cfg, c.log, c.logCloser = cfg, log, closer
	return nil
}

func (c *commandContext) close() {
	if c.logCloser != nil {
		_ = c.logCloser.Close()
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configPath: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "mdarchive",
		Short:         "Archive titles, chapters and covers from the remote document API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))

	return rootCmd
}
