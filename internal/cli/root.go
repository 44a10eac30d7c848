// Package cli implements the agentpress command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"agentpress/internal/config"
	"agentpress/internal/provider/gemini"
	"agentpress/internal/provider/ollama"
	"agentpress/pkg/logger"
)

// GlobalFlags holds the persistent flags.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

type contextKey struct{}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	ollama.Register()
	gemini.Register()

	rootCmd := &cobra.Command{
		Use:   "agentpress",
		Short: "Agentpress - thread context runtime for LLM agents",
		Long: `Agentpress keeps conversation threads, fits them into a model's
context window and drives the model through tool-call continuations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			configPath := globalFlags.ConfigPath
			if configPath == "" {
				var err error
				configPath, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logCfg := cfg.Log
			if globalFlags.Verbose {
				logCfg.Level = "debug"
			}
			if globalFlags.Quiet {
				logCfg.Level = "error"
			}
			if err := logger.Init(logCfg); err != nil {
				return err
			}

			log := logger.Get()
			cliCtx := NewCLIContext(cfg, configPath, log, globalFlags.Verbose, globalFlags.Quiet)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, contextKey{}, cliCtx))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewChatCmd())
	rootCmd.AddCommand(NewThreadCmd())
	rootCmd.AddCommand(NewExpandCmd())
	rootCmd.AddCommand(NewCompressCmd())
	rootCmd.AddCommand(NewSummarizeCmd())
	rootCmd.AddCommand(NewConfigCmd())

	return rootCmd
}

// GetCLIContext returns the context set up by the root command.
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}
