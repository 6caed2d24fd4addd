package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rag-agent/backend/internal/bootstrap"
	"github.com/rag-agent/backend/pkg/config"
	"github.com/rag-agent/backend/pkg/logger"
)

var (
	configDir string
	logLevel  string

	agent *bootstrap.App
)

var (
	heading = color.New(color.FgGreen, color.Bold).SprintFunc()
	accent  = color.New(color.FgCyan, color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	failure = color.New(color.FgRed, color.Bold).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "agentctl",
	Short:         "Ask, search and manage documents of the RAG agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var paths []string
		if configDir != "" {
			paths = append(paths, configDir)
		}
		cfg, err := config.Load(paths...)
		if err != nil {
			return err
		}
		if err := logger.Init(logLevel, "console", "stderr"); err != nil {
			return err
		}

		agent, err = bootstrap.New(cmd.Context(), cfg)
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if agent != nil {
			agent.Close()
		}
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory holding config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level written to stderr")

	rootCmd.AddCommand(askCmd, searchCmd, indexCmd, removeCmd, evalCmd, synonymsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, failure("error:"), err)
		os.Exit(1)
	}
}
