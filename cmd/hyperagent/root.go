package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hyperagent/internal/config"
	"hyperagent/internal/logging"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "hyperagent",
		Short:         "Agent orchestration backend",
		Long:          "hyperagent runs the HTTP edge and the job workers of the agent orchestration backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
		return cfg, nil
	}

	root.AddCommand(newServeCmd(loadConfig))
	root.AddCommand(newWorkerCmd(loadConfig))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hyperagent %s (%s)\n", version, gitCommit)
		},
	}
}
