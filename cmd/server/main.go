package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourorg/payment-reconciler/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cliState is shared by the subcommands once the root has loaded config.
type cliState struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	state := &cliState{}
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "Payment reconciliation engine",
		Long:          "Confirms payment provider redirects and commits each order or deposit exactly once.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.configPath)
			if err != nil {
				return err
			}
			level, err := cfg.SlogLevel()
			if err != nil {
				return err
			}
			state.cfg = cfg
			slog.SetDefault(newLogger(level))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&state.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(state))
	root.AddCommand(newBackendCmd(state))
	root.AddCommand(newInspectCmd(state))
	return root
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
