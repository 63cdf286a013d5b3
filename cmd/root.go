package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/app"
	"github.com/firefly-engineering/sandboxd/internal/logging"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "Ephemeral sandbox lifecycle control plane",
	Long: `sandboxd gives every caller at most one live sandbox container.

Admins and users own long-lived sandboxes; visitors get one that expires
an hour after it was created. The record store is the source of truth and
every access checks it against the container runtime, so a record whose
container has disappeared is torn down and replaced rather than trusted.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose, jsonOutput, cmd.ErrOrStderr())
		logging.SetUserOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp(cmd.Context())
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default $SANDBOXD_CONFIG or "+defaultConfigHint+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
)

// closeApp releases the application built by getApp, unless a test
// installed its own.
func closeApp(ctx context.Context) error {
	if !ownsDefault || app.Default == nil {
		return nil
	}
	a := app.Default
	app.ResetDefault()
	ownsDefault = false
	return a.Close(ctx)
}
