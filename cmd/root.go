// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/truelylabs/truely-cli/internal/config"
	"github.com/truelylabs/truely-cli/internal/observability"
)

// NewRootCommand builds a fresh command tree. A new instance per invocation
// keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     "truely",
		Short:   "Truely is an automated meeting integrity monitor.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				// Fall back to a usable logger so the error is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "truely"})
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting truely", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newMonitorCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// Execute runs the CLI against ctx and logs the failure, if any.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	observability.Sync()
	return err
}

// bindFlag panics on a nil flag, which only happens on a typo at build time.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}
