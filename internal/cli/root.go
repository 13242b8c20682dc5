package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"farm-exporter/internal/app"
	"farm-exporter/internal/config"
	"farm-exporter/internal/logging"
	"farm-exporter/internal/source"
	"farm-exporter/internal/watchdog"
)

// Process exit codes.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitConfigInvalid      = 2
	ExitVersionUnsupported = 3
	ExitThresholdExceeded  = 4
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "farm-exporter",
	Short:         "Export Chia farm and pool statistics as Prometheus metrics",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Name() == versionCmd.Name() {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging).With().Str("service", cfg.App.Name).Logger()
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command and exits with a code describing the result.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, watchdog.ErrThresholdExceeded):
		return ExitThresholdExceeded
	case errors.Is(err, source.ErrVersionUnsupported):
		return ExitVersionUnsupported
	case errors.Is(err, config.ErrInvalid), errors.Is(err, source.ErrNotConfigured):
		return ExitConfigInvalid
	default:
		return ExitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
