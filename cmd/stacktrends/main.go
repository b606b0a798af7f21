package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stacktrends/application"
	"stacktrends/config"
)

type runFunc func(ctx context.Context, settings *config.Settings, logger *zap.Logger) error

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:           "stacktrends",
		Short:         "Tag usage trends by country from a Q&A site dump",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration (default ./stacktrends.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")

	command := func(use, short string, run runFunc) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return execute(cmd.Context(), configPath, debug, run)
			},
		}
	}
	root.AddCommand(
		command("locations", "Resolve user locations to countries", application.Locations),
		command("datasets", "Build the tag datasets", application.Datasets),
	)
	return root
}

func execute(parent context.Context, configPath string, debug bool, run runFunc) error {
	logger, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	settings, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return err
	}
	settings.Debug = settings.Debug || debug

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("...program started")
	if err := run(ctx, settings, logger); err != nil {
		logger.Error("error has happened", zap.Error(err))
		return err
	}
	logger.Info("done")
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
