package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/Dhoini/runsheet-api/internal/config"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/spf13/cobra"
)

// globalFlags общие флаги всех команд
type globalFlags struct {
	envPath  string
	logLevel string
}

func rootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:          "runsheetctl",
		Short:        "Operator tool for the RunSheet API",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.envPath, "env", ".env", "path to .env file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(
		premiumCommand(flags),
		eventsCommand(flags),
		migrateCommand(flags),
	)
	return cmd
}

func (f *globalFlags) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(f.envPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(logger.ParseLevel(f.logLevel)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
