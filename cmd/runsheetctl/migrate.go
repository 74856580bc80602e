package main

import (
	"errors"
	"fmt"

	"github.com/Dhoini/runsheet-api/internal/db"

	"github.com/spf13/cobra"
)

func migrateCommand(global *globalFlags) *cobra.Command {
	var dsn string

	open := func() (*db.Migrator, error) {
		cfg, log, err := global.load()
		if err != nil {
			return nil, err
		}
		if dsn == "" {
			dsn = cfg.Database.DSN
		}
		if dsn == "" {
			return nil, errors.New("database DSN is not set: use --dsn or DATABASE_DSN")
		}
		return db.NewMigrator(dsn, log)
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the roster database schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL URL (default DATABASE_DSN)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Up()
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Down()
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()

			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"version": version, "dirty": dirty})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}
