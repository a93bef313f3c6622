package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-screening/internal/config"
)

func main() {
	var migrationDir string

	open := func() (*migrate.Migrate, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is not set")
		}
		m, err := migrate.New("file://"+migrationDir, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("migration failed to initialize: %w", err)
		}
		return m, nil
	}

	run := func(fn func(m *migrate.Migrate, args []string) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m, args)
		}
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(m *migrate.Migrate, _ []string) error {
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("up failed: %w", err)
			}
			fmt.Println("Migrated up successfully")
			return nil
		}),
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(m *migrate.Migrate, _ []string) error {
			if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("down failed: %w", err)
			}
			fmt.Println("Migrated down successfully")
			return nil
		}),
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: run(func(m *migrate.Migrate, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("version failed: %w", err)
			}
			fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)
			return nil
		}),
	}

	forceCmd := &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(m *migrate.Migrate, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force failed: %w", err)
			}
			fmt.Printf("Forced version to %d\n", v)
			return nil
		}),
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the screening database schema",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	root.AddCommand(upCmd, downCmd, versionCmd, forceCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
