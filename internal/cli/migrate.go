package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/migrate"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/store"
)

// dbFlags selects the profile database, defaulting to DWS_DB_DRIVER and DWS_DB_DSN.
type dbFlags struct {
	driver string
	dsn    string
}

func (f *dbFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.driver, "driver", "", "database driver: postgres or sqlite (default $DWS_DB_DRIVER)")
	cmd.PersistentFlags().StringVar(&f.dsn, "dsn", "", "database DSN (default $DWS_DB_DSN)")
}

func (a *app) openDB(f dbFlags) (*sql.DB, store.Dialect, error) {
	cfg, err := a.loadClient()
	if err != nil {
		return nil, "", err
	}
	driver, dsn := cfg.DBDriver, cfg.DBDSN
	if f.driver != "" {
		driver = f.driver
	}
	if f.dsn != "" {
		dsn = f.dsn
	}
	if dsn == "" {
		return nil, "", fmt.Errorf("missing DSN: provide via --dsn or DWS_DB_DSN")
	}
	return store.Open(driver, dsn)
}

func newMigrateCmd(a *app) *cobra.Command {
	var db dbFlags
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect profile database migrations",
		Long: `Manage the users_local and user_responsibility_roles schema.

Subcommands:
  up      Apply pending migrations
  down    Roll back the latest migration
  status  List applied migrations
  seed    Apply seed data`,
	}
	db.register(cmd)

	run := func(name string, fn func(cmd *cobra.Command, m *migrate.Manager) error) *cobra.Command {
		return &cobra.Command{
			Use:  name,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				conn, dialect, err := a.openDB(db)
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := fn(cmd, migrate.NewManager(conn, dialect)); err != nil {
					return fmt.Errorf("migrate %s: %w", name, err)
				}
				return nil
			},
		}
	}

	up := run("up", func(cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Up(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to apply.")
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	})
	up.Short = "Apply pending migrations"

	down := run("down", func(cmd *cobra.Command, m *migrate.Manager) error {
		name, err := m.Down(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
		return nil
	})
	down.Short = "Roll back the latest migration"

	status := run("status", func(cmd *cobra.Command, m *migrate.Manager) error {
		history, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		pending, err := m.Pending(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range history {
			fmt.Fprintf(cmd.OutOrStdout(), "applied  %s\n", name)
		}
		for _, name := range pending {
			fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", name)
		}
		return nil
	})
	status.Short = "List applied and pending migrations"

	seed := run("seed", func(cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Seed(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", name)
		}
		return nil
	})
	seed.Short = "Apply seed data"

	cmd.AddCommand(up, down, status, seed)
	return cmd
}
