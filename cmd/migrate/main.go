// Command migrate applies and inspects the embedded database migrations.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"crm_saas_backend/migrations"
	"crm_saas_backend/platform/db"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type databaseURL string

func (u databaseURL) GetDatabaseURL() string { return string(u) }

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the CRM database schema",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("database url required: set DATABASE_URL or --database-url")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dsn, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := db.RunMigrations(cmd.Context(), databaseURL(dsn), migrations.FS)
				if err != nil {
					return err
				}
				cmd.Printf("applied %d migration(s)\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := db.Rollback(cmd.Context(), databaseURL(dsn), migrations.FS)
				if err != nil {
					return err
				}
				if v == 0 {
					cmd.Println("nothing to roll back")
					return nil
				}
				cmd.Printf("rolled back version %d\n", v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				statuses, err := db.Status(cmd.Context(), databaseURL(dsn), migrations.FS)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, state, s.Path)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := db.Version(cmd.Context(), databaseURL(dsn), migrations.FS)
				if err != nil {
					return err
				}
				cmd.Printf("%d\n", v)
				return nil
			},
		},
	)
	return root
}
