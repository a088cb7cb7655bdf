package commands

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/restful/internal/cli/ui"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/conduit-lang/restful/internal/orm/sqlstore"
)

// NewDDLCommand creates the ddl command
func NewDDLCommand(opts *globalOptions) *cobra.Command {
	var dialectName string
	var apply bool

	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print or apply the CREATE TABLE statements of the schema",
		Example: `  restful ddl --dialect sqlite3
  restful ddl --apply`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			meta, err := schema.Load(cfg.Schema.Path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if apply {
				if cfg.Database.Driver == "memory" {
					return errors.New("--apply needs a SQL database; set database.driver and database.url")
				}
				log, err := newLogger(cfg)
				if err != nil {
					return err
				}
				cfg.Database.Migrate = true
				_, db, err := openStore(cmd.Context(), cfg, meta, log)
				if err != nil {
					return err
				}
				defer db.Close()
				ui.WriteSuccess(out, color.NoColor, "tables of %d models are in place", len(meta.Models()))
				return nil
			}

			if dialectName == "" {
				dialectName = cfg.Database.Driver
				if dialectName == "memory" {
					dialectName = "postgres"
				}
			}
			dialect, err := sqlstore.DialectFor(dialectName)
			if err != nil {
				return err
			}
			stmts, err := sqlstore.DDL(meta, dialect)
			if err != nil {
				return err
			}
			for _, stmt := range stmts {
				fmt.Fprintf(out, "%s;\n\n", stmt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dialectName, "dialect", "", "SQL dialect: postgres, pgx or sqlite3 (default from database.driver)")
	cmd.Flags().BoolVar(&apply, "apply", false, "create missing tables in the configured database")
	return cmd
}
