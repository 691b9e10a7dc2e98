package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	"github.com/platinummonkey/dealflow/pkg/database"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	cmd.out(env)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withDB(ctx, env, func(db *sql.DB) error {
			applied, err := database.Migrate(ctx, db, env.Migrations...)
			if err != nil {
				return err
			}
			if applied == 0 {
				fmt.Fprintln(env.Out, "database is up to date")
				return nil
			}
			fmt.Fprintf(env.Out, "applied %d migrations\n", applied)
			return nil
		})
	}

	return cmd
}
