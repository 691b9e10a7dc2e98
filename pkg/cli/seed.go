package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/rbac"
)

func newSeedCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Load the role and permission catalog",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}
	cmd.out(env)

	catalogPath := cmd.Flags.String("catalog", "", "YAML catalog file (defaults to the built-in catalog)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		catalog, err := rbac.LoadCatalogFile(*catalogPath)
		if err != nil {
			return err
		}

		return withDB(ctx, env, func(db *sql.DB) error {
			result, err := rbac.NewStore(db).ApplyCatalog(ctx, catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "seeded %d permissions, %d roles, %d new grants\n",
				result.Permissions, result.Roles, result.Grants)
			if err := env.auditLogger().LogDataMutation(ctx, audit.EventTypeAuthzCatalogApply, nil,
				audit.ResourceTypeRole, "catalog", &audit.ChangeDetails{After: map[string]interface{}{
					"permissions": result.Permissions, "roles": result.Roles, "grants": result.Grants,
				}}, "role catalog applied"); err != nil {
				fmt.Fprintf(env.Out, "warning: failed to write audit event: %v\n", err)
			}
			return nil
		})
	}

	return cmd
}
