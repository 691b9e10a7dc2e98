package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/billing"
	"github.com/platinummonkey/dealflow/pkg/cli"
	"github.com/platinummonkey/dealflow/pkg/config"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/orgs"
	"github.com/platinummonkey/dealflow/pkg/rbac"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCommand(&cli.Env{
		Out: os.Stdout,
		OpenDB: func(ctx context.Context) (*sql.DB, error) {
			cfg, err := config.LoadConfig()
			if err != nil {
				return nil, err
			}
			return database.Open(ctx, cfg.Database)
		},
		Migrations: [][]database.Migration{orgs.Migrations, auth.Migrations, rbac.Migrations, billing.Migrations},
		Audit:      audit.NewMultiLogger(audit.NewLogrusLogger(os.Stderr)),
	})

	if err := rootCmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
