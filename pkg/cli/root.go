package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/database"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env is what the admin commands operate on
type Env struct {
	Out io.Writer
	// OpenDB connects to the database. Each command closes what it opens.
	OpenDB func(ctx context.Context) (*sql.DB, error)
	// Migrations are applied by the migrate command in version order
	Migrations [][]database.Migration
	// Audit records catalog changes; nil discards them
	Audit audit.Logger
}

func (e *Env) auditLogger() audit.Logger {
	if e.Audit == nil {
		return audit.NopLogger()
	}
	return e.Audit
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "dealflow-admin",
		Description: "Dealflow administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("dealflow-admin", flag.ContinueOnError),
	}

	root.Subcommands["migrate"] = newMigrateCommand(env)
	root.Subcommands["seed"] = newSeedCommand(env)
	root.Subcommands["create-super-admin"] = newCreateSuperAdminCommand(env)

	root.out(env)
	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if isHelp(args[0]) {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

func (c *Command) out(env *Env) {
	if env != nil && env.Out != nil {
		c.Flags.SetOutput(env.Out)
	}
}

// usage prints the command usage
func (c *Command) usage() error {
	w := c.Flags.Output()
	fmt.Fprintf(w, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func isHelp(arg string) bool {
	switch strings.ToLower(arg) {
	case "-h", "--help", "help":
		return true
	}
	return false
}

// withDB opens the database for the duration of fn
func withDB(ctx context.Context, env *Env, fn func(db *sql.DB) error) error {
	db, err := env.OpenDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
