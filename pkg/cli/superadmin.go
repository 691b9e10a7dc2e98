package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/rbac"
	"github.com/platinummonkey/dealflow/pkg/validation"
)

// PasswordEnvVar is read when --password is not given
const PasswordEnvVar = "DEALFLOW_ADMIN_PASSWORD"

func newCreateSuperAdminCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "create-super-admin",
		Description: "Create a platform super admin account",
		Flags:       flag.NewFlagSet("create-super-admin", flag.ContinueOnError),
	}
	cmd.out(env)

	email := cmd.Flags.String("email", "", "Account email (required)")
	password := cmd.Flags.String("password", "", "Account password (or set "+PasswordEnvVar+")")
	firstName := cmd.Flags.String("first-name", "Platform", "First name")
	lastName := cmd.Flags.String("last-name", "Admin", "Last name")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		addr := auth.NormalizeEmail(*email)
		if !validation.Email(addr) {
			return errors.New("--email must be a valid email address")
		}
		secret := *password
		if secret == "" {
			secret = os.Getenv(PasswordEnvVar)
		}
		if len(secret) < auth.MinPasswordLength {
			return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
		}

		hash, err := auth.HashPassword(secret)
		if err != nil {
			return err
		}

		user := &auth.User{
			Email:        addr,
			PasswordHash: hash,
			FirstName:    *firstName,
			LastName:     *lastName,
			IsActive:     true,
			IsVerified:   true,
		}

		return withDB(ctx, env, func(db *sql.DB) error {
			store := rbac.NewStore(db)
			err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
				roles, err := store.RolesByNames(ctx, tx, []string{auth.RoleSuperAdmin})
				if err != nil {
					return err
				}
				if len(roles) == 0 {
					return fmt.Errorf("role %q does not exist; run seed first", auth.RoleSuperAdmin)
				}
				if err := auth.NewUserStore(db).Create(ctx, tx, user); err != nil {
					return err
				}
				return store.AssignRole(ctx, tx, user.ID, roles[0].ID)
			})
			var appErr *apperrors.Error
			if errors.As(err, &appErr) && appErr.Kind == apperrors.KindConflict {
				return fmt.Errorf("a user with email %s already exists", addr)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "created super admin %s (id %d)\n", user.Email, user.ID)
			return nil
		})
	}

	return cmd
}
