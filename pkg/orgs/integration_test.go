//go:build integration

package orgs_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/billing"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/notify"
	"github.com/platinummonkey/dealflow/pkg/orgs"
	"github.com/platinummonkey/dealflow/pkg/rbac"
)

// setupPostgresTestDB starts a PostgreSQL container with every migration
// applied and the default catalog seeded
func setupPostgresTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("dealflow_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	sets := [][]database.Migration{orgs.Migrations, auth.Migrations, rbac.Migrations, billing.Migrations}
	applied, err := database.Migrate(ctx, db, sets...)
	require.NoError(t, err, "Failed to run migrations")
	assert.Positive(t, applied)

	// a second run is a no-op
	applied, err = database.Migrate(ctx, db, sets...)
	require.NoError(t, err)
	assert.Zero(t, applied)

	catalog, err := rbac.DefaultCatalog()
	require.NoError(t, err)
	_, err = rbac.NewStore(db).ApplyCatalog(ctx, catalog)
	require.NoError(t, err)

	return db
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent []notify.Invitation
}

func (n *capturingNotifier) SendInvitation(_ context.Context, inv notify.Invitation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, inv)
	return nil
}

func TestInvitationRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgresTestDB(t)
	ctx := context.Background()

	auditLogger, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	gate := authz.NewGate("root@example.com")
	roles := rbac.NewRegistry(db, gate, auditLogger, nil)
	tokens := auth.NewTokenStore(db)
	directory := orgs.NewDirectory(db, gate, auditLogger, nil, nil)
	notifier := &capturingNotifier{}

	registrar := orgs.NewRegistrar(orgs.RegistrarConfig{
		DB:       db,
		Roles:    roles,
		Tokens:   tokens,
		Audit:    auditLogger,
		TokenTTL: time.Hour,
	})
	invitations := orgs.NewInvitations(orgs.InvitationsConfig{
		DB:       db,
		Gate:     gate,
		Roles:    roles.Store(),
		Tokens:   tokens,
		Notifier: notifier,
		Audit:    auditLogger,
		TokenTTL: time.Hour,
	})

	// Register an organization; the registrant becomes its admin
	registered, err := registrar.Register(ctx, orgs.RegisterRequest{
		Email:                "founder@acme.test",
		Password:             "correct-horse",
		PasswordConfirmation: "correct-horse",
		FirstName:            "Sam",
		LastName:             "Founder",
		OrganizationName:     "Acme Capital",
	})
	require.NoError(t, err)
	admin := registered.User
	orgID := registered.Organization.ID
	assert.Equal(t, "acme-capital", registered.Organization.Slug)
	assert.Equal(t, []string{auth.RoleAdmin}, admin.Roles)
	require.NotEmpty(t, registered.Token)

	staff, err := roles.Store().RolesByNames(ctx, db, []string{auth.RoleStaff})
	require.NoError(t, err)
	require.Len(t, staff, 1)

	// Invite a staff member
	created, err := invitations.Create(ctx, admin, orgs.CreateInvitationRequest{
		Email:  " New.Hire@Acme.test ",
		RoleID: staff[0].ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "new.hire@acme.test", created.Email)
	assert.True(t, created.NotificationSent)
	require.Len(t, notifier.sent, 1)
	token := notifier.sent[0].Token
	assert.Equal(t, "Acme Capital", notifier.sent[0].OrganizationName)

	_, err = invitations.Create(ctx, admin, orgs.CreateInvitationRequest{Email: "new.hire@acme.test", RoleID: staff[0].ID})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	details, err := invitations.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, orgID, details.Organization.ID)
	assert.Equal(t, auth.RoleStaff, details.Role)

	// Accept joins the inviting organization with exactly the invited role
	session, err := invitations.Accept(ctx, orgs.AcceptRequest{
		Token:                token,
		Password:             "another-horse",
		PasswordConfirmation: "another-horse",
		FirstName:            "Riley",
		LastName:             "Hire",
	})
	require.NoError(t, err)
	invitee := session.User
	require.NotNil(t, invitee.OrganizationID)
	assert.Equal(t, orgID, *invitee.OrganizationID)
	assert.Equal(t, []string{auth.RoleStaff}, invitee.Roles)

	// The token is consumed
	_, err = invitations.ValidateToken(ctx, token)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	_, err = invitations.Accept(ctx, orgs.AcceptRequest{
		Token: token, Password: "another-horse", PasswordConfirmation: "another-horse",
		FirstName: "Riley", LastName: "Hire",
	})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	// The last admin cannot be removed; staff can
	err = directory.RemoveUser(ctx, admin, orgID, admin.ID)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CANNOT_REMOVE_LAST_ADMIN", appErr.Code)

	require.NoError(t, directory.RemoveUser(ctx, admin, orgID, invitee.ID))
	removed, err := auth.NewUserStore(db).GetByID(ctx, invitee.ID)
	require.NoError(t, err)
	assert.False(t, removed.IsActive)

	// A removal is reversed through the status update
	members := orgs.NewMembers(db, gate, auditLogger, nil)
	restored, err := members.UpdateStatus(ctx, admin, invitee.ID, orgs.UpdateStatusRequest{Status: auth.StatusActive})
	require.NoError(t, err)
	assert.True(t, restored.IsActive)

	listed, err := members.List(ctx, admin, orgs.MemberFilter{Role: auth.RoleStaff})
	require.NoError(t, err)
	require.Len(t, listed.Users, 1)
	assert.Equal(t, invitee.ID, listed.Users[0].ID)

	// The organization has an admin, so it cannot be deleted
	root := &auth.User{ID: 9999, Email: "root@example.com", Roles: []string{auth.RoleSuperAdmin}}
	err = directory.Delete(ctx, root, orgID)
	assert.Equal(t, apperrors.KindPreconditionFailed, apperrors.KindOf(err))
}
