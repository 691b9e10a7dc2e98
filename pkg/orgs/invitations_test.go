package orgs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/notify"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/rbac"
)

var roleRowColumns = []string{"id", "name", "label", "created_at", "updated_at"}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Invitation
	err  error
}

func (n *recordingNotifier) SendInvitation(_ context.Context, inv notify.Invitation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, inv)
	return nil
}

type invitationsFixture struct {
	svc      *Invitations
	mock     sqlmock.Sqlmock
	sink     *audit.MemorySink
	metrics  *observability.Metrics
	notifier *recordingNotifier
}

func newTestInvitations(t *testing.T) *invitationsFixture {
	t.Helper()
	db, mock := setupMockDB(t)
	f := &invitationsFixture{
		mock:     mock,
		sink:     audit.NewMemorySink(),
		metrics:  observability.NewTestMetrics(),
		notifier: &recordingNotifier{},
	}
	f.svc = NewInvitations(InvitationsConfig{
		DB:       db,
		Gate:     authz.NewGate("root@example.com"),
		Roles:    rbac.NewStore(db),
		Tokens:   auth.NewTokenStore(db),
		Notifier: f.notifier,
		Audit:    audit.NewMultiLogger(f.sink),
		Metrics:  f.metrics,
		TokenTTL: time.Hour,
	})
	return f
}

func expectRole(mock sqlmock.Sqlmock, id int64, name, label string) {
	now := time.Now()
	mock.ExpectQuery(`SELECT id, name, label, created_at, updated_at FROM roles WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow(id, name, label, now, now))
}

func TestInvitations_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("stores then notifies", func(t *testing.T) {
		f := newTestInvitations(t)
		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		expectRole(f.mock, 3, auth.RoleStaff, "Staff")
		f.mock.ExpectQuery(`SELECT id, created_at FROM invitations WHERE email = \$1`).
			WithArgs("new.agent@acme.test").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
		f.mock.ExpectQuery(`INSERT INTO invitations`).
			WithArgs("new.agent@acme.test", int64(3), int64(9), sqlmock.AnyArg(), int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(77, created))
		expectOrg(f.mock, 9, "Acme", "active", false)

		result, err := f.svc.Create(ctx, acmeAdmin, CreateInvitationRequest{Email: "  New.Agent@Acme.test ", RoleID: 3})
		require.NoError(t, err)
		assert.Equal(t, &CreatedInvitation{
			InvitationID:     77,
			Email:            "new.agent@acme.test",
			Role:             auth.RoleStaff,
			CreatedAt:        created,
			NotificationSent: true,
		}, result)

		require.Len(t, f.notifier.sent, 1)
		sent := f.notifier.sent[0]
		assert.Equal(t, "Acme", sent.OrganizationName)
		assert.Equal(t, "Dana Broker", sent.InvitedBy)
		assert.Len(t, sent.Token, 64)

		assert.Equal(t, []audit.EventType{audit.EventTypeInvitationCreate}, f.sink.Types())
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InvitationsTotal.WithLabelValues("create", "success")))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InvitationsTotal.WithLabelValues("notify", "success")))
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("notification failure keeps the invitation", func(t *testing.T) {
		f := newTestInvitations(t)
		f.notifier.err = errors.New("smtp down")

		expectRole(f.mock, 3, auth.RoleStaff, "Staff")
		f.mock.ExpectQuery(`SELECT id, created_at FROM invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
		f.mock.ExpectQuery(`INSERT INTO invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(78, time.Now()))
		expectOrg(f.mock, 9, "Acme", "active", false)

		result, err := f.svc.Create(ctx, acmeAdmin, CreateInvitationRequest{Email: "x@acme.test", RoleID: 3})
		require.NoError(t, err)
		assert.False(t, result.NotificationSent)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InvitationsTotal.WithLabelValues("notify", "failure")))
	})

	t.Run("pending invitation for the email", func(t *testing.T) {
		f := newTestInvitations(t)
		existing := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)

		expectRole(f.mock, 3, auth.RoleStaff, "Staff")
		f.mock.ExpectQuery(`SELECT id, created_at FROM invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(12, existing))

		_, err := f.svc.Create(ctx, acmeAdmin, CreateInvitationRequest{Email: "dup@acme.test", RoleID: 3})
		require.ErrorIs(t, err, apperrors.ErrConflict)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "INVITATION_ALREADY_EXISTS", appErr.Code)
		assert.Equal(t, int64(12), appErr.Details["existing_invitation_id"])
		assert.Equal(t, "2026-02-01T08:30:00Z", appErr.Details["existing_invitation_created"])
		assert.Empty(t, f.notifier.sent)
	})

	t.Run("insert race on the email", func(t *testing.T) {
		f := newTestInvitations(t)
		expectRole(f.mock, 3, auth.RoleStaff, "Staff")
		f.mock.ExpectQuery(`SELECT id, created_at FROM invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
		f.mock.ExpectQuery(`INSERT INTO invitations`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "invitations_email_key"})

		_, err := f.svc.Create(ctx, acmeAdmin, CreateInvitationRequest{Email: "dup@acme.test", RoleID: 3})
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newTestInvitations(t)
		f.mock.ExpectQuery(`FROM roles WHERE id = \$1`).WillReturnRows(sqlmock.NewRows(roleRowColumns))

		_, err := f.svc.Create(ctx, acmeAdmin, CreateInvitationRequest{Email: "x@acme.test", RoleID: 99})
		require.ErrorIs(t, err, apperrors.ErrInvalidReference)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "INVALID_ROLE", appErr.Code)
	})

	t.Run("org admin cannot invite a super-admin", func(t *testing.T) {
		f := newTestInvitations(t)
		expectRole(f.mock, 1, auth.RoleSuperAdmin, "Super Admin")

		_, err := f.svc.Create(ctx, acmeAdmin, CreateInvitationRequest{Email: "x@acme.test", RoleID: 1})
		require.ErrorIs(t, err, apperrors.ErrForbidden)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "SUPER_ADMIN_GRANT_FORBIDDEN", appErr.Code)
	})

	t.Run("staff cannot invite", func(t *testing.T) {
		f := newTestInvitations(t)
		_, err := f.svc.Create(ctx, acmeStaff, CreateInvitationRequest{Email: "x@acme.test", RoleID: 3})
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("inviter without an organization", func(t *testing.T) {
		f := newTestInvitations(t)
		_, err := f.svc.Create(ctx, rootUser, CreateInvitationRequest{Email: "x@acme.test", RoleID: 3})
		require.ErrorIs(t, err, apperrors.ErrPreconditionFailed)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "NO_ORGANIZATION", appErr.Code)
	})

	t.Run("malformed email", func(t *testing.T) {
		f := newTestInvitations(t)
		_, err := f.svc.Create(ctx, acmeAdmin, CreateInvitationRequest{Email: "not-an-email", RoleID: 3})
		require.ErrorIs(t, err, apperrors.ErrValidation)
		appErr, _ := apperrors.As(err)
		assert.Contains(t, appErr.Fields, "email")
	})

	t.Run("anonymous", func(t *testing.T) {
		f := newTestInvitations(t)
		_, err := f.svc.Create(ctx, nil, CreateInvitationRequest{Email: "x@acme.test", RoleID: 3})
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})
}

func TestInvitations_ValidateToken(t *testing.T) {
	ctx := context.Background()

	t.Run("describes a pending invitation", func(t *testing.T) {
		f := newTestInvitations(t)
		f.mock.ExpectQuery(`FROM invitations i\s+JOIN roles r`).
			WithArgs("tok").
			WillReturnRows(sqlmock.NewRows([]string{"email", "name", "label", "id", "name", "token"}).
				AddRow("new@acme.test", "staff", "Staff", 9, "Acme", "tok"))

		details, err := f.svc.ValidateToken(ctx, " tok ")
		require.NoError(t, err)
		assert.Equal(t, &InvitationDetails{
			Email:        "new@acme.test",
			Role:         "staff",
			RoleLabel:    "Staff",
			Organization: OrganizationRef{ID: 9, Name: "Acme"},
			Token:        "tok",
		}, details)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newTestInvitations(t)
		f.mock.ExpectQuery(`FROM invitations i`).
			WillReturnRows(sqlmock.NewRows([]string{"email", "name", "label", "id", "name", "token"}))

		_, err := f.svc.ValidateToken(ctx, "nope")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "INVALID_INVITATION_TOKEN", appErr.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		f := newTestInvitations(t)
		_, err := f.svc.ValidateToken(ctx, "  ")
		require.ErrorIs(t, err, apperrors.ErrValidation)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "MISSING_TOKEN", appErr.Code)
	})
}

func validAccept() AcceptRequest {
	return AcceptRequest{
		Token:                "tok",
		Password:             "correct horse",
		PasswordConfirmation: "correct horse",
		FirstName:            "Nia",
		LastName:             "Newhire",
	}
}

func TestInvitations_Accept(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the account with the invited role", func(t *testing.T) {
		f := newTestInvitations(t)
		now := time.Now()

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM invitations\s+WHERE token = \$1\s+FOR UPDATE`).
			WithArgs("tok").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role_id", "organization_id"}).
				AddRow(77, "new@acme.test", 3, 9))
		f.mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(sqlmock.AnyArg(), "new@acme.test", sqlmock.AnyArg(), "Nia", "Newhire", "",
				int64(9), true, false, auth.StatusActive, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(40, now, now))
		f.mock.ExpectExec(`INSERT INTO user_roles`).
			WithArgs(int64(40), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`DELETE FROM invitations WHERE id = \$1`).
			WithArgs(int64(77)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(`FROM roles r`).
			WithArgs(int64(40)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("staff"))
		f.mock.ExpectCommit()
		f.mock.ExpectQuery(`INSERT INTO api_tokens`).
			WithArgs(int64(40), "invitation", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(5, now))
		expectOrg(f.mock, 9, "Acme", "active", false)

		session, err := f.svc.Accept(ctx, validAccept())
		require.NoError(t, err)
		assert.Equal(t, int64(40), session.User.ID)
		assert.Equal(t, []string{"staff"}, session.User.Roles)
		assert.True(t, session.User.BelongsTo(9))
		assert.NotEqual(t, "correct horse", session.User.PasswordHash)
		assert.Contains(t, session.Token, auth.TokenPrefix)
		require.NotNil(t, session.ExpiresAt)
		assert.Equal(t, "Acme", session.Organization.Name)

		assert.Equal(t, []audit.EventType{audit.EventTypeInvitationAccept}, f.sink.Types())
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	expectAcceptTx := func(mock sqlmock.Sqlmock) {
		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM invitations\s+WHERE token = \$1\s+FOR UPDATE`).
			WithArgs("tok").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role_id", "organization_id"}).
				AddRow(77, "new@acme.test", 3, 9))
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(40, now, now))
		mock.ExpectExec(`INSERT INTO user_roles`).WithArgs(int64(40), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM invitations WHERE id = \$1`).WithArgs(int64(77)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`FROM roles r`).WithArgs(int64(40)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("staff"))
		mock.ExpectCommit()
	}

	t.Run("token failure still returns the created account", func(t *testing.T) {
		f := newTestInvitations(t)
		expectAcceptTx(f.mock)
		f.mock.ExpectQuery(`INSERT INTO api_tokens`).WillReturnError(errors.New("connection reset"))
		expectOrg(f.mock, 9, "Acme", "active", false)

		session, err := f.svc.Accept(ctx, validAccept())
		require.NoError(t, err)
		assert.Equal(t, int64(40), session.User.ID)
		assert.Empty(t, session.Token)
		assert.Nil(t, session.ExpiresAt)
		assert.Equal(t, "Acme", session.Organization.Name)
		assert.Equal(t, []audit.EventType{audit.EventTypeInvitationAccept}, f.sink.Types())
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("organization reload failure still signs the user in", func(t *testing.T) {
		f := newTestInvitations(t)
		expectAcceptTx(f.mock)
		f.mock.ExpectQuery(`INSERT INTO api_tokens`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(5, time.Now()))
		f.mock.ExpectQuery(`FROM organizations WHERE id = \$1`).WithArgs(int64(9)).
			WillReturnError(errors.New("connection reset"))

		session, err := f.svc.Accept(ctx, validAccept())
		require.NoError(t, err)
		assert.Contains(t, session.Token, auth.TokenPrefix)
		assert.Nil(t, session.Organization)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("consumed or unknown token", func(t *testing.T) {
		f := newTestInvitations(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role_id", "organization_id"}))
		f.mock.ExpectRollback()

		_, err := f.svc.Accept(ctx, validAccept())
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InvitationsTotal.WithLabelValues("accept", "rejected")))
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("email already registered", func(t *testing.T) {
		f := newTestInvitations(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role_id", "organization_id"}).
				AddRow(77, "taken@acme.test", 3, 9))
		f.mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})
		f.mock.ExpectRollback()

		_, err := f.svc.Accept(ctx, validAccept())
		require.ErrorIs(t, err, apperrors.ErrConflict)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("password confirmation mismatch", func(t *testing.T) {
		f := newTestInvitations(t)
		req := validAccept()
		req.PasswordConfirmation = "something else"

		_, err := f.svc.Accept(ctx, req)
		require.ErrorIs(t, err, apperrors.ErrValidation)
		appErr, _ := apperrors.As(err)
		assert.Contains(t, appErr.Fields, "password_confirmation")
	})

	t.Run("short password", func(t *testing.T) {
		f := newTestInvitations(t)
		req := validAccept()
		req.Password, req.PasswordConfirmation = "short", "short"

		_, err := f.svc.Accept(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestInvitations_PurgeStale(t *testing.T) {
	f := newTestInvitations(t)
	fixed := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	f.mock.ExpectExec(`DELETE FROM invitations WHERE created_at < \$1`).
		WithArgs(fixed.Add(-30 * 24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := f.svc.PurgeStale(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
