package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/database"
)

const userColumns = `u.id, u.uuid, u.email, u.password_hash, u.first_name, u.last_name, u.phone,
	u.organization_id, u.is_active, u.is_verified, u.status, u.stripe_customer_id,
	u.last_login_at, u.created_at, u.updated_at`

// UserStore reads and writes user accounts
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// GetByID loads a user and its role names
func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.getOne(ctx, s.db, "u.id = $1", id)
}

// GetByEmail loads a user by email (case-insensitive) and its role names
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, s.db, "LOWER(u.email) = $1", NormalizeEmail(email))
}

// NormalizeEmail is the stored form of an address: trimmed and lowercased
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetByIDTx loads a user within a caller transaction
func (s *UserStore) GetByIDTx(ctx context.Context, q database.Querier, id int64) (*User, error) {
	return s.getOne(ctx, q, "u.id = $1", id)
}

func (s *UserStore) getOne(ctx context.Context, q database.Querier, where string, arg any) (*User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users u WHERE "+where, arg)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Roles, err = RoleNames(ctx, q, user.ID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner, extra ...any) (*User, error) {
	var (
		u          User
		orgID      sql.NullInt64
		customerID sql.NullString
		lastLogin  sql.NullTime
	)
	dest := []any{
		&u.ID, &u.UUID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone,
		&orgID, &u.IsActive, &u.IsVerified, &u.Status, &customerID,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if orgID.Valid {
		u.OrganizationID = &orgID.Int64
	}
	u.StripeCustomerID = customerID.String
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	u.Roles = []string{}
	return &u, nil
}

// RoleNames returns the names of the roles assigned to a user
func RoleNames(ctx context.Context, q database.Querier, userID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Create inserts a user inside the caller's transaction. A taken email is a
// conflict.
func (s *UserStore) Create(ctx context.Context, q database.Querier, u *User) error {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	u.Email = NormalizeEmail(u.Email)

	var customerID sql.NullString
	if u.StripeCustomerID != "" {
		customerID = sql.NullString{String: u.StripeCustomerID, Valid: true}
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO users (uuid, email, password_hash, first_name, last_name, phone,
			organization_id, is_active, is_verified, status, stripe_customer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`,
		u.UUID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone,
		u.OrganizationID, u.IsActive, u.IsVerified, u.Status, customerID,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if database.IsUniqueViolation(err, "") {
		return apperrors.Conflict("EMAIL_TAKEN", "the email has already been taken").WithDetail("email", u.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return nil
}

// Deactivate marks a user inactive and cancelled. Organization membership is
// kept so the account remains attributable.
func (s *UserStore) Deactivate(ctx context.Context, q database.Querier, userID int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE users SET is_active = FALSE, status = $1, updated_at = NOW()
		WHERE id = $2
	`, StatusCancelled, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("user")
	}
	return nil
}

// TouchLastLogin records a successful login
func (s *UserStore) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET last_login_at = $1 WHERE id = $2", at, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// SetStripeCustomerID stores the payment provider customer for a user
func (s *UserStore) SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET stripe_customer_id = $1, updated_at = NOW() WHERE id = $2",
		customerID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return nil
}

// UserFilter narrows a user listing. A nil OrganizationID lists every user.
type UserFilter struct {
	OrganizationID *int64
	Role           string
	Status         string
	Search         string
	Page           int
	PerPage        int
}

// List returns a page of users with their role names, and the total matching
func (s *UserStore) List(ctx context.Context, filter UserFilter) ([]*User, int, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		conditions = append(conditions, fmt.Sprintf("u.organization_id = $%d", len(args)))
	}
	if filter.Role != "" {
		args = append(args, filter.Role)
		conditions = append(conditions, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id = u.id AND r.name = $%d)`, len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("u.status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, database.ContainsPattern(filter.Search))
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(u.first_name ILIKE $%d OR u.last_name ILIKE $%d OR u.email ILIKE $%d)", n, n, n))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users u"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := fmt.Sprintf(`
		SELECT %s,
			ARRAY(SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id
				WHERE ur.user_id = u.id ORDER BY r.name) AS roles
		FROM users u%s
		ORDER BY u.id
		LIMIT $%d OFFSET $%d
	`, userColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		var roles pq.StringArray
		u, err := scanUser(rows, &roles)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		if len(roles) > 0 {
			u.Roles = []string(roles)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// SetStatus sets the account status and active flag together
func (s *UserStore) SetStatus(ctx context.Context, q database.Querier, userID int64, status string, active bool) error {
	result, err := q.ExecContext(ctx, `
		UPDATE users SET status = $1, is_active = $2, updated_at = NOW()
		WHERE id = $3
	`, status, active, userID)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("user")
	}
	return nil
}

// UpdateProfile writes the editable profile fields
func (s *UserStore) UpdateProfile(ctx context.Context, u *User) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET first_name = $1, last_name = $2, phone = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`, u.FirstName, u.LastName, u.Phone, u.ID).Scan(&u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("user")
	}
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}
