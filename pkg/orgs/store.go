package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/database"
)

const orgColumns = `id, uuid, name, slug, subscription_status, industry, organization_size,
	business_email, business_phone, website, street_address, city, state_province,
	zip_postal_code, country, timezone, created_at, updated_at`

// Store persists organizations
type Store struct {
	db *sql.DB
}

// NewStore creates an organization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get loads an organization
func (s *Store) Get(ctx context.Context, id int64) (*Organization, error) {
	return s.get(ctx, s.db, id, false)
}

// GetForUpdate loads and row-locks an organization inside a transaction
func (s *Store) GetForUpdate(ctx context.Context, q database.Querier, id int64) (*Organization, error) {
	return s.get(ctx, q, id, true)
}

func (s *Store) get(ctx context.Context, q database.Querier, id int64, forUpdate bool) (*Organization, error) {
	query := "SELECT " + orgColumns + " FROM organizations WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	org, err := scanOrganization(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("organization")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// Insert creates an organization. Slug and status must already be set.
func (s *Store) Insert(ctx context.Context, q database.Querier, org *Organization) error {
	if org.UUID == "" {
		org.UUID = uuid.NewString()
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO organizations (uuid, name, slug, subscription_status, industry, organization_size,
			business_email, business_phone, website, street_address, city, state_province,
			zip_postal_code, country, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`,
		org.UUID, org.Name, org.Slug, org.SubscriptionStatus, org.Industry, org.OrganizationSize,
		org.BusinessEmail, org.BusinessPhone, org.Website, org.StreetAddress, org.City, org.StateProvince,
		org.ZipPostalCode, org.Country, org.Timezone,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return uniqueNameError(err, "failed to create organization")
	}
	return nil
}

// Update writes every mutable column of org
func (s *Store) Update(ctx context.Context, q database.Querier, org *Organization) error {
	err := q.QueryRowContext(ctx, `
		UPDATE organizations SET
			name = $1, slug = $2, industry = $3, organization_size = $4, business_email = $5,
			business_phone = $6, website = $7, street_address = $8, city = $9, state_province = $10,
			zip_postal_code = $11, country = $12, timezone = $13, updated_at = NOW()
		WHERE id = $14
		RETURNING updated_at
	`,
		org.Name, org.Slug, org.Industry, org.OrganizationSize, org.BusinessEmail,
		org.BusinessPhone, org.Website, org.StreetAddress, org.City, org.StateProvince,
		org.ZipPostalCode, org.Country, org.Timezone, org.ID,
	).Scan(&org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("organization")
	}
	if err != nil {
		return uniqueNameError(err, "failed to update organization")
	}
	return nil
}

// SetStatus changes the subscription status
func (s *Store) SetStatus(ctx context.Context, q database.Querier, id int64, status SubscriptionStatus) error {
	result, err := q.ExecContext(ctx,
		`UPDATE organizations SET subscription_status = $1, updated_at = NOW() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update organization status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("organization")
	}
	return nil
}

// Delete removes an organization. Members keep their rows with a null
// organization.
func (s *Store) Delete(ctx context.Context, q database.Querier, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("organization")
	}
	return nil
}

// List returns a page of organizations with member counts, plus the total
// number of matches
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Organization, int, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("o.subscription_status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, database.ContainsPattern(filter.Search))
		conditions = append(conditions, fmt.Sprintf("o.name ILIKE $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM organizations o"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count organizations: %w", err)
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := fmt.Sprintf(`
		SELECT %s,
			(SELECT COUNT(*) FROM users u WHERE u.organization_id = o.id) AS users_count
		FROM organizations o%s
		ORDER BY o.id
		LIMIT $%d OFFSET $%d
	`, prefixed("o.", orgColumns), where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := []*Organization{}
	for rows.Next() {
		var count int
		org, err := scanOrganization(rows, &count)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan organization: %w", err)
		}
		org.UsersCount = &count
		orgs = append(orgs, org)
	}
	return orgs, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner, extra ...any) (*Organization, error) {
	var org Organization
	dest := []any{
		&org.ID, &org.UUID, &org.Name, &org.Slug, &org.SubscriptionStatus, &org.Industry,
		&org.OrganizationSize, &org.BusinessEmail, &org.BusinessPhone, &org.Website,
		&org.StreetAddress, &org.City, &org.StateProvince, &org.ZipPostalCode, &org.Country,
		&org.Timezone, &org.CreatedAt, &org.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &org, nil
}

func uniqueNameError(err error, msg string) error {
	switch {
	case database.IsUniqueViolation(err, "organizations_name_key"):
		return apperrors.Conflict("ORGANIZATION_NAME_TAKEN", "the organization name has already been taken")
	case database.IsUniqueViolation(err, "organizations_slug_key"):
		return apperrors.Conflict("ORGANIZATION_SLUG_TAKEN", "an organization with a similar name already exists")
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

