package auth

import (
	"strings"
	"time"
)

// Built-in role names. The role catalog itself lives in the rbac package.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleStaff      = "staff"
)

// User account statuses
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusCancelled = "cancelled"
)

// User is an account. A user belongs to at most one organization.
type User struct {
	ID               int64      `json:"id"`
	UUID             string     `json:"uuid"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Phone            string     `json:"phone,omitempty"`
	OrganizationID   *int64     `json:"organization_id,omitempty"`
	IsActive         bool       `json:"is_active"`
	IsVerified       bool       `json:"is_verified"`
	Status           string     `json:"status"`
	Roles            []string   `json:"roles"`
	StripeCustomerID string     `json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasRole reports whether the user holds the named role
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// BelongsTo reports whether the user is a member of the organization
func (u *User) BelongsTo(orgID int64) bool {
	return u != nil && u.OrganizationID != nil && *u.OrganizationID == orgID
}

// TenantID is the organization the user belongs to, if any
func (u *User) TenantID() *int64 {
	return u.OrganizationID
}

// FullName joins first and last name
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// APIToken is an issued bearer token. The plaintext is shown once at issue
// time; only its SHA-256 hash is stored.
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AuthContext holds the authenticated caller of a request
type AuthContext struct {
	User  *User
	Token *APIToken
}
