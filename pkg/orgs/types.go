package orgs

import (
	"time"

	"github.com/platinummonkey/dealflow/pkg/auth"
)

// SubscriptionStatus is the billing standing of an organization
type SubscriptionStatus string

const (
	StatusNew       SubscriptionStatus = "new"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusWaiting   SubscriptionStatus = "waiting"
	StatusCanceled  SubscriptionStatus = "canceled"
)

// StatusSuperAdmin is reported by GetStatus for super-admins, who have no
// organization standing of their own
const StatusSuperAdmin = "super_admin"

var allStatuses = []SubscriptionStatus{StatusNew, StatusActive, StatusPastDue, StatusSuspended, StatusWaiting, StatusCanceled}

// administrativeStatuses may be set by hand; the rest only come from billing
var administrativeStatuses = []SubscriptionStatus{StatusNew, StatusActive, StatusSuspended, StatusWaiting}

// Valid reports whether s is a known status
func (s SubscriptionStatus) Valid() bool {
	return containsStatus(allStatuses, s)
}

// Administrative reports whether s may be set through the admin endpoint
func (s SubscriptionStatus) Administrative() bool {
	return containsStatus(administrativeStatuses, s)
}

func containsStatus(set []SubscriptionStatus, s SubscriptionStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Organization is a tenant
type Organization struct {
	ID                 int64              `json:"id"`
	UUID               string             `json:"uuid"`
	Name               string             `json:"name"`
	Slug               string             `json:"slug"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	Industry           string             `json:"industry,omitempty"`
	OrganizationSize   string             `json:"organization_size,omitempty"`
	BusinessEmail      string             `json:"business_email,omitempty"`
	BusinessPhone      string             `json:"business_phone,omitempty"`
	Website            string             `json:"website,omitempty"`
	StreetAddress      string             `json:"street_address,omitempty"`
	City               string             `json:"city,omitempty"`
	StateProvince      string             `json:"state_province,omitempty"`
	ZipPostalCode      string             `json:"zip_postal_code,omitempty"`
	Country            string             `json:"country,omitempty"`
	Timezone           string             `json:"timezone,omitempty"`
	UsersCount         *int               `json:"users_count,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// TenantID makes organizations resolvable through authz.Lookup
func (o *Organization) TenantID() *int64 {
	id := o.ID
	return &id
}

// Profile holds the optional descriptive fields of an organization
type Profile struct {
	Industry         string `json:"industry" validate:"max=255"`
	OrganizationSize string `json:"organization_size" validate:"max=255"`
	BusinessEmail    string `json:"business_email" validate:"omitempty,email,max=255"`
	BusinessPhone    string `json:"business_phone" validate:"max=255"`
	Website          string `json:"website" validate:"omitempty,url,max=255"`
	StreetAddress    string `json:"street_address" validate:"max=255"`
	City             string `json:"city" validate:"max=255"`
	StateProvince    string `json:"state_province" validate:"max=255"`
	ZipPostalCode    string `json:"zip_postal_code" validate:"max=255"`
	Country          string `json:"country" validate:"max=255"`
	Timezone         string `json:"timezone" validate:"max=255"`
}

// CreateRequest creates an organization through the administrative path
type CreateRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	Profile
}

// UpdateRequest changes an organization. Nil fields are left untouched.
type UpdateRequest struct {
	Name             *string `json:"name" validate:"omitempty,max=255"`
	Industry         *string `json:"industry" validate:"omitempty,max=255"`
	OrganizationSize *string `json:"organization_size" validate:"omitempty,max=255"`
	BusinessEmail    *string `json:"business_email" validate:"omitempty,email,max=255"`
	BusinessPhone    *string `json:"business_phone" validate:"omitempty,max=255"`
	Website          *string `json:"website" validate:"omitempty,url,max=255"`
	StreetAddress    *string `json:"street_address" validate:"omitempty,max=255"`
	City             *string `json:"city" validate:"omitempty,max=255"`
	StateProvince    *string `json:"state_province" validate:"omitempty,max=255"`
	ZipPostalCode    *string `json:"zip_postal_code" validate:"omitempty,max=255"`
	Country          *string `json:"country" validate:"omitempty,max=255"`
	Timezone         *string `json:"timezone" validate:"omitempty,max=255"`
}

// ListFilter narrows the super-admin organization listing
type ListFilter struct {
	Status  string
	Search  string
	Page    int
	PerPage int
}

// Pagination describes a page of results
type Pagination struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
	From        int `json:"from,omitempty"`
	To          int `json:"to,omitempty"`
}

func newPagination(page, perPage, total, returned int) Pagination {
	p := Pagination{CurrentPage: page, PerPage: perPage, Total: total, LastPage: 1}
	if perPage > 0 && total > 0 {
		p.LastPage = (total + perPage - 1) / perPage
	}
	if returned > 0 {
		p.From = (page-1)*perPage + 1
		p.To = p.From + returned - 1
	}
	return p
}

// ListResult is a page of organizations
type ListResult struct {
	Organizations  []*Organization   `json:"organizations"`
	Pagination     Pagination        `json:"pagination"`
	FiltersApplied map[string]string `json:"filters_applied"`
}

// StatusResult is the caller's organization standing
type StatusResult struct {
	Status           string `json:"status"`
	OrganizationID   *int64 `json:"organization_id,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// Invitation is a pending offer to join an organization with one role
type Invitation struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	RoleID         int64     `json:"role_id"`
	OrganizationID int64     `json:"organization_id"`
	Token          string    `json:"-"`
	InvitedBy      *int64    `json:"invited_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateInvitationRequest invites an email address with a role
type CreateInvitationRequest struct {
	Email  string `json:"email" validate:"required,email,max=255"`
	RoleID int64  `json:"role_id" validate:"required"`
}

// CreatedInvitation is returned after an invitation is stored
type CreatedInvitation struct {
	InvitationID     int64     `json:"invitation_id"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	CreatedAt        time.Time `json:"created_at"`
	NotificationSent bool      `json:"notification_sent"`
}

// OrganizationRef is the public part of an organization shown to invitees
type OrganizationRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// InvitationDetails describes a valid invitation token
type InvitationDetails struct {
	Email        string          `json:"email"`
	Role         string          `json:"role"`
	RoleLabel    string          `json:"role_label"`
	Organization OrganizationRef `json:"organization"`
	Token        string          `json:"token"`
}

// AcceptRequest completes an invitation with the invitee's profile
type AcceptRequest struct {
	Token                string `json:"invitation_token" validate:"required"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
	FirstName            string `json:"first_name" validate:"required,max=100"`
	LastName             string `json:"last_name" validate:"required,max=100"`
	Phone                string `json:"phone" validate:"max=20"`
}

// RegisterRequest signs up a new organization and its first admin
type RegisterRequest struct {
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
	FirstName            string `json:"first_name" validate:"required,max=100"`
	LastName             string `json:"last_name" validate:"required,max=100"`
	OrganizationName     string `json:"organization_name" validate:"required,max=255"`
	Phone                string `json:"phone" validate:"max=20"`
}

// Session is a signed-in user with a fresh bearer token
type Session struct {
	User         *auth.User    `json:"user"`
	Organization *Organization `json:"organization,omitempty"`
	Token        string        `json:"token,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
}

