package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLogout      EventType = "auth.logout"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"
	EventTypeAuthRegister    EventType = "auth.register"

	// Authorization events
	EventTypeAuthzAccessDenied    EventType = "authz.access_denied"
	EventTypeAuthzRolePermissions EventType = "authz.role_permissions_change"
	EventTypeAuthzUserRolesChange EventType = "authz.user_roles_change"
	EventTypeAuthzCatalogApply    EventType = "authz.catalog_apply"

	// Tenancy events
	EventTypeOrgCreate        EventType = "org.create"
	EventTypeOrgUpdate        EventType = "org.update"
	EventTypeOrgDelete        EventType = "org.delete"
	EventTypeOrgStatusChange  EventType = "org.status_change"
	EventTypeOrgMemberRemove  EventType = "org.member_remove"
	EventTypeInvitationCreate EventType = "invitation.create"
	EventTypeInvitationAccept EventType = "invitation.accept"
	EventTypeUserStatusChange EventType = "user.status_change"
	EventTypeUserProfileEdit  EventType = "user.profile_update"

	// Billing events
	EventTypeBillingSubscriptionSync EventType = "billing.subscription_sync"
	EventTypeBillingCheckoutCreate   EventType = "billing.checkout_create"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeUser         ResourceType = "user"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeRole         ResourceType = "role"
	ResourceTypeInvitation   ResourceType = "invitation"
	ResourceTypeSubscription ResourceType = "subscription"
	ResourceTypeToken        ResourceType = "token"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID         *int64 `json:"user_id,omitempty"`
	ActorEmail     string `json:"actor_email,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID         *int64
	OrganizationID *int64

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}
