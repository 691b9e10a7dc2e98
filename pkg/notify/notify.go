// Package notify delivers invitation messages to invitees.
package notify

import (
	"context"
	"net/url"
)

// Invitation is what an invitee needs to accept
type Invitation struct {
	Email            string
	Token            string
	RoleName         string
	RoleLabel        string
	OrganizationName string
	InvitedBy        string
}

// Notifier sends invitation messages
type Notifier interface {
	SendInvitation(ctx context.Context, inv Invitation) error
}

// AcceptLink appends the invitation token to the accept page URL. An empty
// base yields a relative link.
func AcceptLink(base, token string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return "/accept-invitation?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
