// Package orgs is the organization directory of dealflow: tenants, their
// subscription standing, membership removal, invitations and self-service
// registration.
//
// # Subscription Status
//
// Every organization carries one of new, active, past_due, suspended, waiting
// or canceled. Administrators may set new, active, suspended and waiting by
// hand; past_due and canceled only arrive from the billing reconciler through
// ApplyBillingStatus.
//
// # Tenant Scoping
//
// Reads go through authz.Lookup, so another tenant's organization is reported
// as not found. Mutations require an organization admin of the target
// organization; super-admins bypass every check.
//
//	org, err := directory.Get(ctx, actor, id)
//	err = directory.RemoveUser(ctx, actor, orgID, userID)
//
// An organization never loses its last active admin: RemoveUser locks the
// organization row before counting the remaining admins.
//
// # Invitations
//
//	created, err := invitations.Create(ctx, admin, orgs.CreateInvitationRequest{Email: e, RoleID: id})
//	details, err := invitations.ValidateToken(ctx, token)
//	session, err := invitations.Accept(ctx, orgs.AcceptRequest{...})
//
// Invitations do not expire on their own; the scheduler purges stale ones with
// PurgeStale.
package orgs
