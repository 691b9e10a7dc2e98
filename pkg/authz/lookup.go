package authz

import (
	"context"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/auth"
)

// Tenanted is a resource owned by an organization. TenantID is nil for
// resources outside any organization.
type Tenanted interface {
	TenantID() *int64
}

// Finder loads a resource by id, returning an apperrors not-found error when
// it does not exist
type Finder[T Tenanted] func(ctx context.Context, id int64) (T, error)

// Lookup loads a tenant-owned resource on behalf of actor. Super-admins see
// every resource. Anyone else gets the same not-found error for another
// tenant's resource as for a missing one.
func Lookup[T Tenanted](ctx context.Context, gate *Gate, actor *auth.User, id int64, resource string, find Finder[T]) (T, error) {
	var zero T
	if actor == nil {
		return zero, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required")
	}

	found, err := find(ctx, id)
	if err != nil {
		return zero, err
	}

	if gate.IsSuperAdmin(actor) {
		return found, nil
	}

	tenant := found.TenantID()
	if tenant == nil || !actor.BelongsTo(*tenant) {
		gate.record("deny", "cross_tenant_lookup")
		return zero, apperrors.NotFound(resource)
	}
	return found, nil
}
