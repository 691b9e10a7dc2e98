package rbac

import (
	"net/http"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
)

// Permission names referenced by route guards
const (
	PermissionViewRoles         = "view roles"
	PermissionViewUsers         = "view users"
	PermissionManageUsers       = "manage users"
	PermissionViewOrganizations = "view organizations"
)

// RequirePermission creates middleware that requires the caller to hold the
// named permission. Super-admins always pass.
func RequirePermission(checker *Checker, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := middleware.CurrentUser(r)
			if user == nil {
				httputil.WriteAppError(w, r, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required"))
				return
			}

			allowed, err := checker.Allows(r.Context(), user, permission)
			if err != nil {
				httputil.WriteAppError(w, r, err)
				return
			}
			if !allowed {
				httputil.WriteAppError(w, r, apperrors.Forbidden("MISSING_PERMISSION",
					"you do not have the %q permission", permission).WithDetail("permission", permission))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
