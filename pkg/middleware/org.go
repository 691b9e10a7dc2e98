package middleware

import (
	"net/http"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/httputil"
)

// RequireOrganization rejects authenticated callers that belong to no
// organization. It must run after AuthMiddleware.
func RequireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			httputil.WriteAppError(w, r, apperrors.Unauthenticated("UNAUTHENTICATED", "authentication required"))
			return
		}
		if user.OrganizationID == nil {
			httputil.WriteAppError(w, r, apperrors.PreconditionFailed("NO_ORGANIZATION",
				"you must belong to an organization to perform this action"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
