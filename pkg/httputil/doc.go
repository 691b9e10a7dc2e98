// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Errors
//
// Handlers return *apperrors.Error values from services and render them with
// WriteAppError, which maps the kind to a status code:
//
//	org, err := h.directory.Get(ctx, actor, id)
//	if err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, org)
//
// Unclassified errors are logged with the request-scoped logger and rendered
// as a bare 500 so internal detail never reaches the caller.
//
// # Request Parsing
//
//	var req orgs.CreateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	page, err := httputil.ParsePage(r, 15, 100)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(proxies),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: bearer authentication and login throttling
package httputil
