// Package middleware provides HTTP middleware for bearer authentication and
// request throttling.
//
// # Authentication
//
//	authMW := middleware.NewAuthMiddleware(tokenStore, userStore)
//	api.Use(authMW.Handler)
//	// Validates "Authorization: Bearer dfl_...", reloads the user and its
//	// roles, and stores an *auth.AuthContext on the request context.
//
// RequireSuperAdmin and RequireOrganization must run after the auth handler.
//
// # Throttling
//
// Both throttles implement authz.Throttle and back the login limiter as well as
// the RateLimit middleware:
//
//	throttle := middleware.NewRedisThrottle(redisClient, cfg, "login")  // shared
//	throttle := middleware.NewLocalThrottle(cfg)                        // single instance
//
// Throttle failures fail open and are logged.
package middleware
