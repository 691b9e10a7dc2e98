// Package audit records security-relevant events: logins, authorization
// denials, role and permission changes, tenant mutations and subscription
// status changes.
//
// Services depend on the Logger interface. MultiLogger implements it by
// fanning each event out to one or more sinks:
//
//	dbSink, err := audit.NewDBLogger(db)
//	logger := audit.NewMultiLogger(dbSink, audit.NewLogrusLogger(os.Stdout))
//	logger.LogAuthentication(ctx, audit.EventTypeAuthLogin, &user.ID, user.Email, audit.EventStatusSuccess, "login")
//
// The request ID and client address are taken from the context
// (pkg/contextkeys). The Postgres sink also serves the super-admin query API
// registered by Handlers.
package audit
