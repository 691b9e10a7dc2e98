// Package auth is the identity store: user accounts, password hashing and
// bearer tokens.
//
// Tokens have the form dfl_<base64url(32 random bytes)>. Only the SHA-256
// hash is persisted; the plaintext is returned once from TokenStore.Issue.
//
//	token, plaintext, err := tokens.Issue(ctx, user.ID, "login", 30*24*time.Hour)
//	...
//	token, err = tokens.Validate(ctx, plaintext)
//
// User writes that must share a transaction with other tables (registration,
// invitation acceptance, member removal) take a database.Querier.
//
// Role names are carried on User for convenience. Which permissions a role
// grants is resolved by the rbac package on every check.
package auth
