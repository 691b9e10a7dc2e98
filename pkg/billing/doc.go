// Package billing connects organizations to the payment provider.
//
// # Overview
//
// Three parts live here:
//
//   - Service starts checkouts and portal sessions and lists invoices for an
//     organization admin.
//   - Reconciler verifies provider webhooks and mirrors subscription events
//     onto the subscriptions table and the organization's status.
//   - PlanSync copies the provider's active prices into subscription_packages.
//
// # Webhook ordering
//
// Every subscription row remembers the timestamp of the last event applied to
// it. An event older than that is reported as stale and changes nothing; an
// event with the same timestamp is applied again. Events for subscriptions
// that have no local row are acknowledged and ignored.
//
// # Usage Example
//
//	rec := billing.NewReconciler(billing.ReconcilerConfig{
//		DB:            db,
//		Orgs:          directory,
//		Provider:      stripe,
//		WebhookSecret: cfg.Billing.WebhookSecret,
//		Tolerance:     5 * time.Minute,
//	})
//	result, err := rec.HandleWebhook(ctx, body, r.Header.Get(billing.SignatureHeaderName))
//
// # Related Packages
//
//   - pkg/orgs: organization status written by the reconciler
package billing
