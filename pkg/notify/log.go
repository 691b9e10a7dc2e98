package notify

import (
	"context"

	"github.com/platinummonkey/dealflow/pkg/observability"
)

// LogNotifier writes the accept link to the log instead of sending mail. It is
// used when no SMTP host is configured.
type LogNotifier struct {
	acceptURL string
	logger    *observability.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(acceptURL string, logger *observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{acceptURL: acceptURL, logger: logger}
}

func (n *LogNotifier) SendInvitation(ctx context.Context, inv Invitation) error {
	observability.FromContext(ctx, n.logger).WithFields(map[string]interface{}{
		"to":           inv.Email,
		"organization": inv.OrganizationName,
		"role":         inv.RoleName,
		"link":         AcceptLink(n.acceptURL, inv.Token),
	}).Info("invitation created (mail delivery disabled)")
	return nil
}
