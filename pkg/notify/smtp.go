package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"

	"github.com/platinummonkey/dealflow/pkg/observability"
)

// SMTPConfig configures the SMTP notifier
type SMTPConfig struct {
	Host      string
	Port      string
	Username  string
	Password  string
	Sender    string
	AcceptURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends invitations as HTML mail
type SMTPNotifier struct {
	cfg    SMTPConfig
	auth   smtp.Auth
	send   sendFunc
	logger *observability.Logger
}

var invitationTemplate = template.Must(template.New("invitation").Parse(`<p>Hello,</p>
<p>{{if .InvitedBy}}{{.InvitedBy}} has invited you{{else}}You have been invited{{end}} to join <strong>{{.OrganizationName}}</strong> as {{.Role}}.</p>
<p><a href="{{.Link}}">Accept the invitation</a></p>
<p>If you were not expecting this invitation you can ignore this email.</p>
`))

// NewSMTPNotifier creates an SMTP notifier. Authentication is used only when
// both username and password are set.
func NewSMTPNotifier(cfg SMTPConfig, logger *observability.Logger) *SMTPNotifier {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	n := &SMTPNotifier{cfg: cfg, send: smtp.SendMail, logger: logger}
	if cfg.Username != "" && cfg.Password != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n
}

// SendInvitation renders and sends the invitation mail
func (n *SMTPNotifier) SendInvitation(ctx context.Context, inv Invitation) error {
	msg, err := n.render(inv)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, n.auth, n.cfg.Sender, []string{inv.Email}, msg); err != nil {
		return fmt.Errorf("failed to send invitation mail: %w", err)
	}
	observability.FromContext(ctx, n.logger).
		WithField("to", inv.Email).
		Debug("invitation mail sent")
	return nil
}

func (n *SMTPNotifier) render(inv Invitation) ([]byte, error) {
	role := inv.RoleLabel
	if role == "" {
		role = inv.RoleName
	}
	var body bytes.Buffer
	err := invitationTemplate.Execute(&body, map[string]string{
		"InvitedBy":        inv.InvitedBy,
		"OrganizationName": inv.OrganizationName,
		"Role":             role,
		"Link":             AcceptLink(n.cfg.AcceptURL, inv.Token),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render invitation mail: %w", err)
	}

	subject := "You're invited to join " + inv.OrganizationName
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", n.cfg.Sender, inv.Email, headerValue(subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.Write(body.Bytes())
	return []byte(msg.String()), nil
}

// headerValue strips line breaks so user-controlled text cannot inject headers
func headerValue(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
