package notify

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/observability"
)

func TestAcceptLink(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{"plain", "https://app.example.com/invite", "https://app.example.com/invite?token=abc"},
		{"keeps query", "https://app.example.com/invite?ref=mail", "https://app.example.com/invite?ref=mail&token=abc"},
		{"empty base", "", "/accept-invitation?token=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AcceptLink(tt.base, "abc"))
		})
	}
}

func TestSMTPNotifier_SendInvitation(t *testing.T) {
	inv := Invitation{
		Email:            "new.agent@acme.test",
		Token:            "deadbeef",
		RoleName:         "staff",
		RoleLabel:        "Staff",
		OrganizationName: "Acme <Realty>",
		InvitedBy:        "Dana Broker",
	}

	t.Run("sends html mail", func(t *testing.T) {
		n := NewSMTPNotifier(SMTPConfig{
			Host: "smtp.acme.test", Port: "2525", Username: "u", Password: "p",
			Sender: "team@acme.test", AcceptURL: "https://app.acme.test/join",
		}, nil)

		var gotAddr, gotFrom string
		var gotTo []string
		var gotMsg []byte
		n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			assert.NotNil(t, a)
			return nil
		}

		require.NoError(t, n.SendInvitation(context.Background(), inv))
		assert.Equal(t, "smtp.acme.test:2525", gotAddr)
		assert.Equal(t, "team@acme.test", gotFrom)
		assert.Equal(t, []string{"new.agent@acme.test"}, gotTo)

		body := string(gotMsg)
		assert.Contains(t, body, "Subject: You're invited to join Acme <Realty>\r\n")
		assert.Contains(t, body, "Content-Type: text/html")
		assert.Contains(t, body, "https://app.acme.test/join?token=deadbeef")
		assert.Contains(t, body, "Acme &lt;Realty&gt;")
		assert.Contains(t, body, "Dana Broker has invited you")
		assert.Contains(t, body, "as Staff")
	})

	t.Run("no auth without credentials", func(t *testing.T) {
		n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: "25"}, nil)
		n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			assert.Nil(t, a)
			assert.Equal(t, "no-reply@localhost", from)
			return nil
		}
		require.NoError(t, n.SendInvitation(context.Background(), inv))
	})

	t.Run("header injection is neutralized", func(t *testing.T) {
		n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: "25"}, nil)
		var gotMsg []byte
		n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotMsg = msg
			return nil
		}
		evil := inv
		evil.OrganizationName = "Acme\r\nBcc: victim@example.com"
		require.NoError(t, n.SendInvitation(context.Background(), evil))
		headers := strings.SplitN(string(gotMsg), "\r\n\r\n", 2)[0]
		assert.NotContains(t, headers, "\r\nBcc:")
	})

	t.Run("send failure", func(t *testing.T) {
		n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: "25"}, nil)
		n.send = func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		}
		err := n.SendInvitation(context.Background(), inv)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to send invitation mail")
	})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier("https://app.acme.test/join", observability.NewLogger(observability.InfoLevel, &buf))

	require.NoError(t, n.SendInvitation(context.Background(), Invitation{Email: "a@acme.test", Token: "t0k"}))
	out := buf.String()
	assert.True(t, strings.Contains(out, "https://app.acme.test/join?token=t0k"), out)
	assert.Contains(t, out, "a@acme.test")
}
