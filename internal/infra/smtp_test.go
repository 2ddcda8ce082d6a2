package infra

import (
	"errors"
	"net/smtp"
	"os"
	"path/filepath"
	"testing"

	"evapos/internal/config"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailer_DisabledWithoutHost(t *testing.T) {
	m := NewMailer(&config.Config{})
	assert.False(t, m.Enabled())
	assert.Error(t, m.SendTicket("ana@example.es", "Ticket", "Gracias", ""))

	var nilMailer *Mailer
	assert.False(t, nilMailer.Enabled())
}

func TestMailer_SendTicketAttachesPDF(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "smtp.example.es", SMTPPort: 587, SMTPUser: "tickets@example.es", SMTPPassword: "secret"})

	var sent *email.Email
	var addr string
	var auth smtp.Auth
	m.send = func(e *email.Email, a string, au smtp.Auth) error {
		sent, addr, auth = e, a, au
		return nil
	}

	pdf := filepath.Join(t.TempDir(), "ticket_V-1.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.3"), 0o600))

	require.NoError(t, m.SendTicket("ana@example.es", "Su ticket", "Gracias por su compra", pdf))
	require.NotNil(t, sent)
	assert.Equal(t, "smtp.example.es:587", addr)
	assert.NotNil(t, auth)
	assert.Equal(t, []string{"ana@example.es"}, sent.To)
	assert.Equal(t, "tickets@example.es", sent.From)
	require.Len(t, sent.Attachments, 1)
	assert.Equal(t, "ticket_V-1.pdf", sent.Attachments[0].Filename)
}

func TestMailer_SendFailureIsWrapped(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "smtp.example.es", SMTPPort: 25})
	m.send = func(*email.Email, string, smtp.Auth) error { return errors.New("550 mailbox unavailable") }

	err := m.SendTicket("ana@example.es", "Su ticket", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ana@example.es")
}
