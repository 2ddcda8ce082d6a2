package worker

// email_worker.go
// Sends ticket PDFs to customers who left an email on the sale.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// EmailJobPayload is the job envelope sent to QueueEmail.
type EmailJobPayload struct {
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	PDFPath string `json:"pdf_path"`
}

// TicketMailer is satisfied by *infra.Mailer.
type TicketMailer interface {
	SendTicket(to, subject, body, pdfPath string) error
}

// EmailWorker sends ticket PDFs by email.
type EmailWorker struct {
	mailer TicketMailer
}

// NewEmailWorker creates an EmailWorker.
func NewEmailWorker(mailer TicketMailer) *EmailWorker {
	return &EmailWorker{mailer: mailer}
}

// Process sends one email with the ticket PDF attached.
func (w *EmailWorker) Process(_ context.Context, raw json.RawMessage) error {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("email_worker: invalid payload: %w", err)
	}
	if payload.ToEmail == "" {
		log.Warn().Msg("email_worker: empty to_email, skipping")
		return nil
	}

	if err := w.mailer.SendTicket(payload.ToEmail, payload.Subject, payload.Body, payload.PDFPath); err != nil {
		return err
	}
	log.Info().Str("to", payload.ToEmail).Msg("email_worker: ticket sent")
	return nil
}
