// Package services provides the business logic layer for the OS2borgerPC
// admin backend: computer registration and instruction delivery, script and
// policy execution, security-event ingestion, and citizen login control.
// Services sit between the HTTP handlers and the repositories and own the
// transaction boundaries of each logical operation.
package services

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
)

// Mailer delivers notification e-mails. Send failures are reported to the
// caller but callers treat them as non-fatal to the triggering operation.
type Mailer interface {
	Send(to []string, subject, body string) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	Addr string // host:port of the relay
	From string
}

// Send delivers one message to all recipients in a single SMTP transaction.
func (m *SMTPMailer) Send(to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.From, strings.Join(to, ", "), subject, body)

	if err := smtp.SendMail(m.Addr, nil, m.From, to, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.Addr, err)
	}
	return nil
}

// LogMailer writes would-be messages to the structured log. Used when no
// SMTP relay is configured, and as the fake in tests.
type LogMailer struct {
	Logger *security.Logger
}

// Send logs the message instead of delivering it.
func (m *LogMailer) Send(to []string, subject, _ string) error {
	m.Logger.Infof("mail (not sent, no relay configured) to=%s subject=%q", strings.Join(to, ","), subject)
	return nil
}
