package email

import (
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// Message is a plain-text email.
type Message struct {
	From    mail.Address
	To      []string
	Subject string
	Body    string
	Date    time.Time
}

// Validate rejects messages without a valid recipient list.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("no recipients")
	}
	for _, to := range m.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("invalid email address: %s", to)
		}
	}
	return nil
}

// Bytes renders the message with RFC 5322 headers.
func (m Message) Bytes() []byte {
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From.String())
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Send delivers msg through an authenticated SMTP relay.
func Send(server string, port int, username, password string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	auth := smtp.PlainAuth("", username, password, server)
	addr := fmt.Sprintf("%s:%d", server, port)
	return smtp.SendMail(addr, auth, msg.From.Address, msg.To, msg.Bytes())
}
