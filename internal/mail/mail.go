// Package mail composes and sends result reports.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Attachment is a named file part.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is a plain text email with optional attachments.
type Message struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Date        time.Time
	Attachments []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Job describes a finished analysis for the operator.
type Job struct {
	Variant    string
	Images     []string
	Parameters []string
	CSV        string
	Host       string
}

// Compose builds the report message for a finished job.
func Compose(from, to string, job Job) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "%s analysis performed on:\n\n", job.Variant)
	body.WriteString(strings.Join(job.Images, "\n"))
	body.WriteString("\n\nParameters:\n\n")
	body.WriteString(strings.Join(job.Parameters, "\n"))
	body.WriteString("\n\nYour analysis results are attached.\n\n---\n")
	fmt.Fprintf(&body, "OMERO @ %s\n", job.Host)

	msg := Message{
		From:    from,
		To:      []string{to},
		Subject: fmt.Sprintf("[OMERO Job] %s analysis", job.Variant),
		Body:    body.String(),
		Date:    time.Now(),
	}
	if job.CSV != "" {
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:        "results.csv",
			ContentType: "text/csv",
			Data:        []byte(job.CSV),
		})
	}
	return msg
}

// Msg converts m into a MIME message. The date defaults to now.
func (m Message) Msg() (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return nil, fmt.Errorf("sender %q: %w", m.From, err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("recipients %v: %w", m.To, err)
	}
	msg.Subject(m.Subject)
	if m.Date.IsZero() {
		msg.SetDate()
	} else {
		msg.SetDateWithValue(m.Date)
	}
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)
	for _, a := range m.Attachments {
		var opts []gomail.FileOption
		if a.ContentType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}
		if err := msg.AttachReader(a.Name, bytes.NewReader(a.Data), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return msg, nil
}

// Bytes renders m as it would be sent.
func (m Message) Bytes() ([]byte, error) {
	msg, err := m.Msg()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SMTPSender submits messages to an SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (s SMTPSender) client() (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(s.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.Username),
			gomail.WithPassword(s.Password),
		)
	}
	return gomail.NewClient(s.Host, opts...)
}

// Send delivers msg. Authentication is used only when a username is set.
func (s SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := msg.Msg()
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client for %s: %w", s.Host, err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", s.Host, s.Port, err)
	}
	return nil
}

// ErrDeliveryDisabled is returned by Noop. A run that hits it is not counted
// as emailed.
var ErrDeliveryDisabled = errors.New("mail delivery disabled")

// Noop logs instead of sending and reports ErrDeliveryDisabled. It is used
// when no relay is configured.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Send(_ context.Context, msg Message) error {
	log := n.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail delivery disabled", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	return ErrDeliveryDisabled
}
