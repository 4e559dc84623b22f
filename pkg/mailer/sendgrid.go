// Package mailer delivers transactional email through SendGrid.
package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	defaultHost = "https://api.sendgrid.com"
	sendPath    = "/v3/mail/send"
)

// Message is a single-recipient email.
type Message struct {
	ToName   string
	ToEmail  string
	Subject  string
	Text     string
	HTML     string
	Category string
}

type sender func(ctx context.Context, req rest.Request) (*rest.Response, error)

// SendGrid sends Message values through the SendGrid v3 API.
type SendGrid struct {
	key  string
	host string
	from *sgmail.Email
	send sender
}

// NewSendGrid builds a mailer. It returns nil when apiKey is empty so callers
// can treat email delivery as disabled.
func NewSendGrid(apiKey, fromName, fromAddress string) *SendGrid {
	if apiKey == "" {
		return nil
	}
	return &SendGrid{
		key:  apiKey,
		host: defaultHost,
		from: sgmail.NewEmail(fromName, fromAddress),
		send: func(ctx context.Context, req rest.Request) (*rest.Response, error) {
			return sendgrid.MakeRequestWithContext(ctx, req)
		},
	}
}

// Send delivers msg and treats any non-2xx status as an error.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if s == nil {
		return fmt.Errorf("mailer disabled")
	}
	if msg.ToEmail == "" {
		return fmt.Errorf("mailer: recipient address required")
	}

	req := sendgrid.GetRequest(s.key, sendPath, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.build(msg))

	res, err := s.send(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (s *SendGrid) build(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToEmail))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	if msg.Text != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	return m
}
