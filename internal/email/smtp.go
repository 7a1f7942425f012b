package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	from   string
	sender Sender
}

// NewSMTPService sends mail through the configured SMTP relay. It returns the
// no-op service when no host is set.
func NewSMTPService(cfg Config) Service {
	if cfg.Host == "" {
		return NewNopService()
	}
	return NewService(cfg.From, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password))
}

func NewService(from string, sender Sender) Service {
	return &smtpService{from: from, sender: sender}
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<p>Hello {{.Name}},</p>
<p>Your LivSafe account has been created. You can now sign in and upload liver ultrasound images for grading.</p>
<p>Grades produced by this service are simulated and are not a medical diagnosis.</p>`))

func (s *smtpService) SendWelcome(ctx context.Context, to string, name string) error {
	var body bytes.Buffer
	if err := welcomeTemplate.Execute(&body, struct{ Name string }{name}); err != nil {
		return fmt.Errorf("failed to render welcome email: %w", err)
	}
	return s.SendCustom(ctx, to, "Welcome to LivSafe", body.String())
}

func (s *smtpService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", content)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
