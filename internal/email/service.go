package email

import (
	"context"
)

type Service interface {
	SendWelcome(ctx context.Context, email string, name string) error
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

type nopService struct{}

// NewNopService returns a Service that sends nothing. Used when SMTP is not configured.
func NewNopService() Service { return nopService{} }

func (nopService) SendWelcome(context.Context, string, string) error { return nil }

func (nopService) SendCustom(context.Context, string, string, string) error { return nil }
