package email

import (
	"context"
	"errors"
)

// Sender define la interfaz para envio de enlaces de autenticacion por correo.
type Sender interface {
	SendRegistrationLink(ctx context.Context, toEmail, token string) error
	SendLoginLink(ctx context.Context, toEmail, token string) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendRegistrationLink(_ context.Context, _, _ string) error {
	return s.err()
}

func (s *disabledSender) SendLoginLink(_ context.Context, _, _ string) error {
	return s.err()
}

func (s *disabledSender) err() error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
