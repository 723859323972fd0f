package email

import (
	"context"
	"errors"
)

// Message es un correo saliente ya renderizado.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

// Sender define la interfaz de envío de correos. El subsistema de auth no
// conoce el transporte.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) Send(_ context.Context, _ Message) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
