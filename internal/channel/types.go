package channel

import (
	"context"
	"fmt"
)

type Channel string

const (
	Email    Channel = "email"
	SMS      Channel = "sms"
	WhatsApp Channel = "whatsapp"
)

func Parse(s string) (Channel, error) {
	switch Channel(s) {
	case Email, SMS, WhatsApp:
		return Channel(s), nil
	default:
		return "", fmt.Errorf("unknown channel: %s", s)
	}
}

func (c Channel) Valid() bool {
	_, err := Parse(string(c))
	return err == nil
}

// SendRequest carries one rendered message to a provider. Subject and the
// sender identity fields are honored by email providers only.
type SendRequest struct {
	Recipient string
	Message   string
	Subject   string
	HTML      bool
	From      string
	FromName  string
	ReplyTo   string
}

// SendResult reports the outcome of a provider call that was actually made.
// Success false with an ErrorMessage means the provider was reached and
// rejected the message; transport-level failures surface as errors from Send.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	ProviderResponse  string
	ErrorMessage      string
}

type Provider interface {
	Channel() Channel
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}
