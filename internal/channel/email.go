package channel

import (
	"context"
	"fmt"

	"nudge/internal/config"
)

type emailPayload struct {
	To       string       `json:"to"`
	Subject  string       `json:"subject"`
	Body     string       `json:"body"`
	HTML     bool         `json:"html"`
	Sender   *emailSender `json:"sender,omitempty"`
	ReplyTo  string       `json:"reply_to,omitempty"`
	Category string       `json:"category,omitempty"`
}

type emailSender struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// EmailProvider talks to a transactional email gateway. The configured
// sender identity is the default; a SendRequest may override it per message.
type EmailProvider struct {
	gateway *gatewayClient
	cfg     config.ProviderConfig
}

func NewEmailProvider(cfg config.ProviderConfig) *EmailProvider {
	return &EmailProvider{
		gateway: newGatewayClient(cfg.BaseURL, cfg.APIKey, cfg.TimeoutSeconds),
		cfg:     cfg,
	}
}

func (p *EmailProvider) Channel() Channel {
	return Email
}

func (p *EmailProvider) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Recipient == "" {
		return nil, fmt.Errorf("email recipient is required")
	}

	payload := emailPayload{
		To:       req.Recipient,
		Subject:  req.Subject,
		Body:     req.Message,
		HTML:     req.HTML,
		Category: "billing-reminder",
	}

	from := req.From
	fromName := req.FromName
	if from == "" {
		from = p.cfg.FromAddress
		fromName = p.cfg.FromName
	}
	if from != "" {
		payload.Sender = &emailSender{Address: from, Name: fromName}
	}

	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = p.cfg.ReplyAddress
	}
	payload.ReplyTo = replyTo

	return p.gateway.post(ctx, "/v1/email/send", payload)
}
