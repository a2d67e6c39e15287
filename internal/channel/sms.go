package channel

import (
	"context"
	"fmt"

	"nudge/internal/config"
)

type textPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type SMSProvider struct {
	gateway *gatewayClient
}

func NewSMSProvider(cfg config.ProviderConfig) *SMSProvider {
	return &SMSProvider{
		gateway: newGatewayClient(cfg.BaseURL, cfg.APIKey, cfg.TimeoutSeconds),
	}
}

func (p *SMSProvider) Channel() Channel {
	return SMS
}

func (p *SMSProvider) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Recipient == "" {
		return nil, fmt.Errorf("sms recipient is required")
	}

	return p.gateway.post(ctx, "/v1/sms/send", textPayload{
		To:      req.Recipient,
		Message: req.Message,
	})
}
