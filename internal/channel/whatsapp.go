package channel

import (
	"context"
	"fmt"

	"nudge/internal/config"
)

type WhatsAppProvider struct {
	gateway *gatewayClient
}

func NewWhatsAppProvider(cfg config.ProviderConfig) *WhatsAppProvider {
	return &WhatsAppProvider{
		gateway: newGatewayClient(cfg.BaseURL, cfg.APIKey, cfg.TimeoutSeconds),
	}
}

func (p *WhatsAppProvider) Channel() Channel {
	return WhatsApp
}

func (p *WhatsAppProvider) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Recipient == "" {
		return nil, fmt.Errorf("whatsapp recipient is required")
	}

	return p.gateway.post(ctx, "/v1/whatsapp/send", textPayload{
		To:      req.Recipient,
		Message: req.Message,
	})
}
