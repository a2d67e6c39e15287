package integration

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"nudge/internal/charge"
	"nudge/internal/delivery"
	"nudge/internal/logger"
	"nudge/internal/rule"
)

const (
	containerStartupTimeout = 60
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestRule(tenantID, name string) *rule.Rule {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &rule.Rule{
		ID:                       uuid.New().String(),
		TenantID:                 tenantID,
		Name:                     name,
		Description:              "three days before due date",
		Active:                   true,
		MomentType:               rule.Before,
		TimeValue:                3,
		TimeUnit:                 rule.Days,
		Channel:                  "email",
		Template:                 "Your invoice of {{Valor}} is due on {{Data}}",
		EmailSubject:             "Invoice {{Valor}}",
		RequiredPayloadVariables: []string{"Valor", "Data"},
		RequiredSystemVariables:  []string{"Email"},
		WebhookToken:             uuid.New().String(),
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

func createTestCharge(ruleID, tenantID string, dispatchAt time.Time) *charge.Charge {
	now := time.Now().UTC().Truncate(time.Millisecond)
	payload, _ := json.Marshal(map[string]interface{}{
		"Email":   "customer@example.com",
		"DueDate": dispatchAt.Add(72 * time.Hour).Format(time.RFC3339),
		"Payload": map[string]interface{}{
			"Valor": "150.00",
			"Data":  "31/12/2025",
		},
	})
	return &charge.Charge{
		ID:         uuid.New().String(),
		RuleID:     ruleID,
		TenantID:   tenantID,
		Payload:    payload,
		DueAt:      dispatchAt.Add(72 * time.Hour),
		DispatchAt: dispatchAt,
		Status:     charge.StatusPending,
		Source:     "api",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func createTestDeliveryRecord(chargeID, ruleID, tenantID, providerMessageID string) *delivery.Record {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &delivery.Record{
		ID:               uuid.New().String(),
		ChargeID:         chargeID,
		RuleID:           ruleID,
		TenantID:         tenantID,
		Channel:          "email",
		Recipient:        "customer@example.com",
		RenderedMessage:  "Your invoice of 150.00 is due on 31/12/2025",
		RenderedSubject:  "Invoice 150.00",
		PayloadSnapshot:  []byte(`{}`),
		ProviderID:       providerMessageID,
		ProviderResponse: `{"status":"queued"}`,
		Status:           delivery.StatusSent,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
