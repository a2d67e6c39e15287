package models

import "time"

// MessageEnvelope is the wire format for every message the service puts on or
// takes off the broker.
type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID    string                 `json:"trace_id,omitempty"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

const (
	EventTypeChargeCreated     = "charge.created"
	EventTypeChargeProcessed   = "charge.processed"
	EventTypeChargeFailed      = "charge.failed"
	EventTypeChargeCancelled   = "charge.cancelled"
	EventTypeChargeReprocessed = "charge.reprocessed"

	EventTypeDeliveryStatusChanged = "delivery.status_changed"

	EventTypeCallbackReceived = "callback.received"
)
