package delivery

import (
	"time"
)

// Status tracks where a message is in its provider lifecycle. Numeric order
// is meaningful only on the success branch (Pending through Clicked); the
// failure values are independent terminal or semi-terminal states.
type Status int

const (
	StatusPending   Status = 0
	StatusSent      Status = 1
	StatusDelivered Status = 2
	StatusOpened    Status = 3
	StatusClicked   Status = 4

	StatusSoftBounce   Status = 10
	StatusDeferred     Status = 11
	StatusHardBounce   Status = 20
	StatusInvalidEmail Status = 21
	StatusBlocked      Status = 22
	StatusComplaint    Status = 30
	StatusUnsubscribed Status = 31

	StatusSendError Status = 40
)

var statusNames = map[Status]string{
	StatusPending:      "pending",
	StatusSent:         "sent",
	StatusDelivered:    "delivered",
	StatusOpened:       "opened",
	StatusClicked:      "clicked",
	StatusSoftBounce:   "soft_bounce",
	StatusDeferred:     "deferred",
	StatusHardBounce:   "hard_bounce",
	StatusInvalidEmail: "invalid_email",
	StatusBlocked:      "blocked",
	StatusComplaint:    "complaint",
	StatusUnsubscribed: "unsubscribed",
	StatusSendError:    "send_error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// onSuccessBranch reports whether the status participates in the ordered
// Pending..Clicked progression.
func (s Status) onSuccessBranch() bool {
	return s >= StatusPending && s <= StatusClicked
}

// Record is the per-attempt audit object for one message handed to a
// provider. Current status always equals the status of the latest event.
type Record struct {
	ID       string `json:"id" db:"id"`
	ChargeID string `json:"charge_id" db:"charge_id"`
	RuleID   string `json:"rule_id" db:"rule_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Channel          string `json:"channel" db:"channel"`
	Recipient        string `json:"recipient" db:"recipient"`
	RenderedMessage  string `json:"rendered_message" db:"rendered_message"`
	RenderedSubject  string `json:"rendered_subject,omitempty" db:"rendered_subject"`
	PayloadSnapshot  []byte `json:"payload_snapshot" db:"payload_snapshot"`
	ProviderID       string `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ProviderResponse string `json:"provider_response,omitempty" db:"provider_response"`

	Status Status `json:"status" db:"status"`

	OpenCount  int        `json:"open_count" db:"open_count"`
	ClickCount int        `json:"click_count" db:"click_count"`
	FirstOpen  *time.Time `json:"first_open_at,omitempty" db:"first_open_at"`
	LastOpen   *time.Time `json:"last_open_at,omitempty" db:"last_open_at"`
	FirstClick *time.Time `json:"first_click_at,omitempty" db:"first_click_at"`
	LastClick  *time.Time `json:"last_click_at,omitempty" db:"last_click_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StatusEvent is one immutable entry in a record's status timeline.
type StatusEvent struct {
	ID         string    `json:"id" db:"id"`
	RecordID   string    `json:"record_id" db:"record_id"`
	FromStatus Status    `json:"from_status" db:"from_status"`
	ToStatus   Status    `json:"to_status" db:"to_status"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	Detail     string    `json:"detail,omitempty" db:"detail"`
	IP         string    `json:"ip,omitempty" db:"ip"`
	UserAgent  string    `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Callback is the normalized shape of an asynchronous provider notification.
type Callback struct {
	Event             string    `json:"event" binding:"required"`
	ProviderMessageID string    `json:"message_id" binding:"required"`
	Recipient         string    `json:"recipient"`
	Timestamp         time.Time `json:"timestamp"`
	Link              string    `json:"link,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	Code              string    `json:"code,omitempty"`
	IP                string    `json:"ip,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
}

// callbackStatuses maps provider event names onto delivery statuses.
// Unlisted event types are accepted and audited but move nothing.
var callbackStatuses = map[string]Status{
	"sent":          StatusSent,
	"delivered":     StatusDelivered,
	"opened":        StatusOpened,
	"open":          StatusOpened,
	"clicked":       StatusClicked,
	"click":         StatusClicked,
	"soft_bounce":   StatusSoftBounce,
	"deferred":      StatusDeferred,
	"hard_bounce":   StatusHardBounce,
	"bounce":        StatusHardBounce,
	"invalid_email": StatusInvalidEmail,
	"blocked":       StatusBlocked,
	"complaint":     StatusComplaint,
	"spam":          StatusComplaint,
	"unsubscribed":  StatusUnsubscribed,
	"unsub":         StatusUnsubscribed,
	"error":         StatusSendError,
}

// StatusForEvent resolves a callback event name to a delivery status.
func StatusForEvent(event string) (Status, bool) {
	s, ok := callbackStatuses[event]
	return s, ok
}
