package charge

import (
	"time"

	"nudge/internal/constants"
	pkgerrors "nudge/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Charge is one scheduled unit of notification work. All status mutations go
// through the transition methods; DispatchAt is computed once at creation and
// never recomputed.
type Charge struct {
	ID       string `json:"id" db:"id"`
	RuleID   string `json:"rule_id" db:"rule_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Payload is the raw substitution map as received, serialized verbatim.
	Payload []byte `json:"payload" db:"payload"`

	DueAt      time.Time `json:"due_at" db:"due_at"`
	DispatchAt time.Time `json:"dispatch_at" db:"dispatch_at"`

	Status       Status     `json:"status" db:"status"`
	AttemptCount int        `json:"attempt_count" db:"attempt_count"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	LastError    string     `json:"last_error,omitempty" db:"last_error"`

	// Source records how the charge entered the system: api, webhook or import.
	Source string `json:"source" db:"source"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsDue reports whether the dispatcher should pick this charge up. Failed
// charges are not due; they re-enter the pool only through Reprocess.
func (c *Charge) IsDue(now time.Time) bool {
	return c.Status == StatusPending &&
		!c.DispatchAt.After(now) &&
		c.AttemptCount < constants.MaxAttempts
}

// IsTerminal reports whether no further attempts can happen without an
// explicit operator action.
func (c *Charge) IsTerminal() bool {
	switch c.Status {
	case StatusProcessed, StatusCancelled:
		return true
	case StatusFailed:
		return c.AttemptCount >= constants.MaxAttempts
	default:
		return false
	}
}

func (c *Charge) MarkProcessed(now time.Time) error {
	if c.Status != StatusPending {
		return pkgerrors.ErrTerminalState.WithDetail("status", string(c.Status))
	}
	c.Status = StatusProcessed
	c.ProcessedAt = &now
	c.LastError = ""
	return nil
}

func (c *Charge) MarkFailed(errMsg string) error {
	if c.Status != StatusPending {
		return pkgerrors.ErrTerminalState.WithDetail("status", string(c.Status))
	}
	c.Status = StatusFailed
	c.LastError = errMsg
	c.AttemptCount++
	return nil
}

func (c *Charge) Cancel() error {
	if c.Status == StatusProcessed || c.Status == StatusCancelled {
		return pkgerrors.ErrTerminalState.WithDetail("status", string(c.Status))
	}
	c.Status = StatusCancelled
	return nil
}

// Rearm moves a failed charge below the attempt cap back to pending. This is
// the only path from Failed back into the dispatch pool; the original
// dispatch time is already past, so the next sweep picks it up.
func (c *Charge) Rearm() error {
	if c.Status != StatusFailed {
		return pkgerrors.ErrTerminalState.WithDetail("status", string(c.Status))
	}
	if c.AttemptCount >= constants.MaxAttempts {
		return pkgerrors.ErrTerminalState.WithDetail("message", "attempt cap reached")
	}
	c.Status = StatusPending
	return nil
}

type CreateChargeRequest struct {
	RuleID  string                 `json:"rule_id" binding:"required"`
	DueAt   time.Time              `json:"due_at" binding:"required"`
	Payload map[string]interface{} `json:"payload" binding:"required"`
}

// IngestChargeRequest is the body accepted on a rule's public webhook
// endpoint; the rule is identified by the URL token.
type IngestChargeRequest struct {
	DueAt   time.Time              `json:"due_at" binding:"required"`
	Payload map[string]interface{} `json:"payload" binding:"required"`
}

type ListFilter struct {
	TenantID string
	RuleID   string
	Status   Status
	Limit    int
	Offset   int
}
