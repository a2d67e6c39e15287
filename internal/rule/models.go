package rule

import (
	"fmt"
	"time"
)

// MomentType positions a dispatch relative to the charge's due date.
type MomentType string

const (
	Before  MomentType = "before"
	After   MomentType = "after"
	Exactly MomentType = "exactly"
)

func ParseMomentType(s string) (MomentType, error) {
	switch MomentType(s) {
	case Before, After, Exactly:
		return MomentType(s), nil
	default:
		return "", fmt.Errorf("unknown moment type: %s", s)
	}
}

type TimeUnit string

const (
	Minutes TimeUnit = "minutes"
	Hours   TimeUnit = "hours"
	Days    TimeUnit = "days"
)

func ParseTimeUnit(s string) (TimeUnit, error) {
	switch TimeUnit(s) {
	case Minutes, Hours, Days:
		return TimeUnit(s), nil
	default:
		return "", fmt.Errorf("unknown time unit: %s", s)
	}
}

func (u TimeUnit) Duration(value int) time.Duration {
	switch u {
	case Minutes:
		return time.Duration(value) * time.Minute
	case Hours:
		return time.Duration(value) * time.Hour
	case Days:
		return time.Duration(value) * 24 * time.Hour
	default:
		return 0
	}
}

// Rule describes when, through which channel, and with which template a
// reminder is sent relative to a charge's due date.
type Rule struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Active      bool      `json:"active" db:"active"`
	Default     bool      `json:"default" db:"is_default"`

	MomentType MomentType `json:"moment_type" db:"moment_type"`
	TimeValue  int        `json:"time_value" db:"time_value"`
	TimeUnit   TimeUnit   `json:"time_unit" db:"time_unit"`

	Channel      string `json:"channel" db:"channel"`
	Template     string `json:"template" db:"template"`
	EmailSubject string `json:"email_subject,omitempty" db:"email_subject"`

	// FilterExpression optionally gates charge creation with a CEL
	// predicate over the incoming payload. Empty means no filter.
	FilterExpression string `json:"filter_expression,omitempty" db:"filter_expression"`

	// RequiredPayloadVariables is derived from template + subject on every
	// write; it is never accepted from callers.
	RequiredPayloadVariables []string `json:"required_payload_variables" db:"required_payload_variables"`

	// RequiredSystemVariables are tenant-configured fields expected at the
	// payload root rather than inside the nested payload object.
	RequiredSystemVariables []string `json:"required_system_variables" db:"required_system_variables"`

	// WebhookToken identifies the rule's public ingestion endpoint.
	WebhookToken string `json:"webhook_token" db:"webhook_token"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DispatchAt computes when a charge created against this rule should fire.
// Default rules dispatch immediately regardless of their time fields.
func (r *Rule) DispatchAt(dueAt, now time.Time) time.Time {
	if r.Default {
		return now
	}
	return ComputeDispatchAt(dueAt, r.MomentType, r.TimeValue, r.TimeUnit)
}

// ComputeDispatchAt applies the rule's relative offset to a due date.
func ComputeDispatchAt(dueAt time.Time, moment MomentType, value int, unit TimeUnit) time.Time {
	switch moment {
	case Before:
		return dueAt.Add(-unit.Duration(value))
	case After:
		return dueAt.Add(unit.Duration(value))
	default:
		return dueAt
	}
}

type CreateRuleRequest struct {
	TenantID         string   `json:"tenant_id" binding:"required"`
	Name             string   `json:"name" binding:"required"`
	Description      string   `json:"description"`
	Active           *bool    `json:"active"`
	MomentType       string   `json:"moment_type" binding:"required"`
	TimeValue        int      `json:"time_value"`
	TimeUnit         string   `json:"time_unit"`
	Channel          string   `json:"channel" binding:"required"`
	Template         string   `json:"template" binding:"required"`
	EmailSubject     string   `json:"email_subject"`
	FilterExpression string   `json:"filter_expression"`
	SystemVariables  []string `json:"system_variables"`
}

type UpdateRuleRequest struct {
	Name             *string   `json:"name"`
	Description      *string   `json:"description"`
	Active           *bool     `json:"active"`
	MomentType       *string   `json:"moment_type"`
	TimeValue        *int      `json:"time_value"`
	TimeUnit         *string   `json:"time_unit"`
	Channel          *string   `json:"channel"`
	Template         *string   `json:"template"`
	EmailSubject     *string   `json:"email_subject"`
	FilterExpression *string   `json:"filter_expression"`
	SystemVariables  *[]string `json:"system_variables"`
}
