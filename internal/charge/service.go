package charge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/internal/logger"
	"nudge/internal/rule"
	"nudge/internal/template"
	pkgerrors "nudge/pkg/errors"
	"nudge/pkg/filterexpr"
	"nudge/pkg/metrics"
	"nudge/pkg/models"
)

type Service interface {
	// Create validates the payload against the rule, computes the dispatch
	// time and persists a pending charge. A non-default rule whose computed
	// dispatch time is already past is rejected.
	Create(ctx context.Context, req CreateChargeRequest, source string) (*Charge, error)

	// Ingest creates a charge through a rule's public webhook token.
	Ingest(ctx context.Context, token string, req IngestChargeRequest) (*Charge, error)

	// ValidatePayload reports every missing template variable at once.
	ValidatePayload(ctx context.Context, ruleID string, payload map[string]interface{}) ([]string, error)

	Get(ctx context.Context, id string) (*Charge, error)
	List(ctx context.Context, filter ListFilter) ([]Charge, error)

	// Reprocess moves a failed charge below the attempt cap back to pending.
	Reprocess(ctx context.Context, id string) (*Charge, error)
	Cancel(ctx context.Context, id string) (*Charge, error)
}

type service struct {
	repo      Repository
	rules     rule.Service
	producer  broker.Producer
	evaluator *filterexpr.Evaluator
	topics    config.KafkaConfig
	log       logger.Logger

	now func() time.Time
}

type ServiceOption func(*service)

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		s.now = now
	}
}

func NewService(repo Repository, rules rule.Service, producer broker.Producer, topics config.KafkaConfig, log logger.Logger, opts ...ServiceOption) (Service, error) {
	evaluator, err := filterexpr.NewEvaluator()
	if err != nil {
		return nil, err
	}

	s := &service{
		repo:      repo,
		rules:     rules,
		producer:  producer,
		evaluator: evaluator,
		topics:    topics,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Create(ctx context.Context, req CreateChargeRequest, source string) (*Charge, error) {
	r, err := s.rules.Get(ctx, req.RuleID)
	if err != nil {
		s.reject("rule_not_found")
		return nil, err
	}
	return s.create(ctx, r, req.DueAt, req.Payload, source)
}

func (s *service) Ingest(ctx context.Context, token string, req IngestChargeRequest) (*Charge, error) {
	r, err := s.rules.GetByToken(ctx, token)
	if err != nil {
		s.reject("unknown_token")
		return nil, err
	}
	return s.create(ctx, r, req.DueAt, req.Payload, "webhook")
}

func (s *service) create(ctx context.Context, r *rule.Rule, dueAt time.Time, payload map[string]interface{}, source string) (*Charge, error) {
	if !r.Active {
		s.reject("rule_inactive")
		return nil, pkgerrors.ErrValidation.WithDetail("message", "rule is inactive")
	}

	p := template.Payload(payload)
	if missing := template.MissingVariables(r.RequiredPayloadVariables, r.RequiredSystemVariables, p); len(missing) > 0 {
		s.reject("missing_variables")
		return nil, pkgerrors.ErrMissingVariables.WithDetail("missing_variables", missing)
	}

	if r.FilterExpression != "" {
		keep, err := s.evaluator.Evaluate(ctx, r.FilterExpression, payload, p.Nested())
		if err != nil {
			s.reject("filter_error")
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
		}
		if !keep {
			s.reject("filtered_out")
			return nil, pkgerrors.ErrValidation.WithDetail("message", "payload rejected by rule filter expression")
		}
	}

	now := s.now()
	dispatchAt := r.DispatchAt(dueAt, now)
	if !r.Default && dispatchAt.Before(now) {
		s.reject("dispatch_in_past")
		return nil, pkgerrors.ErrDispatchInPast.WithDetail("dispatch_at", dispatchAt)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	charge := &Charge{
		RuleID:     r.ID,
		TenantID:   r.TenantID,
		Payload:    raw,
		DueAt:      dueAt,
		DispatchAt: dispatchAt,
		Status:     StatusPending,
		Source:     source,
	}

	if err := s.repo.Create(ctx, charge); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	metrics.ChargesCreatedTotal.WithLabelValues(source).Inc()
	s.log.InfowCtx(ctx, "Charge created",
		"charge_id", charge.ID, "rule_id", r.ID, "tenant_id", r.TenantID,
		"dispatch_at", dispatchAt, "source", source)

	s.publishEvent(ctx, models.EventTypeChargeCreated, charge)

	return charge, nil
}

func (s *service) ValidatePayload(ctx context.Context, ruleID string, payload map[string]interface{}) ([]string, error) {
	r, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return template.MissingVariables(r.RequiredPayloadVariables, r.RequiredSystemVariables, template.Payload(payload)), nil
}

func (s *service) Get(ctx context.Context, id string) (*Charge, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]Charge, error) {
	charges, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return charges, nil
}

func (s *service) Reprocess(ctx context.Context, id string) (*Charge, error) {
	// The repository transition is status-conditioned so a concurrent
	// dispatch can never be overwritten by a stale snapshot.
	rearmed, err := s.repo.Rearm(ctx, id, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	charge, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rearmed {
		if err := charge.Rearm(); err != nil {
			return nil, err
		}
		return nil, pkgerrors.ErrTerminalState.WithDetail("status", string(charge.Status))
	}

	s.log.InfowCtx(ctx, "Charge queued for reprocessing",
		"charge_id", charge.ID, "attempt_count", charge.AttemptCount)
	s.publishEvent(ctx, models.EventTypeChargeReprocessed, charge)

	return charge, nil
}

func (s *service) Cancel(ctx context.Context, id string) (*Charge, error) {
	cancelled, err := s.repo.Cancel(ctx, id, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	charge, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, pkgerrors.ErrTerminalState.WithDetail("status", string(charge.Status))
	}

	s.log.InfowCtx(ctx, "Charge cancelled", "charge_id", charge.ID)
	s.publishEvent(ctx, models.EventTypeChargeCancelled, charge)

	return charge, nil
}

func (s *service) reject(reason string) {
	metrics.ChargesRejectedTotal.WithLabelValues(reason).Inc()
}

func (s *service) publishEvent(ctx context.Context, eventType string, charge *Charge) {
	if s.producer == nil {
		return
	}

	msg := models.NewMessageEnvelopeBuilder().
		WithID(uuid.New().String()).
		WithSource("api-service").
		WithType(eventType).
		WithTimestamp(s.now()).
		WithPayload(map[string]interface{}{
			"charge_id":     charge.ID,
			"rule_id":       charge.RuleID,
			"status":        string(charge.Status),
			"attempt_count": charge.AttemptCount,
			"dispatch_at":   charge.DispatchAt,
		}).
		WithTenantID(charge.TenantID).
		Build()

	if err := s.producer.Publish(ctx, s.topics.ChargeEventsTopic, *msg); err != nil {
		s.log.WarnwCtx(ctx, "Failed to publish charge event",
			"error", err, "event_type", eventType, "charge_id", charge.ID)
	}
}
