package rule

import (
	"context"

	"github.com/google/uuid"

	"nudge/internal/logger"
	"nudge/internal/template"
	pkgerrors "nudge/pkg/errors"
)

type Service interface {
	Create(ctx context.Context, req CreateRuleRequest) (*Rule, error)
	List(ctx context.Context, tenantID string) ([]Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	GetByToken(ctx context.Context, token string) (*Rule, error)
	Update(ctx context.Context, id string, req UpdateRuleRequest) (*Rule, error)
	Delete(ctx context.Context, id string) error
	RegenerateToken(ctx context.Context, id string) (*Rule, error)
}

type service struct {
	repo Repository
	log  logger.Logger
}

func NewService(repo Repository, log logger.Logger) Service {
	return &service{repo: repo, log: log}
}

func (s *service) Create(ctx context.Context, req CreateRuleRequest) (*Rule, error) {
	if err := ValidateCreateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule := &Rule{
		TenantID:                 req.TenantID,
		Name:                     req.Name,
		Description:              req.Description,
		Active:                   getActiveValue(req.Active),
		MomentType:               MomentType(req.MomentType),
		TimeValue:                req.TimeValue,
		TimeUnit:                 TimeUnit(req.TimeUnit),
		Channel:                  req.Channel,
		Template:                 req.Template,
		EmailSubject:             req.EmailSubject,
		FilterExpression:         req.FilterExpression,
		RequiredPayloadVariables: template.ExtractVariables(req.Template, req.EmailSubject),
		RequiredSystemVariables:  req.SystemVariables,
	}
	if rule.MomentType == Exactly {
		rule.TimeValue = 0
		rule.TimeUnit = ""
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		if pkgerrors.IsConflict(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.log.InfowCtx(ctx, "Rule created",
		"rule_id", rule.ID, "tenant_id", rule.TenantID, "channel", rule.Channel)

	return rule, nil
}

func (s *service) List(ctx context.Context, tenantID string) ([]Rule, error) {
	rules, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return rules, nil
}

func (s *service) Get(ctx context.Context, id string) (*Rule, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) GetByToken(ctx context.Context, token string) (*Rule, error) {
	return s.repo.GetByToken(ctx, token)
}

func (s *service) Update(ctx context.Context, id string, req UpdateRuleRequest) (*Rule, error) {
	if err := ValidateUpdateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// On a default rule only the channel/template surface may change; its
	// identity and time configuration are fixed.
	if rule.Default && touchesProtectedFields(req) {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "default rule name, description and time fields are immutable")
	}

	applyUpdate(rule, req)
	rule.RequiredPayloadVariables = template.ExtractVariables(rule.Template, rule.EmailSubject)

	if err := s.repo.Update(ctx, rule); err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.log.InfowCtx(ctx, "Rule updated", "rule_id", rule.ID, "tenant_id", rule.TenantID)

	return rule, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if rule.Default {
		return pkgerrors.ErrValidation.WithDetail("message", "default rule cannot be deleted")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.log.InfowCtx(ctx, "Rule deleted", "rule_id", id, "tenant_id", rule.TenantID)
	return nil
}

func (s *service) RegenerateToken(ctx context.Context, id string) (*Rule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.WebhookToken = uuid.New().String()
	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.log.InfowCtx(ctx, "Rule webhook token regenerated", "rule_id", id)
	return rule, nil
}

func touchesProtectedFields(req UpdateRuleRequest) bool {
	return req.Name != nil || req.Description != nil ||
		req.MomentType != nil || req.TimeValue != nil || req.TimeUnit != nil
}

func applyUpdate(rule *Rule, req UpdateRuleRequest) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.MomentType != nil {
		rule.MomentType = MomentType(*req.MomentType)
	}
	if req.TimeValue != nil {
		rule.TimeValue = *req.TimeValue
	}
	if req.TimeUnit != nil {
		rule.TimeUnit = TimeUnit(*req.TimeUnit)
	}
	if req.Channel != nil {
		rule.Channel = *req.Channel
	}
	if req.Template != nil {
		rule.Template = *req.Template
	}
	if req.EmailSubject != nil {
		rule.EmailSubject = *req.EmailSubject
	}
	if req.FilterExpression != nil {
		rule.FilterExpression = *req.FilterExpression
	}
	if req.SystemVariables != nil {
		rule.RequiredSystemVariables = *req.SystemVariables
	}
}

func getActiveValue(active *bool) bool {
	if active == nil {
		return true
	}
	return *active
}
