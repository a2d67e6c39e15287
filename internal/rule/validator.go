package rule

import (
	"fmt"

	"nudge/internal/channel"
	"nudge/pkg/filterexpr"
)

func ValidateCreateRule(req CreateRuleRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.Template == "" {
		return fmt.Errorf("template is required")
	}
	if _, err := channel.Parse(req.Channel); err != nil {
		return err
	}

	moment, err := ParseMomentType(req.MomentType)
	if err != nil {
		return err
	}
	if moment != Exactly {
		if req.TimeValue <= 0 {
			return fmt.Errorf("time_value must be positive")
		}
		if _, err := ParseTimeUnit(req.TimeUnit); err != nil {
			return err
		}
	}

	return validateFilterExpression(req.FilterExpression)
}

func ValidateUpdateRule(req UpdateRuleRequest) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.Template != nil && *req.Template == "" {
		return fmt.Errorf("template cannot be empty")
	}
	if req.Channel != nil {
		if _, err := channel.Parse(*req.Channel); err != nil {
			return err
		}
	}
	if req.MomentType != nil {
		if _, err := ParseMomentType(*req.MomentType); err != nil {
			return err
		}
	}
	if req.TimeValue != nil && *req.TimeValue <= 0 {
		return fmt.Errorf("time_value must be positive")
	}
	if req.TimeUnit != nil {
		if _, err := ParseTimeUnit(*req.TimeUnit); err != nil {
			return err
		}
	}
	if req.FilterExpression != nil {
		return validateFilterExpression(*req.FilterExpression)
	}
	return nil
}

func validateFilterExpression(expression string) error {
	if expression == "" {
		return nil
	}

	evaluator, err := filterexpr.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create expression evaluator: %w", err)
	}
	if err := evaluator.ValidateExpression(expression); err != nil {
		return fmt.Errorf("invalid filter expression: %w", err)
	}
	return nil
}
