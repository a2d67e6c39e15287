package rule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "nudge/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, rule *Rule) error
	List(ctx context.Context, tenantID string) ([]Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	GetByToken(ctx context.Context, token string) (*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error
}

const ruleColumns = `id, tenant_id, name, description, active, is_default,
		moment_type, time_value, time_unit, channel, template, email_subject,
		filter_expression, required_payload_variables, required_system_variables,
		webhook_token, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.WebhookToken == "" {
		rule.WebhookToken = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.Description, rule.Active, rule.Default,
		rule.MomentType, rule.TimeValue, rule.TimeUnit, rule.Channel, rule.Template, rule.EmailSubject,
		rule.FilterExpression, pq.Array(rule.RequiredPayloadVariables), pq.Array(rule.RequiredSystemVariables),
		rule.WebhookToken, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists for tenant", rule.Name))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE webhook_token = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*Rule, error) {
	var rule Rule
	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &rule.Active, &rule.Default,
		&rule.MomentType, &rule.TimeValue, &rule.TimeUnit, &rule.Channel, &rule.Template, &rule.EmailSubject,
		&rule.FilterExpression, pq.Array(&rule.RequiredPayloadVariables), pq.Array(&rule.RequiredSystemVariables),
		&rule.WebhookToken, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (r *PostgresRepository) List(ctx context.Context, tenantID string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		var rule Rule
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &rule.Active, &rule.Default,
			&rule.MomentType, &rule.TimeValue, &rule.TimeUnit, &rule.Channel, &rule.Template, &rule.EmailSubject,
			&rule.FilterExpression, pq.Array(&rule.RequiredPayloadVariables), pq.Array(&rule.RequiredSystemVariables),
			&rule.WebhookToken, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now()

	query := `
		UPDATE rules
		SET name = $1, description = $2, active = $3,
			moment_type = $4, time_value = $5, time_unit = $6,
			channel = $7, template = $8, email_subject = $9,
			filter_expression = $10, required_payload_variables = $11,
			required_system_variables = $12, webhook_token = $13, updated_at = $14
		WHERE id = $15
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Description, rule.Active,
		rule.MomentType, rule.TimeValue, rule.TimeUnit,
		rule.Channel, rule.Template, rule.EmailSubject,
		rule.FilterExpression, pq.Array(rule.RequiredPayloadVariables),
		pq.Array(rule.RequiredSystemVariables), rule.WebhookToken, rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("id", rule.ID)
	}

	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}

	return nil
}
