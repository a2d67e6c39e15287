package charge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"nudge/internal/constants"
	pkgerrors "nudge/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, charge *Charge) error
	Get(ctx context.Context, id string) (*Charge, error)
	List(ctx context.Context, filter ListFilter) ([]Charge, error)
	Update(ctx context.Context, charge *Charge) error

	// ListDue returns pending charges whose dispatch time has passed,
	// oldest first, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Charge, error)

	// Claim atomically leases a due charge for one dispatch attempt.
	// It returns false when another worker holds the lease or the charge
	// is no longer due.
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)

	// Cancel atomically cancels a charge unless it already reached a
	// terminal state. It reports whether the row changed.
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)

	// Rearm atomically moves a failed charge below the attempt cap back
	// to pending. It reports whether the row changed.
	Rearm(ctx context.Context, id string, now time.Time) (bool, error)

	// CountDue reports how many charges are currently dispatchable.
	CountDue(ctx context.Context, now time.Time) (int, error)
}

const chargeColumns = `id, rule_id, tenant_id, payload, due_at, dispatch_at,
		status, attempt_count, processed_at, last_error, source, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, charge *Charge) error {
	if charge.ID == "" {
		charge.ID = uuid.New().String()
	}
	now := time.Now()
	charge.CreatedAt = now
	charge.UpdatedAt = now

	query := `
		INSERT INTO charges (` + chargeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		charge.ID, charge.RuleID, charge.TenantID, charge.Payload,
		charge.DueAt, charge.DispatchAt, charge.Status, charge.AttemptCount,
		charge.ProcessedAt, charge.LastError, charge.Source,
		charge.CreatedAt, charge.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create charge: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE id = $1`

	var c Charge
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.RuleID, &c.TenantID, &c.Payload,
		&c.DueAt, &c.DispatchAt, &c.Status, &c.AttemptCount,
		&c.ProcessedAt, &c.LastError, &c.Source,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get charge: %w", err)
	}

	return &c, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Charge, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, clause+"$"+strconv.Itoa(len(args)))
	}

	if filter.TenantID != "" {
		addCondition("tenant_id = ", filter.TenantID)
	}
	if filter.RuleID != "" {
		addCondition("rule_id = ", filter.RuleID)
	}
	if filter.Status != "" {
		addCondition("status = ", filter.Status)
	}

	query := `SELECT ` + chargeColumns + ` FROM charges`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	args = append(args, limit)
	query += " LIMIT $" + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list charges: %w", err)
	}
	defer rows.Close()

	return scanCharges(ctx, rows)
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]Charge, error) {
	query := `
		SELECT ` + chargeColumns + `
		FROM charges
		WHERE status = $1 AND dispatch_at <= $2 AND attempt_count < $3
		ORDER BY dispatch_at ASC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, StatusPending, now, constants.MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due charges: %w", err)
	}
	defer rows.Close()

	return scanCharges(ctx, rows)
}

func (r *PostgresRepository) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	// The status-conditioned update is the claim: a cancelled or already
	// processed charge fails the WHERE clause and is simply not claimed.
	query := `
		UPDATE charges
		SET claim_expires_at = $1, updated_at = $2
		WHERE id = $3
		  AND status = $4
		  AND dispatch_at <= $2
		  AND attempt_count < $5
		  AND (claim_expires_at IS NULL OR claim_expires_at < $2)
	`

	res, err := r.db.ExecContext(ctx, query, now.Add(lease), now, id, StatusPending, constants.MaxAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to claim charge: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *PostgresRepository) Update(ctx context.Context, charge *Charge) error {
	charge.UpdatedAt = time.Now()

	query := `
		UPDATE charges
		SET status = $1, attempt_count = $2, processed_at = $3,
			last_error = $4, claim_expires_at = NULL, updated_at = $5
		WHERE id = $6
	`

	res, err := r.db.ExecContext(ctx, query,
		charge.Status, charge.AttemptCount, charge.ProcessedAt,
		charge.LastError, charge.UpdatedAt, charge.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update charge: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("id", charge.ID)
	}

	return nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	// Status-conditioned like Claim: a row the dispatcher processed in the
	// meantime fails the WHERE clause instead of being overwritten.
	query := `
		UPDATE charges
		SET status = $1, claim_expires_at = NULL, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`

	res, err := r.db.ExecContext(ctx, query, StatusCancelled, now, id, StatusPending, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to cancel charge: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *PostgresRepository) Rearm(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE charges
		SET status = $1, claim_expires_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4 AND attempt_count < $5
	`

	res, err := r.db.ExecContext(ctx, query, StatusPending, now, id, StatusFailed, constants.MaxAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to rearm charge: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *PostgresRepository) CountDue(ctx context.Context, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM charges
		WHERE status = $1 AND dispatch_at <= $2 AND attempt_count < $3
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, StatusPending, now, constants.MaxAttempts).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due charges: %w", err)
	}
	return count, nil
}

func scanCharges(ctx context.Context, rows *sql.Rows) ([]Charge, error) {
	var charges []Charge
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		var c Charge
		if err := rows.Scan(
			&c.ID, &c.RuleID, &c.TenantID, &c.Payload,
			&c.DueAt, &c.DispatchAt, &c.Status, &c.AttemptCount,
			&c.ProcessedAt, &c.LastError, &c.Source,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		charges = append(charges, c)
	}

	return charges, rows.Err()
}
