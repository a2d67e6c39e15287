package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "nudge/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByProviderID(ctx context.Context, providerID string) (*Record, error)
	ListByCharge(ctx context.Context, chargeID string) ([]Record, error)
	ListEvents(ctx context.Context, recordID string) ([]StatusEvent, error)

	// ApplyTransition locks the record row, hands it to apply, and persists
	// the mutated record together with the appended event in one
	// transaction. Two near-simultaneous callbacks for the same message
	// serialize on the row lock instead of losing an update.
	ApplyTransition(ctx context.Context, recordID string, apply func(record *Record) (*StatusEvent, error)) error
}

const recordColumns = `id, charge_id, rule_id, tenant_id, channel, recipient,
		rendered_message, rendered_subject, payload_snapshot,
		provider_message_id, provider_response, status,
		open_count, click_count, first_open_at, last_open_at,
		first_click_at, last_click_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, record *Record) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO delivery_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err = tx.ExecContext(ctx, query,
		record.ID, record.ChargeID, record.RuleID, record.TenantID,
		record.Channel, record.Recipient, record.RenderedMessage, record.RenderedSubject,
		record.PayloadSnapshot, record.ProviderID, record.ProviderResponse, record.Status,
		record.OpenCount, record.ClickCount, record.FirstOpen, record.LastOpen,
		record.FirstClick, record.LastClick, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}

	// The creation itself is the first timeline entry.
	event := &StatusEvent{
		RecordID:   record.ID,
		FromStatus: StatusPending,
		ToStatus:   record.Status,
		OccurredAt: now,
		Detail:     "record created",
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records WHERE id = $1`
	return scanRecord(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByProviderID(ctx context.Context, providerID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records WHERE provider_message_id = $1`
	return scanRecord(r.db.QueryRowContext(ctx, query, providerID))
}

func (r *PostgresRepository) ListByCharge(ctx context.Context, chargeID string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records WHERE charge_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, chargeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecordFromRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

func (r *PostgresRepository) ListEvents(ctx context.Context, recordID string) ([]StatusEvent, error) {
	query := `
		SELECT id, record_id, from_status, to_status, occurred_at, detail, ip, user_agent, created_at
		FROM delivery_status_events
		WHERE record_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status events: %w", err)
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var e StatusEvent
		if err := rows.Scan(
			&e.ID, &e.RecordID, &e.FromStatus, &e.ToStatus,
			&e.OccurredAt, &e.Detail, &e.IP, &e.UserAgent, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *PostgresRepository) ApplyTransition(ctx context.Context, recordID string, apply func(record *Record) (*StatusEvent, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + recordColumns + ` FROM delivery_records WHERE id = $1 FOR UPDATE`
	record, err := scanRecord(tx.QueryRowContext(ctx, query, recordID))
	if err != nil {
		return err
	}

	event, err := apply(record)
	if err != nil {
		return err
	}

	record.UpdatedAt = time.Now()
	updateQuery := `
		UPDATE delivery_records
		SET status = $1, open_count = $2, click_count = $3,
			first_open_at = $4, last_open_at = $5,
			first_click_at = $6, last_click_at = $7, updated_at = $8
		WHERE id = $9
	`
	if _, err := tx.ExecContext(ctx, updateQuery,
		record.Status, record.OpenCount, record.ClickCount,
		record.FirstOpen, record.LastOpen,
		record.FirstClick, record.LastClick, record.UpdatedAt,
		record.ID,
	); err != nil {
		return fmt.Errorf("failed to update delivery record: %w", err)
	}

	if event != nil {
		event.RecordID = record.ID
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *StatusEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = time.Now()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = event.CreatedAt
	}

	query := `
		INSERT INTO delivery_status_events (id, record_id, from_status, to_status, occurred_at, detail, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(ctx, query,
		event.ID, event.RecordID, event.FromStatus, event.ToStatus,
		event.OccurredAt, event.Detail, event.IP, event.UserAgent, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert status event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row *sql.Row) (*Record, error) {
	record, err := scanRecordFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound.WithCause(err)
		}
		return nil, err
	}
	return record, nil
}

func scanRecordFromRows(rows *sql.Rows) (*Record, error) {
	record, err := scanRecordFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery record: %w", err)
	}
	return record, nil
}

func scanRecordFrom(scanner rowScanner) (*Record, error) {
	var r Record
	err := scanner.Scan(
		&r.ID, &r.ChargeID, &r.RuleID, &r.TenantID,
		&r.Channel, &r.Recipient, &r.RenderedMessage, &r.RenderedSubject,
		&r.PayloadSnapshot, &r.ProviderID, &r.ProviderResponse, &r.Status,
		&r.OpenCount, &r.ClickCount, &r.FirstOpen, &r.LastOpen,
		&r.FirstClick, &r.LastClick, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
