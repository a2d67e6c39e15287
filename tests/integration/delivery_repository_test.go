package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/charge"
	"nudge/internal/delivery"
	"nudge/internal/rule"
	pkgerrors "nudge/pkg/errors"
)

func setupDeliveryFixtures(t *testing.T, infra *TestInfra) (*rule.Rule, *charge.Charge) {
	t.Helper()
	ctx := context.Background()

	r := createTestRule("tenant-1", "delivery-"+uuid.New().String()[:8])
	require.NoError(t, rule.NewRepository(infra.PostgresDB).Create(ctx, r))

	c := createTestCharge(r.ID, r.TenantID, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, charge.NewRepository(infra.PostgresDB).Create(ctx, c))

	return r, c
}

func TestDeliveryRepositoryCreateWritesTimeline(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := delivery.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r, c := setupDeliveryFixtures(t, infra)

	record := createTestDeliveryRecord(c.ID, r.ID, r.TenantID, "msg-abc-123")
	require.NoError(t, repo.Create(ctx, record))

	got, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusSent, got.Status)
	assert.Equal(t, "msg-abc-123", got.ProviderID)
	assert.Equal(t, "customer@example.com", got.Recipient)

	events, err := repo.ListEvents(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, delivery.StatusPending, events[0].FromStatus)
	assert.Equal(t, delivery.StatusSent, events[0].ToStatus)
}

func TestDeliveryRepositoryGetByProviderID(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := delivery.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r, c := setupDeliveryFixtures(t, infra)

	record := createTestDeliveryRecord(c.ID, r.ID, r.TenantID, "msg-by-provider")
	require.NoError(t, repo.Create(ctx, record))

	got, err := repo.GetByProviderID(ctx, "msg-by-provider")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = repo.GetByProviderID(ctx, "unknown-provider-id")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDeliveryRepositoryApplyTransition(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := delivery.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r, c := setupDeliveryFixtures(t, infra)

	record := createTestDeliveryRecord(c.ID, r.ID, r.TenantID, "msg-transition")
	require.NoError(t, repo.Create(ctx, record))

	occurred := time.Now().UTC().Truncate(time.Millisecond)
	err := repo.ApplyTransition(ctx, record.ID, func(rec *delivery.Record) (*delivery.StatusEvent, error) {
		event := &delivery.StatusEvent{
			ID:         uuid.New().String(),
			RecordID:   rec.ID,
			FromStatus: rec.Status,
			ToStatus:   delivery.StatusOpened,
			OccurredAt: occurred,
			Detail:     "opened",
			IP:         "203.0.113.9",
		}
		rec.Status = delivery.StatusOpened
		rec.OpenCount++
		rec.FirstOpen = &occurred
		rec.LastOpen = &occurred
		return event, nil
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusOpened, got.Status)
	assert.Equal(t, 1, got.OpenCount)
	require.NotNil(t, got.FirstOpen)

	events, err := repo.ListEvents(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, delivery.StatusSent, events[1].FromStatus)
	assert.Equal(t, delivery.StatusOpened, events[1].ToStatus)
	assert.Equal(t, "203.0.113.9", events[1].IP)
}

func TestDeliveryRepositoryApplyTransitionWithoutEvent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := delivery.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r, c := setupDeliveryFixtures(t, infra)

	record := createTestDeliveryRecord(c.ID, r.ID, r.TenantID, "msg-no-event")
	require.NoError(t, repo.Create(ctx, record))

	// A nil event means nothing to append; the record update still sticks.
	err := repo.ApplyTransition(ctx, record.ID, func(rec *delivery.Record) (*delivery.StatusEvent, error) {
		return nil, nil
	})
	require.NoError(t, err)

	events, err := repo.ListEvents(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDeliveryRepositoryListByCharge(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := delivery.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r, c := setupDeliveryFixtures(t, infra)

	require.NoError(t, repo.Create(ctx, createTestDeliveryRecord(c.ID, r.ID, r.TenantID, "msg-1")))
	require.NoError(t, repo.Create(ctx, createTestDeliveryRecord(c.ID, r.ID, r.TenantID, "msg-2")))

	records, err := repo.ListByCharge(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestCallbackAuditRepository(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false, false)
	repo := delivery.NewAuditRepository(infra.MongoDB)
	ctx := context.Background()

	first := &delivery.CallbackAudit{
		Event:      "delivered",
		ProviderID: "msg-audit-1",
		RawBody:    `{"event":"delivered","message_id":"msg-audit-1"}`,
		SourceIP:   "203.0.113.9",
		ReceivedAt: time.Now().UTC().Add(-time.Minute),
	}
	second := &delivery.CallbackAudit{
		Event:      "opened",
		ProviderID: "msg-audit-1",
		RawBody:    `{"event":"opened","message_id":"msg-audit-1"}`,
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Log(ctx, first))
	require.NoError(t, repo.Log(ctx, second))
	require.NoError(t, repo.Log(ctx, &delivery.CallbackAudit{
		Event:      "delivered",
		ProviderID: "msg-other",
		RawBody:    `{}`,
		ReceivedAt: time.Now().UTC(),
	}))

	audits, err := repo.ListByProviderID(ctx, "msg-audit-1", 10)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "opened", audits[0].Event, "most recent first")
	assert.Equal(t, "delivered", audits[1].Event)
	assert.Contains(t, audits[1].RawBody, `"message_id":"msg-audit-1"`)
}
