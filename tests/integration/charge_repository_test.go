package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/charge"
	"nudge/internal/rule"
	pkgerrors "nudge/pkg/errors"
)

func TestChargeRepositoryRoundTrip(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	ruleRepo := rule.NewRepository(infra.PostgresDB)
	repo := charge.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r := createTestRule("tenant-1", "round-trip")
	require.NoError(t, ruleRepo.Create(ctx, r))

	created := createTestCharge(r.ID, r.TenantID, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, created))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.ProcessedAt)

	// JSONB normalizes the payload text, so compare decoded values.
	var want, have map[string]interface{}
	require.NoError(t, json.Unmarshal(created.Payload, &want))
	require.NoError(t, json.Unmarshal(got.Payload, &have))
	assert.Equal(t, want, have)

	_, err = repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestChargeRepositoryListDue(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	ruleRepo := rule.NewRepository(infra.PostgresDB)
	repo := charge.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r := createTestRule("tenant-1", "list-due")
	require.NoError(t, ruleRepo.Create(ctx, r))

	now := time.Now().UTC()

	older := createTestCharge(r.ID, r.TenantID, now.Add(-2*time.Hour))
	newer := createTestCharge(r.ID, r.TenantID, now.Add(-time.Hour))
	future := createTestCharge(r.ID, r.TenantID, now.Add(time.Hour))
	exhausted := createTestCharge(r.ID, r.TenantID, now.Add(-3*time.Hour))
	exhausted.AttemptCount = 5
	cancelled := createTestCharge(r.ID, r.TenantID, now.Add(-3*time.Hour))
	cancelled.Status = charge.StatusCancelled

	for _, c := range []*charge.Charge{older, newer, future, exhausted, cancelled} {
		require.NoError(t, repo.Create(ctx, c))
	}

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, older.ID, due[0].ID, "oldest dispatch time first")
	assert.Equal(t, newer.ID, due[1].ID)

	limited, err := repo.ListDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)

	count, err := repo.CountDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChargeRepositoryClaim(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	ruleRepo := rule.NewRepository(infra.PostgresDB)
	repo := charge.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r := createTestRule("tenant-1", "claim")
	require.NoError(t, ruleRepo.Create(ctx, r))

	now := time.Now().UTC()
	c := createTestCharge(r.ID, r.TenantID, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, c))

	claimed, err := repo.Claim(ctx, c.ID, now, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second worker cannot claim while the lease is held.
	claimed, err = repo.Claim(ctx, c.ID, now, 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	// An expired lease is claimable again.
	claimed, err = repo.Claim(ctx, c.ID, now.Add(3*time.Minute), 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestChargeRepositoryClaimRespectsState(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	ruleRepo := rule.NewRepository(infra.PostgresDB)
	repo := charge.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r := createTestRule("tenant-1", "claim-state")
	require.NoError(t, ruleRepo.Create(ctx, r))

	now := time.Now().UTC()

	cancelled := createTestCharge(r.ID, r.TenantID, now.Add(-time.Minute))
	cancelled.Status = charge.StatusCancelled
	require.NoError(t, repo.Create(ctx, cancelled))

	claimed, err := repo.Claim(ctx, cancelled.ID, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	future := createTestCharge(r.ID, r.TenantID, now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, future))

	claimed, err = repo.Claim(ctx, future.ID, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestChargeRepositoryUpdateReleasesClaim(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	ruleRepo := rule.NewRepository(infra.PostgresDB)
	repo := charge.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r := createTestRule("tenant-1", "claim-release")
	require.NoError(t, ruleRepo.Create(ctx, r))

	now := time.Now().UTC()
	c := createTestCharge(r.ID, r.TenantID, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, c))

	claimed, err := repo.Claim(ctx, c.ID, now, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, c.MarkFailed("provider rejected"))
	require.NoError(t, repo.Update(ctx, c))

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "provider rejected", got.LastError)

	// Failed charges are not due, but after an explicit rearm the charge
	// is immediately claimable because the update released the lease.
	require.NoError(t, got.Rearm())
	require.NoError(t, repo.Update(ctx, got))

	claimed, err = repo.Claim(ctx, got.ID, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestChargeRepositoryConditionedTransitions(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	ruleRepo := rule.NewRepository(infra.PostgresDB)
	repo := charge.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	r := createTestRule("tenant-1", "conditioned")
	require.NoError(t, ruleRepo.Create(ctx, r))

	now := time.Now().UTC()

	// Cancel loses against a completed dispatch: the processed row stays
	// processed no matter how stale the operator's snapshot was.
	processed := createTestCharge(r.ID, r.TenantID, now.Add(-time.Minute))
	processed.Status = charge.StatusProcessed
	processed.ProcessedAt = &now
	require.NoError(t, repo.Create(ctx, processed))

	cancelled, err := repo.Cancel(ctx, processed.ID, now)
	require.NoError(t, err)
	assert.False(t, cancelled)

	got, err := repo.Get(ctx, processed.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusProcessed, got.Status)

	// Pending and failed charges cancel normally.
	pending := createTestCharge(r.ID, r.TenantID, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, pending))

	cancelled, err = repo.Cancel(ctx, pending.ID, now)
	require.NoError(t, err)
	assert.True(t, cancelled)

	got, err = repo.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusCancelled, got.Status)

	// Rearm only applies to failed charges below the attempt cap.
	failed := createTestCharge(r.ID, r.TenantID, now.Add(-time.Minute))
	failed.Status = charge.StatusFailed
	failed.AttemptCount = 2
	require.NoError(t, repo.Create(ctx, failed))

	rearmed, err := repo.Rearm(ctx, failed.ID, now)
	require.NoError(t, err)
	assert.True(t, rearmed)

	got, err = repo.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, got.Status)

	exhausted := createTestCharge(r.ID, r.TenantID, now.Add(-time.Minute))
	exhausted.Status = charge.StatusFailed
	exhausted.AttemptCount = 5
	require.NoError(t, repo.Create(ctx, exhausted))

	rearmed, err = repo.Rearm(ctx, exhausted.ID, now)
	require.NoError(t, err)
	assert.False(t, rearmed)

	rearmed, err = repo.Rearm(ctx, pending.ID, now)
	require.NoError(t, err)
	assert.False(t, rearmed, "only failed charges can be rearmed")
}

func TestChargeRepositoryListFilters(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	ruleRepo := rule.NewRepository(infra.PostgresDB)
	repo := charge.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	ruleA := createTestRule("tenant-1", "filter-a")
	ruleB := createTestRule("tenant-1", "filter-b")
	require.NoError(t, ruleRepo.Create(ctx, ruleA))
	require.NoError(t, ruleRepo.Create(ctx, ruleB))

	now := time.Now().UTC()
	failed := createTestCharge(ruleA.ID, "tenant-1", now)
	failed.Status = charge.StatusFailed
	require.NoError(t, repo.Create(ctx, failed))
	require.NoError(t, repo.Create(ctx, createTestCharge(ruleA.ID, "tenant-1", now)))
	require.NoError(t, repo.Create(ctx, createTestCharge(ruleB.ID, "tenant-1", now)))

	byRule, err := repo.List(ctx, charge.ListFilter{TenantID: "tenant-1", RuleID: ruleA.ID})
	require.NoError(t, err)
	assert.Len(t, byRule, 2)

	byStatus, err := repo.List(ctx, charge.ListFilter{TenantID: "tenant-1", Status: charge.StatusFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, failed.ID, byStatus[0].ID)
}
