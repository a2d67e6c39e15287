package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/rule"
	pkgerrors "nudge/pkg/errors"
)

func TestRuleRepositoryCRUD(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := rule.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	created := createTestRule("tenant-1", "three-days-before")
	require.NoError(t, repo.Create(ctx, created))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, rule.Before, got.MomentType)
	assert.Equal(t, 3, got.TimeValue)
	assert.Equal(t, rule.Days, got.TimeUnit)
	assert.Equal(t, []string{"Valor", "Data"}, got.RequiredPayloadVariables)
	assert.Equal(t, []string{"Email"}, got.RequiredSystemVariables)
	assert.True(t, got.Active)

	byToken, err := repo.GetByToken(ctx, created.WebhookToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byToken.ID)

	got.Description = "updated description"
	got.Active = false
	require.NoError(t, repo.Update(ctx, got))

	updated, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated description", updated.Description)
	assert.False(t, updated.Active)

	require.NoError(t, repo.Delete(ctx, created.ID))

	_, err = repo.Get(ctx, created.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRuleRepositoryListByTenant(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := rule.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, createTestRule("tenant-a", "rule-1")))
	require.NoError(t, repo.Create(ctx, createTestRule("tenant-a", "rule-2")))
	require.NoError(t, repo.Create(ctx, createTestRule("tenant-b", "rule-1")))

	rules, err := repo.List(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	for _, r := range rules {
		assert.Equal(t, "tenant-a", r.TenantID)
	}
}

func TestRuleRepositoryNameConflict(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false, false)
	repo := rule.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, createTestRule("tenant-1", "duplicate")))

	err := repo.Create(ctx, createTestRule("tenant-1", "duplicate"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	// Same name under another tenant is fine.
	require.NoError(t, repo.Create(ctx, createTestRule("tenant-2", "duplicate")))
}

func TestCachedRuleRepository(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, true, false)
	base := rule.NewRepository(infra.PostgresDB)
	cached := rule.NewCachedRepository(base, infra.RedisClient, 30*time.Second, createTestLogger())
	ctx := context.Background()

	created := createTestRule("tenant-1", "cached-rule")
	require.NoError(t, cached.Create(ctx, created))

	// Prime the cache.
	first, err := cached.Get(ctx, created.ID)
	require.NoError(t, err)

	// A change written behind the cache's back is not observed until the
	// entry expires or is invalidated.
	first.Description = "written directly"
	require.NoError(t, base.Update(ctx, first))

	stale, err := cached.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "written directly", stale.Description)

	// An update through the cache invalidates the entry.
	first.Description = "written through cache"
	require.NoError(t, cached.Update(ctx, first))

	fresh, err := cached.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "written through cache", fresh.Description)
}
