package rule

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"nudge/internal/constants"
	"nudge/internal/logger"
)

// CachedRepository decorates a Repository with a short-lived Redis cache on
// reads by ID. The dispatcher resolves the owning rule for every due charge,
// so a sweep over a large batch would otherwise hit postgres once per charge.
// Cache failures fall through to the underlying repository.
type CachedRepository struct {
	Repository

	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewCachedRepository(repo Repository, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = constants.DefaultRuleCacheTTL
	}
	return &CachedRepository{
		Repository: repo,
		client:     client,
		ttl:        ttl,
		log:        log,
	}
}

func (r *CachedRepository) Get(ctx context.Context, id string) (*Rule, error) {
	key := constants.RuleCachePrefix + id

	val, err := r.client.Get(ctx, key).Result()
	if err == nil {
		var rule Rule
		if unmarshalErr := json.Unmarshal([]byte(val), &rule); unmarshalErr == nil {
			return &rule, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.log.WarnwCtx(ctx, "Rule cache read failed", "error", err, "rule_id", id)
	}

	rule, err := r.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if encoded, marshalErr := json.Marshal(rule); marshalErr == nil {
		if setErr := r.client.Set(ctx, key, encoded, r.ttl).Err(); setErr != nil {
			r.log.WarnwCtx(ctx, "Rule cache write failed", "error", setErr, "rule_id", id)
		}
	}

	return rule, nil
}

func (r *CachedRepository) Update(ctx context.Context, rule *Rule) error {
	if err := r.Repository.Update(ctx, rule); err != nil {
		return err
	}
	r.invalidate(ctx, rule.ID)
	return nil
}

func (r *CachedRepository) Delete(ctx context.Context, id string) error {
	if err := r.Repository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedRepository) invalidate(ctx context.Context, id string) {
	if err := r.client.Del(ctx, constants.RuleCachePrefix+id).Err(); err != nil {
		r.log.WarnwCtx(ctx, "Rule cache invalidation failed", "error", err, "rule_id", id)
	}
}
