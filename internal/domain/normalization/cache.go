package normalization

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const tableKeyPrefix = "psyclinic:norms:table:" // psyclinic:norms:table:{id}

// CachedTableRepository is a read-through Redis cache in front of another
// TableRepository. Cache failures are logged and fall through to the inner
// repository.
type CachedTableRepository struct {
	inner  TableRepository
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedTableRepository(inner TableRepository, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedTableRepository {
	return &CachedTableRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "norm_cache").Logger(),
	}
}

func (r *CachedTableRepository) key(id uuid.UUID) string {
	return tableKeyPrefix + id.String()
}

func (r *CachedTableRepository) Create(ctx context.Context, t *NormativeTable) error {
	if err := r.inner.Create(ctx, t); err != nil {
		return err
	}
	r.store(ctx, t)
	return nil
}

func (r *CachedTableRepository) GetByID(ctx context.Context, id uuid.UUID) (*NormativeTable, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	switch {
	case err == nil:
		var t NormativeTable
		if jerr := json.Unmarshal(data, &t); jerr == nil {
			return &t, nil
		}
		r.logger.Warn().Str("table_id", id.String()).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		r.logger.Warn().Err(err).Str("table_id", id.String()).Msg("norm cache read failed")
	}

	t, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, t)
	return t, nil
}

func (r *CachedTableRepository) List(ctx context.Context, instrumentCode string, limit, offset int) ([]*NormativeTable, int, error) {
	return r.inner.List(ctx, instrumentCode, limit, offset)
}

func (r *CachedTableRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.inner.Delete(ctx, id); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("table_id", id.String()).Msg("norm cache invalidation failed")
	}
	return nil
}

func (r *CachedTableRepository) store(ctx context.Context, t *NormativeTable) {
	data, err := json.Marshal(t)
	if err != nil {
		r.logger.Warn().Err(err).Msg("norm cache encode failed")
		return
	}
	if err := r.client.Set(ctx, r.key(t.ID), data, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("table_id", t.ID.String()).Msg("norm cache write failed")
	}
}
