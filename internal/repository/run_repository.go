package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/osvaldoandrade/uicase/internal/metrics"
	"github.com/osvaldoandrade/uicase/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var ErrRunNotFound = errors.New("run not found")

type RunRepository interface {
	Save(ctx context.Context, rec domain.RunRecord) error
	Get(ctx context.Context, id string) (*domain.RunRecord, error)
	// List returns up to limit records, most recently finished first.
	List(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

type runRedisRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRunRepository(rdb *redis.Client, ttl time.Duration) RunRepository {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &runRedisRepo{rdb: rdb, ttl: ttl}
}

func (r *runRedisRepo) keyRun(id string) string { return fmt.Sprintf("uicase:runs:%s", id) }
func (r *runRedisRepo) keyIndex() string        { return "uicase:runs:idx" }
func (r *runRedisRepo) keyOutcomeIndex(ok bool) string {
	if ok {
		return metrics.KeyRunIndexPassed
	}
	return metrics.KeyRunIndexFailed
}

func (r *runRedisRepo) Save(ctx context.Context, rec domain.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record without id")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	score := float64(finished.UTC().Unix())
	cutoff := strconv.FormatInt(time.Now().Add(-r.ttl).UTC().Unix(), 10)

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.keyRun(rec.ID), b, r.ttl)
	pipe.ZAdd(ctx, r.keyIndex(), &redis.Z{Score: score, Member: rec.ID})
	pipe.ZAdd(ctx, r.keyOutcomeIndex(rec.OK), &redis.Z{Score: score, Member: rec.ID})
	// Trim index entries whose records the TTL has already dropped.
	pipe.ZRemRangeByScore(ctx, r.keyIndex(), "-inf", "("+cutoff)
	pipe.ZRemRangeByScore(ctx, r.keyOutcomeIndex(true), "-inf", "("+cutoff)
	pipe.ZRemRangeByScore(ctx, r.keyOutcomeIndex(false), "-inf", "("+cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save run: %w", err)
	}
	return nil
}

func (r *runRedisRepo) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	js, err := r.rdb.Get(ctx, r.keyRun(id)).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET run: %w", err)
	}
	var rec domain.RunRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &rec, nil
}

func (r *runRedisRepo) List(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := r.rdb.ZRevRange(ctx, r.keyIndex(), 0, int64(limit-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis ZREVRANGE runs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.RunRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.keyRun(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET runs: %w", err)
	}
	out := make([]domain.RunRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok || s == "" {
			// expired between ZREVRANGE and MGET
			continue
		}
		var rec domain.RunRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
