package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/redis"
)

// ChooseFunc receives the last chosen id (uuid.Nil when unset) and returns
// the next one. ok=false leaves the cursor untouched.
type ChooseFunc func(last uuid.UUID) (next uuid.UUID, ok bool)

// CursorStore advances round-robin cursors as one atomic read-modify-write.
type CursorStore interface {
	WithTx(tx *gorm.DB) CursorStore
	Advance(ctx context.Context, key string, choose ChooseFunc) (uuid.UUID, error)
	Last(ctx context.Context, key string) (uuid.UUID, error)
}

// DBCursorStore keeps cursors in routing_cursors. Advancing inside the
// decision transaction makes a rolled back attempt leave the cursor as it was.
type DBCursorStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDBCursorStore(db *gorm.DB, clk clock.Clock) *DBCursorStore {
	return &DBCursorStore{db: db, clock: clk}
}

func (s *DBCursorStore) WithTx(tx *gorm.DB) CursorStore {
	if tx == nil {
		return s
	}
	return &DBCursorStore{db: tx, clock: s.clock}
}

func (s *DBCursorStore) Advance(ctx context.Context, key string, choose ChooseFunc) (uuid.UUID, error) {
	var chosen uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		seed := models.RoutingCursor{CursorKey: key, LastChosenID: uuid.Nil, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("seed cursor %s: %w", key, err)
		}

		q := tx.Where("cursor_key = ?", key)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row models.RoutingCursor
		if err := q.First(&row).Error; err != nil {
			return fmt.Errorf("lock cursor %s: %w", key, err)
		}

		next, ok := choose(row.LastChosenID)
		if !ok {
			return ErrNoEligibleCandidate
		}
		if err := tx.Model(&models.RoutingCursor{}).
			Where("cursor_key = ?", key).
			Updates(map[string]any{"last_chosen_id": next, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("advance cursor %s: %w", key, err)
		}
		chosen = next
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return chosen, nil
}

func (s *DBCursorStore) Last(ctx context.Context, key string) (uuid.UUID, error) {
	var row models.RoutingCursor
	err := s.db.WithContext(ctx).Where("cursor_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return row.LastChosenID, nil
}

// RedisStore is the subset of the redis client the cursor backend needs.
type RedisStore interface {
	redis.LockStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CursorKey(pool string) string
	CursorLockKey(pool string) string
}

// RedisCursorStore keeps cursors in redis, guarded by a short SETNX lock.
// Redis writes are not part of the SQL transaction.
type RedisCursorStore struct {
	store       RedisStore
	lockTTL     time.Duration
	lockRetries int
	retryDelay  time.Duration
}

func NewRedisCursorStore(store RedisStore, lockTTL time.Duration) (*RedisCursorStore, error) {
	if store == nil {
		return nil, fmt.Errorf("redis store required")
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &RedisCursorStore{store: store, lockTTL: lockTTL, lockRetries: 5, retryDelay: 20 * time.Millisecond}, nil
}

func (s *RedisCursorStore) WithTx(*gorm.DB) CursorStore { return s }

func (s *RedisCursorStore) Advance(ctx context.Context, key string, choose ChooseFunc) (uuid.UUID, error) {
	var chosen uuid.UUID
	run := func(ctx context.Context) error {
		last, err := s.Last(ctx, key)
		if err != nil {
			return err
		}
		next, ok := choose(last)
		if !ok {
			return ErrNoEligibleCandidate
		}
		if err := s.store.Set(ctx, s.store.CursorKey(key), next.String(), 0); err != nil {
			return fmt.Errorf("advance cursor %s: %w", key, err)
		}
		chosen = next
		return nil
	}

	var err error
	for attempt := 0; attempt <= s.lockRetries; attempt++ {
		err = redis.WithLock(ctx, s.store, s.store.CursorLockKey(key), s.lockTTL, run)
		if !errors.Is(err, redis.ErrLockNotAcquired) {
			break
		}
		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
	if err != nil {
		return uuid.Nil, err
	}
	return chosen, nil
}

func (s *RedisCursorStore) Last(ctx context.Context, key string) (uuid.UUID, error) {
	raw, err := s.store.Get(ctx, s.store.CursorKey(key))
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("read cursor %s: %w", key, err)
	}
	last, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse cursor %s: %w", key, err)
	}
	return last, nil
}
