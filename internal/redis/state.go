package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"repay/internal/domain"
)

// Key layout and TTLs for the repayment run state.
const (
	runLockName   = "repay:run"
	cursorKey     = "repay:cursor"
	quotaPrefix   = "repay:quota:"
	CursorTTL     = 30 * 24 * time.Hour // Stale cursors restart the scan from the beginning.
	QuotaTTL      = 48 * time.Hour
	DefaultRunTTL = 2 * time.Hour
)

// RunStateStore persists the backlog cursor, the daily processed counter and
// the single-run lock, so consecutive scheduled runs resume where the last
// one stopped.
type RunStateStore struct {
	client  *redis.Client
	locks   *LockStore
	lockTTL time.Duration
	token   string
}

// NewRunStateStore creates a new RunStateStore. lockTTL bounds how long a
// crashed run can block the next one.
func NewRunStateStore(client *redis.Client, lockTTL time.Duration) *RunStateStore {
	if lockTTL <= 0 {
		lockTTL = DefaultRunTTL
	}
	return &RunStateStore{
		client:  client,
		locks:   NewLockStore(client),
		lockTTL: lockTTL,
	}
}

// AcquireLock takes the run lock. Returns false if another run holds it.
func (s *RunStateStore) AcquireLock(ctx context.Context) (bool, error) {
	token, err := s.locks.Acquire(ctx, runLockName, s.lockTTL)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}
	s.token = token
	return true, nil
}

// ReleaseLock frees the run lock taken by AcquireLock.
func (s *RunStateStore) ReleaseLock(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	err := s.locks.Release(ctx, runLockName, s.token)
	s.token = ""
	return err
}

// LoadCursor returns the persisted backlog position, or the zero cursor.
func (s *RunStateStore) LoadCursor(ctx context.Context) (domain.Cursor, error) {
	data, err := s.client.Get(ctx, cursorKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Cursor{}, nil
		}
		return domain.Cursor{}, err
	}

	var cursor domain.Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return domain.Cursor{}, err
	}
	return cursor, nil
}

// SaveCursor persists the backlog position.
func (s *RunStateStore) SaveCursor(ctx context.Context, cursor domain.Cursor) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cursorKey, data, CursorTTL).Err()
}

// ResetCursor drops the persisted position so the next run starts over.
func (s *RunStateStore) ResetCursor(ctx context.Context) error {
	return s.client.Del(ctx, cursorKey).Err()
}

// ProcessedOn returns how many rides were acted on during the given day.
func (s *RunStateStore) ProcessedOn(ctx context.Context, day string) (int, error) {
	n, err := s.client.Get(ctx, quotaPrefix+day).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// IncrProcessed bumps the counter of the given day and returns the new value.
func (s *RunStateStore) IncrProcessed(ctx context.Context, day string) (int, error) {
	key := quotaPrefix + day

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, QuotaTTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}
