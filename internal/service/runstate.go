package service

import (
	"context"
	"sync"
	"time"

	"repay/internal/domain"
)

// RunState keeps what a run needs across pages and, for persistent
// implementations, across runs: the single-run lock, the backlog cursor and
// the daily processed counter. Days are keyed as YYYY-MM-DD.
type RunState interface {
	AcquireLock(ctx context.Context) (bool, error)
	ReleaseLock(ctx context.Context) error
	LoadCursor(ctx context.Context) (domain.Cursor, error)
	SaveCursor(ctx context.Context, cursor domain.Cursor) error
	ResetCursor(ctx context.Context) error
	ProcessedOn(ctx context.Context, day string) (int, error)
	IncrProcessed(ctx context.Context, day string) (int, error)
}

// Day returns the run-state day key of t in loc.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// LocalRunState is an in-process RunState. Nothing survives the process, so
// every run starts from the beginning of the backlog.
type LocalRunState struct {
	mu        sync.Mutex
	locked    bool
	cursor    domain.Cursor
	processed map[string]int
}

// NewLocalRunState creates a new LocalRunState.
func NewLocalRunState() *LocalRunState {
	return &LocalRunState{processed: make(map[string]int)}
}

func (s *LocalRunState) AcquireLock(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return false, nil
	}
	s.locked = true
	return true, nil
}

func (s *LocalRunState) ReleaseLock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
	return nil
}

func (s *LocalRunState) LoadCursor(ctx context.Context) (domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *LocalRunState) SaveCursor(ctx context.Context, cursor domain.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}

func (s *LocalRunState) ResetCursor(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = domain.Cursor{}
	return nil
}

func (s *LocalRunState) ProcessedOn(ctx context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[day], nil
}

func (s *LocalRunState) IncrProcessed(ctx context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[day]++
	return s.processed[day], nil
}
