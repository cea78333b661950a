package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"repay/internal/domain"
	"repay/internal/repository"
)

// StopReason tells why a run ended.
type StopReason string

const (
	StopExhausted StopReason = "exhausted" // Backlog fully walked, cursor reset
	StopQuota     StopReason = "quota"     // Daily quota reached, cursor kept
	StopCancelled StopReason = "cancelled"
	StopFatal     StopReason = "fatal"
)

// Run defaults.
const (
	DefaultDailyQuota = 100
	DefaultPageSize   = 100
)

// RunOptions contains the run driver configuration.
type RunOptions struct {
	DailyQuota int
	PageSize   int
	Cutoff     time.Time // Rides that ended at or before it are ignored
	OwnerID    string    // Restricts the backlog to one user outside production
	Location   *time.Location
	Now        func() time.Time
}

// RunSummary aggregates one run.
type RunSummary struct {
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Users          int           `json:"users"`
	Duplicates     int           `json:"duplicates"`
	Escalated      int           `json:"escalated"`
	Paid           int           `json:"paid"`
	Notified       int           `json:"notified"`
	Ambiguous      int           `json:"ambiguous"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Invalid        int           `json:"invalid"`
	Processed      int           `json:"processed"`
	ProcessedToday int           `json:"processed_today"`
	AmbiguousRides []string      `json:"ambiguous_rides,omitempty"`
	Stop           StopReason    `json:"stop"`
	Cursor         domain.Cursor `json:"cursor"`
}

// String renders the summary as one line for the operations channel.
func (s *RunSummary) String() string {
	line := fmt.Sprintf(
		"[repay] users=%d escalated=%d paid=%d notified=%d ambiguous=%d skipped=%d failed=%d invalid=%d processed_today=%d stop=%s",
		s.Users, s.Escalated, s.Paid, s.Notified, s.Ambiguous, s.Skipped, s.Failed, s.Invalid, s.ProcessedToday, s.Stop,
	)
	if len(s.AmbiguousRides) > 0 {
		line += fmt.Sprintf(" check=%v", s.AmbiguousRides)
	}
	return line
}

// Runner walks the unpaid-ride backlog page by page and hands each distinct
// owner to the escalation engine until the backlog is exhausted or the daily
// quota is reached.
type Runner struct {
	rides    repository.RideRepository
	users    repository.UserRepository
	engine   *EscalationEngine
	notifier *NotificationService
	state    RunState
	nrApp    *newrelic.Application
	opts     RunOptions
	log      *zap.Logger
}

// NewRunner creates a new Runner. nrApp may be nil.
func NewRunner(
	rides repository.RideRepository,
	users repository.UserRepository,
	engine *EscalationEngine,
	notifier *NotificationService,
	state RunState,
	nrApp *newrelic.Application,
	opts RunOptions,
	log *zap.Logger,
) *Runner {
	if opts.DailyQuota <= 0 {
		opts.DailyQuota = DefaultDailyQuota
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		rides:    rides,
		users:    users,
		engine:   engine,
		notifier: notifier,
		state:    state,
		nrApp:    nrApp,
		opts:     opts,
		log:      log,
	}
}

// Run performs one batch. Terminal conditions (exhausted backlog, quota)
// end the run without error; only a missing fee schedule, a failing backlog
// query or run-state failure abort it.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	acquired, err := r.state.AcquireLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := r.state.ReleaseLock(context.WithoutCancel(ctx)); err != nil {
			r.log.Error("failed to release run lock", zap.Error(err))
		}
	}()

	txn := r.nrApp.StartTransaction("repay-run")
	defer txn.End()
	ctx = newrelic.NewContext(ctx, txn)

	now := r.opts.Now()
	day := Day(now, r.opts.Location)
	summary := &RunSummary{StartedAt: now}

	processed, err := r.state.ProcessedOn(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load processed count: %w", err)
	}
	cursor, err := r.state.LoadCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}

	r.log.Info("repayment run started",
		zap.String("day", day),
		zap.Int("processed_today", processed),
		zap.Int("quota", r.opts.DailyQuota),
		zap.Time("cursor_ended_at", cursor.EndedAt),
		zap.String("cursor_ride_id", cursor.RideID),
	)

	seen := make(map[string]bool)
	runErr := func() error {
		for {
			if processed >= r.opts.DailyQuota {
				summary.Stop = StopQuota
				return nil
			}
			if ctx.Err() != nil {
				summary.Stop = StopCancelled
				return ctx.Err()
			}

			page, err := r.rides.FindUnpaid(ctx, repository.UnpaidQuery{
				After:   r.opts.Cutoff,
				Cursor:  cursor,
				OwnerID: r.opts.OwnerID,
				Limit:   r.opts.PageSize,
			})
			if err != nil {
				summary.Stop = StopFatal
				return fmt.Errorf("find unpaid rides: %w", err)
			}
			if page.Empty() {
				summary.Stop = StopExhausted
				cursor = domain.Cursor{}
				if err := r.state.ResetCursor(ctx); err != nil {
					r.log.Error("failed to reset cursor", zap.Error(err))
				}
				return nil
			}

			for _, bad := range page.Invalid {
				r.log.Warn("malformed ride record, skipping",
					zap.String("ride_id", bad.Position.RideID),
					zap.Error(bad.Err),
				)
				summary.Invalid++
			}

			pageOwners := make(map[string]bool, len(page.Rides))
			for _, ride := range page.Rides {
				if processed >= r.opts.DailyQuota {
					summary.Stop = StopQuota
					return nil
				}
				if ctx.Err() != nil {
					summary.Stop = StopCancelled
					return ctx.Err()
				}

				previous := cursor
				cursor = ride.Position()

				switch {
				case pageOwners[ride.UserID]:
					r.log.Info("duplicate owner in page, skipping ride",
						zap.String("user_id", ride.UserID), zap.String("ride_id", ride.ID))
					summary.Duplicates++
				case seen[ride.UserID]:
					r.log.Info("owner already handled in this run, skipping ride",
						zap.String("user_id", ride.UserID), zap.String("ride_id", ride.ID))
					summary.Duplicates++
				default:
					pageOwners[ride.UserID] = true
					seen[ride.UserID] = true

					counted, err := r.handleUser(ctx, ride.UserID, summary)
					if errors.Is(err, ErrNoFeeSchedule) {
						summary.Stop = StopFatal
						cursor = previous
						return err
					}
					if counted {
						processed = r.incrProcessed(ctx, day, processed)
						summary.Processed++
					}
				}

				if err := r.state.SaveCursor(ctx, cursor); err != nil {
					r.log.Error("failed to save cursor", zap.Error(err))
				}
			}

			// Malformed rows at the end of the page are passed too.
			if next := page.Next(cursor); next.After(cursor) {
				cursor = next
				if err := r.state.SaveCursor(ctx, cursor); err != nil {
					r.log.Error("failed to save cursor", zap.Error(err))
				}
			}
		}
	}()

	summary.Cursor = cursor
	summary.ProcessedToday = processed
	summary.FinishedAt = r.opts.Now()

	r.log.Info("repayment run finished",
		zap.String("stop", string(summary.Stop)),
		zap.Int("users", summary.Users),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("escalated", summary.Escalated),
		zap.Int("paid", summary.Paid),
		zap.Int("notified", summary.Notified),
		zap.Int("ambiguous", summary.Ambiguous),
		zap.Strings("ambiguous_rides", summary.AmbiguousRides),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("invalid", summary.Invalid),
		zap.Int("processed_today", summary.ProcessedToday),
	)

	if err := r.notifier.PostSummary(context.WithoutCancel(ctx), summary.String()); err != nil {
		r.log.Error("failed to post run summary", zap.Error(err))
	}

	if runErr != nil {
		txn.NoticeError(runErr)
		return summary, runErr
	}
	return summary, nil
}

// handleUser resolves and processes one owner, updating the summary. Errors
// other than ErrNoFeeSchedule are logged and swallowed. It reports whether
// the daily quota was consumed.
func (r *Runner) handleUser(ctx context.Context, userID string, summary *RunSummary) (bool, error) {
	summary.Users++

	res, err := r.processUser(ctx, userID)
	if res != nil {
		if res.Escalated {
			summary.Escalated++
		}
		switch res.Outcome {
		case OutcomePaid:
			summary.Paid++
		case OutcomeNotified:
			summary.Notified++
		case OutcomeAmbiguous:
			summary.Ambiguous++
			summary.AmbiguousRides = append(summary.AmbiguousRides, res.RideID)
		default:
			if err == nil {
				summary.Skipped++
			}
		}
	}

	counted := res != nil && res.Counted()

	switch {
	case err == nil:
		return counted, nil
	case errors.Is(err, repository.ErrNotFound) && res == nil:
		r.log.Warn("user not found, skipping", zap.String("user_id", userID))
		summary.Skipped++
		return false, nil
	case errors.Is(err, ErrNoFeeSchedule):
		summary.Failed++
		r.log.Error("fee schedule missing, aborting run", zap.String("user_id", userID), zap.Error(err))
		return counted, err
	default:
		summary.Failed++
		newrelic.FromContext(ctx).NoticeError(err)
		r.log.Error("failed to process user",
			zap.String("user_id", userID),
			zap.Error(err),
			zap.Stack("stack"),
		)
		return counted, nil
	}
}

// processUser is the per-user failure boundary: a panic is turned into an
// error after logging its stack.
func (r *Runner) processUser(ctx context.Context, userID string) (res *UserResult, err error) {
	segment := newrelic.FromContext(ctx).StartSegment("repay-user")
	defer segment.End()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic while processing user",
				zap.String("user_id", userID),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.engine.ProcessUser(ctx, user)
}

func (r *Runner) incrProcessed(ctx context.Context, day string, current int) int {
	n, err := r.state.IncrProcessed(ctx, day)
	if err != nil {
		r.log.Error("failed to record processed ride", zap.Error(err))
		return current + 1
	}
	return n
}
