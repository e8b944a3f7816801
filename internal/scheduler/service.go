package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"reminders/internal/sweep"
)

type Sweeper interface {
	Sweep(ctx context.Context) (sweep.Report, error)
}

// Service triggers a sweep on a cron schedule. Runs never overlap: a tick
// that fires while the previous sweep is still running is skipped.
type Service struct {
	sweeper Sweeper
	cron    *cron.Cron
	expr    string
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewService validates expr and registers the sweep job. timeout bounds a
// single sweep; <= 0 means no bound.
func NewService(sweeper Sweeper, expr string, timeout time.Duration, log zerolog.Logger) (*Service, error) {
	s := &Service{
		sweeper: sweeper,
		cron:    cron.New(),
		expr:    expr,
		timeout: timeout,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(expr, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

func (s *Service) Start() {
	s.cron.Start()
	s.log.Info().Str("cron", s.expr).Msg("sweep scheduler started")
}

// Stop halts future ticks and returns a context done when a running sweep finishes.
func (s *Service) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Service) runOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("previous sweep still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled sweep failed")
	}
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}

// MaxInterval returns the longest gap between consecutive runs of expr over
// the day following from.
func MaxInterval(expr string, from time.Time) (time.Duration, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return 0, err
	}
	var longest time.Duration
	prev := sched.Next(from)
	limit := from.Add(24 * time.Hour)
	for i := 0; i < 2000 && prev.Before(limit); i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		if d := next.Sub(prev); d > longest {
			longest = d
		}
		prev = next
	}
	return longest, nil
}

// CheckCadence returns an error when expr can leave a gap longer than
// window, in which case messages would age out of the window unsent.
func CheckCadence(expr string, window time.Duration, from time.Time) error {
	gap, err := MaxInterval(expr, from)
	if err != nil {
		return err
	}
	if gap > window {
		return fmt.Errorf("cron %q can wait %s between sweeps, longer than the %s lookahead window", expr, gap, window)
	}
	return nil
}
