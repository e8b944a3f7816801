// Package sweep finds due reminders, dispatches them and applies the
// post-dispatch lifecycle: event and task messages are deleted, todo
// messages come back after the reschedule period with the same id.
//
// A sweep is a single on-demand pass. Whatever triggers it (cron, the
// HTTP surface) decides the cadence, which should not be longer than the
// lookahead window or messages will age out before they are selected.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reminders/internal/domain"
	"reminders/internal/metrics"
	"reminders/internal/notify"
	"reminders/internal/render"
	"reminders/internal/store"
	"reminders/internal/worker"
)

const (
	DefaultWindow     = 35 * time.Minute
	DefaultReschedule = 72 * time.Hour
)

type Config struct {
	Window      time.Duration
	Reschedule  time.Duration
	Placeholder string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Reschedule <= 0 {
		c.Reschedule = DefaultReschedule
	}
	if c.Placeholder == "" {
		c.Placeholder = render.DefaultPlaceholder
	}
	return c
}

// Report describes one sweep. Dispatched counts hand-offs to the pool, not
// confirmed deliveries.
type Report struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Due         int       `json:"due"`
	Dispatched  int       `json:"dispatched"`
	Retired     int       `json:"retired"`
	Rescheduled int       `json:"rescheduled"`
}

type Engine struct {
	store store.Store
	sink  notify.Sink
	pool  *worker.Pool
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

type Option func(*Engine)

// WithClock overrides the wall clock used to pick the window start.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st store.Store, sink notify.Sink, pool *worker.Pool, cfg Config, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		sink:  sink,
		pool:  pool,
		cfg:   cfg.withDefaults(),
		log:   log.With().Str("component", "sweep").Logger(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Sweep runs one pass:
//
//  1. select messages scheduled in [T0, T0+window]
//  2. hand each rendered text to the sink without waiting for delivery
//  3. delete non-todo messages scheduled at or before T0+window
//  4. move todo messages from the window to T0+reschedule
//
// A failed select aborts before anything is touched. A failed delete or
// update is returned as is; earlier steps are not rolled back. Delivery
// failures are logged and never returned.
func (e *Engine) Sweep(ctx context.Context) (Report, error) {
	t0 := e.now().UTC()
	t1 := t0.Add(e.cfg.Window)
	rep := Report{Start: t0, End: t1}

	started := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	due, err := e.store.FindInWindow(ctx, t0, t1)
	if err != nil {
		return e.fail(rep, fmt.Errorf("select due messages: %w", err))
	}
	rep.Due = len(due)

	for _, m := range due {
		e.dispatch(m, render.Render(m.Text, e.cfg.Placeholder, t0, m.ScheduledTime))
		rep.Dispatched++
	}

	rep.Retired, err = e.store.DeleteWhere(ctx, store.Filter{
		To:           &t1,
		ExcludeTypes: []domain.Type{domain.TypeTodo},
	})
	if err != nil {
		return e.fail(rep, fmt.Errorf("retire messages: %w", err))
	}
	metrics.MessagesRetired.Add(float64(rep.Retired))

	next := t0.Add(e.cfg.Reschedule)
	rep.Rescheduled, err = e.store.UpdateWhere(ctx, store.Filter{
		From:  &t0,
		To:    &t1,
		Types: []domain.Type{domain.TypeTodo},
	}, store.Patch{ScheduledTime: &next})
	if err != nil {
		return e.fail(rep, fmt.Errorf("reschedule todos: %w", err))
	}
	metrics.MessagesRescheduled.Add(float64(rep.Rescheduled))

	metrics.SweepsTotal.WithLabelValues("ok").Inc()
	e.log.Info().
		Time("window_start", t0).
		Time("window_end", t1).
		Int("due", rep.Due).
		Int("retired", rep.Retired).
		Int("rescheduled", rep.Rescheduled).
		Msg("sweep completed")
	return rep, nil
}

func (e *Engine) fail(rep Report, err error) (Report, error) {
	metrics.SweepsTotal.WithLabelValues("error").Inc()
	e.log.Error().Err(err).Int("due", rep.Due).Int("retired", rep.Retired).Msg("sweep aborted")
	return rep, err
}

// dispatch hands text to the sink on the pool. The sweep does not wait for
// it, so store writes may land before delivery.
func (e *Engine) dispatch(m domain.Message, text string) {
	e.pool.Submit(func(ctx context.Context) error {
		return e.sink.Send(ctx, text)
	}, func(err error) {
		if err == nil {
			metrics.DispatchesTotal.WithLabelValues("ok").Inc()
			e.log.Debug().Str("message_id", m.ID).Msg("message dispatched")
			return
		}
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		serr := &notify.SinkError{MessageID: m.ID, Err: err}
		ev := e.log.Error()
		if errors.Is(err, context.Canceled) {
			ev = e.log.Warn()
		}
		ev.Err(serr).Str("message_id", m.ID).Str("type", string(m.Type)).Msg("dispatch failed")
	})
}
