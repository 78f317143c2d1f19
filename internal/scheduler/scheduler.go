// Package scheduler refreshes watched cases on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/user/casedesk/internal/state"
)

// ErrSkipped is returned by a handler that chose not to refresh this time,
// for example because sends on the case are still in flight.
var ErrSkipped = errors.New("refresh skipped")

// Handler refreshes one watched case.
type Handler func(ctx context.Context, w *state.Watch) error

// Scheduler evaluates cron expressions from the watch store and fires
// refreshes through a handler callback.
type Scheduler struct {
	store   *state.WatchStore
	handler Handler

	mu     sync.Mutex
	cron   *cron.Cron
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidSchedule reports whether spec parses as a watch schedule.
func ValidSchedule(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// New creates a new Scheduler backed by the given watch store. The handler
// is called each time a watch fires.
func New(store *state.WatchStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
	}
}

func newCron() *cron.Cron {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	// A slow refresh is never stacked on top of itself.
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Start loads watches from the store, registers the enabled ones as cron
// entries, and starts the cron ticker. It returns the number of entries.
func (s *Scheduler) Start(ctx context.Context) (int, error) {
	watches, err := s.store.List()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = newCron()

	n := 0
	for _, w := range watches {
		if w.Schedule == "" || !w.Enabled {
			continue
		}

		_, err := s.cron.AddFunc(w.Schedule, func() { s.fire(w) })
		if err != nil {
			slog.Error("invalid cron schedule", "watch", w.Name(), "schedule", w.Schedule, "error", err)
			continue
		}
		n++
		slog.Info("scheduled watch", "watch", w.Name(), "schedule", w.Schedule)
	}

	s.cron.Start()
	return n, nil
}

func (s *Scheduler) fire(w *state.Watch) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	err := s.handler(ctx, w)
	switch {
	case err == nil:
		slog.Debug("watch refreshed", "watch", w.Name())
	case errors.Is(err, ErrSkipped):
		slog.Debug("watch refresh skipped", "watch", w.Name(), "reason", err)
	default:
		slog.Warn("watch refresh failed", "watch", w.Name(), "error", err)
	}
}

// Reload stops the existing cron and starts again from the store.
func (s *Scheduler) Reload() (int, error) {
	s.mu.Lock()
	parent := s.parent
	s.mu.Unlock()
	s.Stop()
	if parent == nil {
		parent = context.Background()
	}
	return s.Start(parent)
}

// Stop stops the cron ticker and waits for running refreshes to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	if cancel != nil {
		cancel()
	}
	<-done.Done()
}
