// Package status drives a case's status change through explicit user
// confirmation: idle, confirming, updating, then succeeded or failed.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/casedesk/internal/api"
	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/gateway"
	"github.com/user/casedesk/internal/thread"
	"github.com/user/casedesk/internal/types"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConfirming Phase = "confirming"
	PhaseUpdating   Phase = "updating"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

var (
	ErrNotConfirming        = errors.New("no status change is awaiting confirmation")
	ErrTransitionNotAllowed = errors.New("status change not allowed")
	ErrBusy                 = errors.New("a status change is already in progress")
	ErrNoCase               = errors.New("no case loaded")
	ErrNoToken              = errors.New("no session token")
)

type Deps struct {
	API      types.CaseAPI
	Tokens   types.TokenSource
	Store    *thread.Store
	Gateway  *gateway.Gateway
	Notifier delivery.Notifier
	Role     Role
	// OnList receives the refreshed parent list after a successful change.
	OnList func(kind types.CaseKind, cases []types.Case)
	Now    func() time.Time
}

// Updater is the status state machine for the open case.
type Updater struct {
	deps Deps

	mu     sync.Mutex
	phase  Phase
	target types.CaseStatus
	kind   types.CaseKind
	caseID types.CaseID
	err    error
}

func New(deps Deps) *Updater {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Updater{deps: deps, phase: PhaseIdle}
}

// Phase returns the current state and, while confirming or afterwards,
// the requested target.
func (u *Updater) Phase() (Phase, types.CaseStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase, u.target
}

// Err is the error of the last failed change.
func (u *Updater) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Request asks to move the open case to target. Nothing is sent until
// Confirm.
func (u *Updater) Request(target types.CaseStatus) error {
	c := u.deps.Store.Case()
	if c == nil {
		return ErrNoCase
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase == PhaseUpdating {
		return ErrBusy
	}
	if !Allowed(u.deps.Role, c.Status, target) {
		return fmt.Errorf("%w: %s cannot move %s to %s", ErrTransitionNotAllowed, u.deps.Role, c.Status, target)
	}
	u.phase = PhaseConfirming
	u.target = target
	u.kind = c.Kind
	u.caseID = c.ID
	u.err = nil
	return nil
}

// Cancel abandons a pending confirmation.
func (u *Updater) Cancel() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase != PhaseConfirming {
		return ErrNotConfirming
	}
	u.phase = PhaseIdle
	u.target = ""
	return nil
}

// Confirm fires the requested change on the case's status lane and
// returns the job running it.
func (u *Updater) Confirm(ctx context.Context) (*gateway.Job, error) {
	token, err := u.deps.Tokens.Token(ctx)
	if err != nil || token == "" {
		return nil, ErrNoToken
	}

	u.mu.Lock()
	if u.phase != PhaseConfirming {
		u.mu.Unlock()
		return nil, ErrNotConfirming
	}
	target, kind, id := u.target, u.kind, u.caseID
	if c := u.deps.Store.Case(); c == nil || c.ID != id {
		u.phase = PhaseIdle
		u.mu.Unlock()
		return nil, ErrNoCase
	}
	u.phase = PhaseUpdating
	u.mu.Unlock()

	u.dispatch(thread.StatusUpdateConfirmed{Target: target})
	job, err := u.deps.Gateway.Submit(gateway.StatusLane(kind, id), "update_status", func(ctx context.Context) error {
		return u.update(ctx, token, kind, id, target)
	}, gateway.WithOnAbort(func(err error) {
		u.fail(kind, id, target, err)
	}))
	if err != nil {
		u.fail(kind, id, target, err)
		return nil, err
	}
	slog.Info("status change confirmed", "kind", kind, "case", id, "target", target)
	return job, nil
}

func (u *Updater) update(ctx context.Context, token string, kind types.CaseKind, id types.CaseID, target types.CaseStatus) error {
	if err := u.deps.API.UpdateStatus(ctx, token, kind, id, target); err != nil {
		u.fail(kind, id, target, err)
		return err
	}

	u.dispatch(thread.StatusUpdated{Status: target, UpdatedAt: u.deps.Now()})
	u.mu.Lock()
	u.phase = PhaseSucceeded
	u.mu.Unlock()
	u.notify(delivery.Notice{
		Topic: delivery.TopicStatusUpdated,
		Level: delivery.LevelInfo,
		Kind:  kind,
		Case:  id,
		Text:  fmt.Sprintf("Status changed to %s", target),
	})

	if err := u.refresh(ctx, token, kind, id); err != nil {
		slog.Warn("refresh after status change failed", "kind", kind, "case", id, "error", err)
	}
	return nil
}

// refresh picks up side effects of the change: the case detail and the
// parent list are fetched concurrently.
func (u *Updater) refresh(ctx context.Context, token string, kind types.CaseKind, id types.CaseID) error {
	var (
		detail *types.Case
		list   []types.Case
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return u.deps.Gateway.Retry.Execute(gctx, func(ctx context.Context) error {
			c, err := u.deps.API.FetchCase(ctx, token, kind, id)
			if err != nil {
				return err
			}
			detail = c
			return nil
		})
	})
	g.Go(func() error {
		cases, err := u.deps.API.ListCases(gctx, token, kind)
		if err != nil {
			return err
		}
		list = cases
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	u.dispatch(thread.CaseRefreshed{Case: *detail})
	if u.deps.OnList != nil {
		u.deps.OnList(kind, list)
	}
	return nil
}

func (u *Updater) fail(kind types.CaseKind, id types.CaseID, target types.CaseStatus, err error) {
	slog.Warn("status change failed", "kind", kind, "case", id, "target", target, "error", err)
	u.dispatch(thread.StatusUpdateFailed{Target: target, Err: err})
	u.mu.Lock()
	u.phase = PhaseFailed
	u.err = err
	u.mu.Unlock()
	u.notify(delivery.Notice{
		Topic: delivery.TopicStatusFailed,
		Level: delivery.LevelError,
		Kind:  kind,
		Case:  id,
		Text:  api.Describe("Status could not be changed", err),
	})
}

func (u *Updater) dispatch(ev thread.Event) {
	if err := u.deps.Store.Dispatch(ev); err != nil {
		slog.Warn("thread event dropped", "event", ev.Name(), "error", err)
	}
}

func (u *Updater) notify(n delivery.Notice) {
	if u.deps.Notifier != nil {
		u.deps.Notifier.Notify(n)
	}
}
