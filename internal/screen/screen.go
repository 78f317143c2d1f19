// Package screen is the case screen shared by the employee and manager
// views: the transcript, the composer and the status controls for one
// open case. The two views differ only in the status transitions their
// role allows.
package screen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/gateway"
	"github.com/user/casedesk/internal/identity"
	"github.com/user/casedesk/internal/pipeline"
	"github.com/user/casedesk/internal/stager"
	"github.com/user/casedesk/internal/status"
	"github.com/user/casedesk/internal/thread"
	"github.com/user/casedesk/internal/transcript"
	"github.com/user/casedesk/internal/types"
)

var ErrSendsInFlight = errors.New("sends still in flight")

type Deps struct {
	API      types.CaseAPI
	Tokens   types.TokenSource
	Gateway  *gateway.Gateway
	Notifier delivery.Notifier
	Identity *identity.Resolver
}

type Options struct {
	Role     status.Role
	Location *time.Location
	Width    int
	Pipeline pipeline.Options
	Now      func() time.Time
}

type Screen struct {
	Kind     types.CaseKind
	ID       types.CaseID
	Viewer   types.User
	Store    *thread.Store
	Composer *stager.Composer
	Status   *status.Updater

	deps      Deps
	opts      Options
	pipeline  *pipeline.Pipeline
	projector *transcript.Projector

	mu   sync.Mutex
	list []types.Case
}

// Open resolves the viewer, loads the case and wires up its controls.
func Open(ctx context.Context, deps Deps, opts Options, kind types.CaseKind, id types.CaseID) (*Screen, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown case kind %q", kind)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Pipeline.Now == nil {
		opts.Pipeline.Now = opts.Now
	}

	viewer, err := deps.Identity.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving viewer: %w", err)
	}
	token, err := deps.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s %s: %w", kind, id, err)
	}
	c, err := deps.API.FetchCase(ctx, token, kind, id)
	if err != nil {
		return nil, err
	}

	s := &Screen{
		Kind:     kind,
		ID:       id,
		Viewer:   viewer,
		Store:    thread.NewStore(),
		Composer: stager.NewComposer(),
		deps:     deps,
		opts:     opts,
	}
	if err := s.Store.Dispatch(thread.CaseLoaded{Case: *c}); err != nil {
		return nil, err
	}

	s.projector = transcript.NewProjector(transcript.Viewer{Email: viewer.Email, Location: opts.Location})
	s.projector.Now = opts.Now
	s.pipeline = pipeline.New(pipeline.Deps{
		API:      deps.API,
		Tokens:   deps.Tokens,
		Store:    s.Store,
		Composer: s.Composer,
		Gateway:  deps.Gateway,
		Notifier: deps.Notifier,
		Viewer:   viewer,
	}, opts.Pipeline)
	s.Status = status.New(status.Deps{
		API:      deps.API,
		Tokens:   deps.Tokens,
		Store:    s.Store,
		Gateway:  deps.Gateway,
		Notifier: deps.Notifier,
		Role:     opts.Role,
		OnList:   s.setList,
		Now:      opts.Now,
	})

	slog.Info("case opened", "kind", kind, "case", id, "comments", len(c.Comments), "role", opts.Role)
	return s, nil
}

// Entries projects the current thread for display.
func (s *Screen) Entries() []transcript.Entry {
	return s.projector.Project(s.Store.Comments())
}

// Attach stages a local file for the next message.
func (s *Screen) Attach(path string) error {
	f, err := stager.FromPath(path)
	if err != nil {
		return err
	}
	s.Composer.Staged.Stage(f)
	return nil
}

// Send sends the composer's content optimistically.
func (s *Screen) Send(ctx context.Context) (*pipeline.Outbound, error) {
	return s.pipeline.Send(ctx)
}

// StatusTargets lists the statuses the viewer may move the case to.
func (s *Screen) StatusTargets() []types.CaseStatus {
	c := s.Store.Case()
	if c == nil {
		return nil
	}
	return status.Targets(s.opts.Role, c.Status)
}

// Refresh refetches the case on its refresh lane. It refuses to run while
// sends are in flight so a background refresh never races a reconciliation.
func (s *Screen) Refresh(ctx context.Context) error {
	if s.Store.InFlight() > 0 {
		return ErrSendsInFlight
	}
	token, err := s.deps.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	job, err := s.deps.Gateway.Submit(gateway.RefreshLane(s.Kind, s.ID), "refresh_case", func(ctx context.Context) error {
		c, err := s.deps.API.FetchCase(ctx, token, s.Kind, s.ID)
		if err != nil {
			return err
		}
		return s.Store.Dispatch(thread.ThreadRefreshed{Case: *c})
	})
	if err != nil {
		return err
	}
	return job.Wait(ctx)
}

// Subscribe calls fn after every change to the thread.
func (s *Screen) Subscribe(fn func()) func() {
	return s.Store.Subscribe(func(thread.Event, thread.State) { fn() })
}

// ParentList is the case list refreshed after the last status change.
func (s *Screen) ParentList() []types.Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Case(nil), s.list...)
}

func (s *Screen) setList(_ types.CaseKind, cases []types.Case) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = cases
}

// Render writes the case header followed by the transcript.
func (s *Screen) Render(w io.Writer) error {
	st := s.Store.State()
	if st.Case == nil {
		return thread.ErrNoCase
	}
	c := st.Case

	title := c.NatureLabel
	if title == "" {
		title = string(c.Kind)
	}
	line := fmt.Sprintf("%s · %s #%s · %s", title, c.Kind, c.ID, c.Status)
	if st.PendingStatus != "" {
		line += fmt.Sprintf(" (changing to %s)", st.PendingStatus)
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	if c.SubmitterName != "" {
		fmt.Fprintf(w, "Submitted by %s <%s>\n", c.SubmitterName, c.SubmitterEmail)
	}
	if c.Description != "" {
		fmt.Fprintln(w, c.Description)
	}
	if err := transcript.Render(w, s.projector.Project(c.Comments), s.opts.Width); err != nil {
		return err
	}
	if n := s.Composer.Staged.Len(); n > 0 {
		fmt.Fprintf(w, "\n%d file(s) staged\n", n)
	}
	return nil
}
