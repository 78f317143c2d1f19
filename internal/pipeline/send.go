// Package pipeline implements optimistic comment sending: the comment is
// shown immediately, the input is cleared, and the upload runs on the
// case's comment lane. Failures roll back exactly the comment they belong
// to and give the user their draft back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/casedesk/internal/api"
	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/gateway"
	"github.com/user/casedesk/internal/stager"
	"github.com/user/casedesk/internal/thread"
	"github.com/user/casedesk/internal/types"
)

var (
	ErrEmptyMessage = errors.New("message is empty and nothing is attached")
	ErrNoToken      = errors.New("no session token")
	ErrNoCase       = errors.New("no case loaded")
)

// DefaultPlaceholder is the comment text used when only files are sent.
const DefaultPlaceholder = "📎 Attachment"

// Options tune a Pipeline. The zero value is usable.
type Options struct {
	// Placeholder replaces empty text when a send carries only attachments.
	Placeholder string
	// ReconcileTextOnly refetches the thread after text-only sends as well.
	ReconcileTextOnly bool
	// Now is the clock used for provisional timestamps.
	Now func() time.Time
	// Open reads a staged file for upload. Defaults to OpenLocal.
	Open func(f types.StagedFile) (io.ReadCloser, error)
}

// Deps are the collaborators a Pipeline works with.
type Deps struct {
	API      types.CaseAPI
	Tokens   types.TokenSource
	Store    *thread.Store
	Composer *stager.Composer
	Gateway  *gateway.Gateway
	Notifier delivery.Notifier
	// Viewer supplies the author fields of provisional comments.
	Viewer types.User
}

type Pipeline struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Open == nil {
		opts.Open = OpenLocal
	}
	return &Pipeline{deps: deps, opts: opts}
}

// Outcome is how a send resolved.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeDelivered  Outcome = "delivered"
	OutcomeReconciled Outcome = "reconciled"
	OutcomeFailed     Outcome = "failed"
)

// Outbound tracks one send after it has been handed to the gateway.
type Outbound struct {
	TempID types.CommentID
	Draft  stager.Draft

	job     *gateway.Job
	mu      sync.Mutex
	outcome Outcome
}

// Wait blocks until the send resolves and returns its error, if any.
func (o *Outbound) Wait(ctx context.Context) error {
	return o.job.Wait(ctx)
}

func (o *Outbound) Outcome() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

func (o *Outbound) resolve(out Outcome) {
	o.mu.Lock()
	o.outcome = out
	o.mu.Unlock()
}

// Send starts sending what is in the composer. It returns once the
// provisional comment is in the thread and the upload is queued; the
// upload itself runs in the background.
func (p *Pipeline) Send(ctx context.Context) (*Outbound, error) {
	if p.deps.Composer.Peek().Empty() {
		return nil, ErrEmptyMessage
	}
	token, err := p.deps.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	if token == "" {
		return nil, ErrNoToken
	}
	c := p.deps.Store.Case()
	if c == nil {
		return nil, ErrNoCase
	}

	draft := p.deps.Composer.Take()
	if draft.Empty() {
		p.deps.Composer.Restore(draft)
		return nil, ErrEmptyMessage
	}

	now := p.opts.Now()
	provisional := p.provisional(draft, now)
	if err := p.deps.Store.Dispatch(thread.SendRequested{Comment: provisional}); err != nil {
		p.deps.Composer.Restore(draft)
		return nil, fmt.Errorf("adding provisional comment: %w", err)
	}

	out := &Outbound{TempID: provisional.ID, Draft: draft, outcome: OutcomePending}
	content := p.content(draft)
	kind, id := c.Kind, c.ID

	job, err := p.deps.Gateway.Submit(gateway.CommentLane(kind, id), "send_comment", func(ctx context.Context) error {
		return p.deliver(ctx, out, token, kind, id, content)
	}, gateway.WithOnAbort(func(err error) {
		p.fail(out, kind, id, err)
	}))
	if err != nil {
		p.fail(out, kind, id, err)
		return nil, err
	}
	out.job = job

	slog.Info("comment queued", "kind", kind, "case", id, "temp_id", provisional.ID, "attachments", len(draft.Files))
	return out, nil
}

func (p *Pipeline) provisional(d stager.Draft, now time.Time) types.Comment {
	viewer := p.deps.Viewer
	c := types.Comment{
		ID:                types.NewTempCommentID(now),
		Text:              p.content(d),
		AuthorID:          viewer.EmployeeID,
		AuthorName:        viewer.FullName,
		AuthorEmail:       viewer.Email,
		CreatedAt:         now,
		IsCounterpartRole: types.IsCounterpartRole(viewer.Role),
	}
	for _, f := range d.Files {
		c.Attachments = append(c.Attachments, types.CommentAttachment{
			SourceURI:   f.URI,
			DisplayName: f.Name,
			UploadedAt:  now,
		})
	}
	return c
}

func (p *Pipeline) content(d stager.Draft) string {
	text := strings.TrimSpace(d.Text)
	if text == "" {
		return p.opts.Placeholder
	}
	return text
}

// deliver runs on the comment lane.
func (p *Pipeline) deliver(ctx context.Context, out *Outbound, token string, kind types.CaseKind, id types.CaseID, content string) error {
	uploads := make([]types.Upload, 0, len(out.Draft.Files))
	for _, f := range out.Draft.Files {
		uploads = append(uploads, types.Upload{
			File: f,
			Open: func() (io.ReadCloser, error) { return p.opts.Open(f) },
		})
	}

	if err := p.deps.API.SendComment(ctx, token, kind, id, content, uploads); err != nil {
		p.fail(out, kind, id, err)
		return err
	}

	if len(out.Draft.Files) == 0 && !p.opts.ReconcileTextOnly {
		p.dispatch(thread.SendSucceeded{TempID: out.TempID})
		out.resolve(OutcomeDelivered)
		return nil
	}

	var fresh *types.Case
	err := p.deps.Gateway.Retry.Execute(ctx, func(ctx context.Context) error {
		c, err := p.deps.API.FetchCase(ctx, token, kind, id)
		if err != nil {
			return err
		}
		fresh = c
		return nil
	})
	if err != nil {
		// The comment reached the server; keep the provisional copy.
		slog.Warn("reconcile after send failed", "kind", kind, "case", id, "temp_id", out.TempID, "error", err)
		p.dispatch(thread.SendSucceeded{TempID: out.TempID})
		out.resolve(OutcomeDelivered)
		p.notify(delivery.Notice{
			Topic: delivery.TopicReconcileFailed,
			Level: delivery.LevelWarn,
			Kind:  kind,
			Case:  id,
			Text:  "Comment sent, but the conversation could not be refreshed",
		})
		return nil
	}

	p.dispatch(thread.ThreadReconciled{TempID: out.TempID, Comments: fresh.Comments})
	out.resolve(OutcomeReconciled)
	slog.Info("comment reconciled", "kind", kind, "case", id, "temp_id", out.TempID, "comments", len(fresh.Comments))
	return nil
}

// fail rolls back one send: its provisional comment goes, its draft comes
// back, and the user is told why.
func (p *Pipeline) fail(out *Outbound, kind types.CaseKind, id types.CaseID, err error) {
	slog.Warn("comment send failed", "kind", kind, "case", id, "temp_id", out.TempID, "error", err)
	p.dispatch(thread.SendFailed{TempID: out.TempID, Err: err})
	p.deps.Composer.Restore(out.Draft)
	out.resolve(OutcomeFailed)
	p.notify(delivery.Notice{
		Topic: delivery.TopicSendFailed,
		Level: delivery.LevelError,
		Kind:  kind,
		Case:  id,
		Text:  api.Describe("Comment could not be sent", err),
	})
}

func (p *Pipeline) dispatch(ev thread.Event) {
	if err := p.deps.Store.Dispatch(ev); err != nil {
		slog.Warn("thread event dropped", "event", ev.Name(), "error", err)
	}
}

func (p *Pipeline) notify(n delivery.Notice) {
	if p.deps.Notifier != nil {
		p.deps.Notifier.Notify(n)
	}
}
