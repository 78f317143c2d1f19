package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/casedesk/internal/api"
	"github.com/user/casedesk/internal/api/apitest"
	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/gateway"
	"github.com/user/casedesk/internal/stager"
	"github.com/user/casedesk/internal/thread"
	"github.com/user/casedesk/internal/types"
)

var (
	t0     = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	viewer = types.User{EmployeeID: "100", FullName: "Ana Silva", Email: "ana@example.com", Role: "employee"}
	hr     = types.User{EmployeeID: "7", FullName: "Bo Tran", Email: "bo@example.com", Role: "hr"}
)

func baseCase() types.Case {
	return types.Case{
		ID:     "42",
		Kind:   types.KindRequest,
		Status: types.StatusPending,
		Comments: []types.Comment{
			{ID: "1", Text: "How can we help?", AuthorEmail: hr.Email, AuthorName: hr.FullName, CreatedAt: t0, IsCounterpartRole: true},
		},
	}
}

type recorder struct {
	mu      sync.Mutex
	notices []delivery.Notice
}

func (r *recorder) Notify(n delivery.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) all() []delivery.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Notice(nil), r.notices...)
}

type harness struct {
	api      *apitest.Fake
	store    *thread.Store
	composer *stager.Composer
	gw       *gateway.Gateway
	notices  *recorder
	pipeline *Pipeline
}

func memOpen(f types.StagedFile) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("contents of " + f.Name)), nil
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	fake := apitest.NewFake(viewer, baseCase())
	clock := t0
	var clockMu sync.Mutex
	fake.Now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}

	store := thread.NewStore()
	require.NoError(t, store.Dispatch(thread.CaseLoaded{Case: baseCase()}))

	gw := gateway.New(4)
	gw.Retry = &gateway.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	if opts.Open == nil {
		opts.Open = memOpen
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0.Add(30 * time.Second) }
	}

	h := &harness{
		api:      fake,
		store:    store,
		composer: stager.NewComposer(),
		gw:       gw,
		notices:  &recorder{},
	}
	h.pipeline = New(Deps{
		API:      fake,
		Tokens:   types.StaticToken("tok"),
		Store:    store,
		Composer: h.composer,
		Gateway:  gw,
		Notifier: h.notices,
		Viewer:   viewer,
	}, opts)
	return h
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func gate(release <-chan struct{}) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, Options{})
	h.composer.SetText("   \n ")

	out, err := h.pipeline.Send(context.Background())
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Nil(t, out)
	assert.Equal(t, "   \n ", h.composer.Text())
	assert.Equal(t, baseCase().Comments, h.store.Comments())
	assert.Empty(t, h.api.Sent())
}

func TestSendPreconditions(t *testing.T) {
	h := newHarness(t, Options{})
	h.composer.SetText("hello")

	noToken := New(Deps{
		API: h.api, Tokens: types.StaticToken(""), Store: h.store,
		Composer: h.composer, Gateway: h.gw, Viewer: viewer,
	}, Options{})
	_, err := noToken.Send(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)

	noCase := New(Deps{
		API: h.api, Tokens: types.StaticToken("tok"), Store: thread.NewStore(),
		Composer: h.composer, Gateway: h.gw, Viewer: viewer,
	}, Options{})
	_, err = noCase.Send(context.Background())
	assert.ErrorIs(t, err, ErrNoCase)

	assert.Equal(t, "hello", h.composer.Text())
	assert.Len(t, h.store.Comments(), 1)
}

func TestSendTextOnlyKeepsProvisional(t *testing.T) {
	h := newHarness(t, Options{})
	release := make(chan struct{})
	h.api.SendHook = func(ctx context.Context, _ apitest.SentComment) error { return gate(release)(ctx) }

	h.composer.SetText("  Any update?  ")
	out, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)

	// Visible and the input is cleared before the upload finishes.
	comments := h.store.Comments()
	require.Len(t, comments, 2)
	mine := comments[1]
	assert.Equal(t, out.TempID, mine.ID)
	assert.True(t, mine.Provisional())
	assert.Equal(t, "Any update?", mine.Text)
	assert.Equal(t, viewer.Email, mine.AuthorEmail)
	assert.False(t, mine.IsCounterpartRole)
	assert.Equal(t, t0.Add(30*time.Second), mine.CreatedAt)
	assert.Equal(t, "", h.composer.Text())
	assert.Equal(t, 1, h.store.InFlight())
	assert.Equal(t, OutcomePending, out.Outcome())

	close(release)
	require.NoError(t, out.Wait(waitCtx(t)))

	assert.Equal(t, OutcomeDelivered, out.Outcome())
	comments = h.store.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, out.TempID, comments[1].ID)
	assert.Equal(t, 0, h.store.InFlight())
	assert.Equal(t, 0, h.api.Fetches())
	require.Len(t, h.api.Sent(), 1)
	assert.Equal(t, "Any update?", h.api.Sent()[0].Content)
	assert.Empty(t, h.notices.all())
}

func TestSendWithAttachmentsReconciles(t *testing.T) {
	h := newHarness(t, Options{})
	h.composer.Staged.Stage(types.StagedFile{URI: "/tmp/payslip.pdf", Name: "payslip.pdf", MimeType: "application/pdf", Kind: types.FileDocument})

	out, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)

	provisional := h.store.Comments()[1]
	assert.Equal(t, DefaultPlaceholder, provisional.Text)
	require.Len(t, provisional.Attachments, 1)
	assert.True(t, provisional.Attachments[0].IsLocal())
	assert.Equal(t, 0, h.composer.Staged.Len())

	require.NoError(t, out.Wait(waitCtx(t)))
	assert.Equal(t, OutcomeReconciled, out.Outcome())

	comments := h.store.Comments()
	require.Len(t, comments, 2)
	for _, c := range comments {
		assert.False(t, c.Provisional(), "comment %s should be server-confirmed", c.ID)
	}
	confirmed := comments[1]
	assert.Equal(t, DefaultPlaceholder, confirmed.Text)
	require.Len(t, confirmed.Attachments, 1)
	assert.False(t, confirmed.Attachments[0].IsLocal())
	assert.Equal(t, "payslip.pdf", confirmed.Attachments[0].DisplayName)

	sent := h.api.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, map[string]string{"payslip.pdf": "contents of payslip.pdf"}, sent[0].Files)
	assert.Equal(t, 1, h.api.Fetches())
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.SendHook = func(context.Context, apitest.SentComment) error {
		return &api.Error{StatusCode: 400, Message: "Comment is too long"}
	}

	before := h.store.Comments()
	file := types.StagedFile{URI: "/tmp/a.png", Name: "a.png", MimeType: "image/png", Kind: types.FileImage}
	h.composer.SetText("draft text ")
	h.composer.Staged.Stage(file)

	out, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)
	err = out.Wait(waitCtx(t))

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, OutcomeFailed, out.Outcome())
	assert.Equal(t, before, h.store.Comments())
	assert.Equal(t, 0, h.store.InFlight())
	assert.Equal(t, "draft text ", h.composer.Text())
	assert.Equal(t, []types.StagedFile{file}, h.composer.Staged.Files())

	notices := h.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, delivery.TopicSendFailed, notices[0].Topic)
	assert.Equal(t, delivery.LevelError, notices[0].Level)
	assert.Equal(t, "Comment could not be sent: Comment is too long", notices[0].Text)
	assert.Equal(t, types.CaseID("42"), notices[0].Case)
}

func TestConcurrentSendsRollBackIndependently(t *testing.T) {
	h := newHarness(t, Options{})
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	h.api.SendHook = func(ctx context.Context, sent apitest.SentComment) error {
		switch sent.Content {
		case "A":
			if err := gate(releaseA)(ctx); err != nil {
				return err
			}
			return errors.New("connection reset by peer")
		default:
			return gate(releaseB)(ctx)
		}
	}

	h.composer.SetText("A")
	a, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)
	h.composer.SetText("B")
	b, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, a.TempID, b.TempID)
	comments := h.store.Comments()
	require.Len(t, comments, 3)
	assert.Equal(t, a.TempID, comments[1].ID)
	assert.Equal(t, b.TempID, comments[2].ID)

	close(releaseA)
	require.Error(t, a.Wait(waitCtx(t)))

	comments = h.store.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, types.CommentID("1"), comments[0].ID)
	assert.Equal(t, b.TempID, comments[1].ID)
	assert.Equal(t, "A", h.composer.Text())

	close(releaseB)
	require.NoError(t, b.Wait(waitCtx(t)))
	comments = h.store.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, b.TempID, comments[1].ID)
	assert.Equal(t, OutcomeFailed, a.Outcome())
	assert.Equal(t, OutcomeDelivered, b.Outcome())
	assert.Contains(t, h.notices.all()[0].Text, "Check your connection")
}

func TestReconcileKeepsOtherSendsInFlight(t *testing.T) {
	h := newHarness(t, Options{})
	releaseB := make(chan struct{})
	h.api.SendHook = func(ctx context.Context, sent apitest.SentComment) error {
		if sent.Content == "B" {
			return gate(releaseB)(ctx)
		}
		return nil
	}

	h.composer.Staged.Stage(types.StagedFile{URI: "/tmp/scan.pdf", Name: "scan.pdf", Kind: types.FileDocument})
	a, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)
	h.composer.SetText("B")
	b, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.Wait(waitCtx(t)))
	comments := h.store.Comments()
	require.Len(t, comments, 3)
	assert.False(t, comments[1].Provisional())
	assert.Equal(t, "scan.pdf", comments[1].Attachments[0].DisplayName)
	assert.Equal(t, b.TempID, comments[2].ID, "in-flight send must survive the full replace")

	close(releaseB)
	require.NoError(t, b.Wait(waitCtx(t)))
	assert.Len(t, h.store.Comments(), 3)
}

func TestReconcileFetchFailureKeepsDeliveredComment(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.FetchHook = func(context.Context, types.CaseID) error {
		return &api.Error{StatusCode: 503, Message: "maintenance"}
	}

	h.composer.Staged.Stage(types.StagedFile{URI: "/tmp/x.pdf", Name: "x.pdf", Kind: types.FileDocument})
	out, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)
	require.NoError(t, out.Wait(waitCtx(t)))

	assert.Equal(t, OutcomeDelivered, out.Outcome())
	assert.Equal(t, 2, h.api.Fetches(), "temporary errors are retried")
	comments := h.store.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, out.TempID, comments[1].ID)
	assert.Equal(t, 0, h.store.InFlight())

	notices := h.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, delivery.TopicReconcileFailed, notices[0].Topic)
}

func TestReconcileTextOnlyOption(t *testing.T) {
	h := newHarness(t, Options{ReconcileTextOnly: true})
	h.composer.SetText("hello")

	out, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)
	require.NoError(t, out.Wait(waitCtx(t)))

	assert.Equal(t, OutcomeReconciled, out.Outcome())
	comments := h.store.Comments()
	require.Len(t, comments, 2)
	assert.False(t, comments[1].Provisional())
	assert.Equal(t, "hello", comments[1].Text)
}

func TestSendAfterGatewayStopRollsBack(t *testing.T) {
	h := newHarness(t, Options{})
	h.gw.Stop()
	h.composer.SetText("too late")

	_, err := h.pipeline.Send(context.Background())
	require.Error(t, err)
	assert.Len(t, h.store.Comments(), 1)
	assert.Equal(t, "too late", h.composer.Text())
}

func TestQueuedSendRollsBackWhenGatewayStops(t *testing.T) {
	h := newHarness(t, Options{})
	started := make(chan struct{})
	h.api.SendHook = func(ctx context.Context, sent apitest.SentComment) error {
		if sent.Content == "A" {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}

	h.composer.SetText("A")
	a, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)
	<-started
	h.composer.SetText("B")
	b, err := h.pipeline.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.InFlight())

	h.gw.Stop()

	require.Error(t, a.Wait(waitCtx(t)))
	assert.ErrorIs(t, b.Wait(waitCtx(t)), gateway.ErrQueueStopped)
	assert.Equal(t, OutcomeFailed, a.Outcome())
	assert.Equal(t, OutcomeFailed, b.Outcome())

	comments := h.store.Comments()
	require.Len(t, comments, 1)
	assert.Equal(t, types.CommentID("1"), comments[0].ID)
	assert.Equal(t, 0, h.store.InFlight())
	assert.Contains(t, h.composer.Text(), "A")
	assert.Contains(t, h.composer.Text(), "B")

	notices := h.notices.all()
	require.Len(t, notices, 2)
	for _, n := range notices {
		assert.Equal(t, delivery.TopicSendFailed, n.Topic)
	}
	assert.Empty(t, h.api.Sent())
}

func TestOpenLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	for _, uri := range []string{path, "file://" + path} {
		rc, err := OpenLocal(types.StagedFile{URI: uri})
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))
	}
}
