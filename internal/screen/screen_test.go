package screen

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/casedesk/internal/api/apitest"
	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/gateway"
	"github.com/user/casedesk/internal/identity"
	"github.com/user/casedesk/internal/status"
	"github.com/user/casedesk/internal/types"
)

var (
	now      = time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)
	employee = types.User{EmployeeID: "100", FullName: "Ana Silva", Email: "ana@example.com", Role: "employee"}
	hrUser   = types.User{EmployeeID: "7", FullName: "Bo Tran", Email: "bo@example.com", Role: "hr"}
)

func leaveRequest() types.Case {
	return types.Case{
		ID:             "42",
		Kind:           types.KindRequest,
		Status:         types.StatusPending,
		NatureLabel:    "Leave",
		Description:    "Leave balance looks wrong",
		SubmitterName:  employee.FullName,
		SubmitterEmail: employee.Email,
		CreatedAt:      now.Add(-10 * 24 * time.Hour),
		Comments: []types.Comment{
			{ID: "1", Text: "Opened the request", AuthorName: employee.FullName, AuthorEmail: employee.Email, CreatedAt: now.Add(-10 * 24 * time.Hour)},
			{ID: "2", Text: "Looking into it", AuthorName: hrUser.FullName, AuthorEmail: hrUser.Email, IsCounterpartRole: true, CreatedAt: now.Add(-20 * time.Hour)},
		},
	}
}

type fixture struct {
	fake    *apitest.Fake
	out     *bytes.Buffer
	screen  *Screen
	gateway *gateway.Gateway
}

func open(t *testing.T, user types.User, role status.Role) *fixture {
	t.Helper()
	fake := apitest.NewFake(user, leaveRequest())
	fake.Now = func() time.Time { return now.Add(time.Minute) }

	gw := gateway.New(4)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	out := &bytes.Buffer{}
	notices := delivery.NewRegistry()
	notices.Register("", delivery.Console(out))

	tokens := types.StaticToken("tok")
	s, err := Open(context.Background(), Deps{
		API:      fake,
		Tokens:   tokens,
		Gateway:  gw,
		Notifier: notices,
		Identity: identity.NewResolver(fake, tokens),
	}, Options{
		Role:     role,
		Location: time.UTC,
		Width:    60,
		Now:      func() time.Time { return now },
	}, types.KindRequest, "42")
	require.NoError(t, err)
	return &fixture{fake: fake, out: out, screen: s, gateway: gw}
}

func render(t *testing.T, s *Screen) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, s.Render(&buf))
	return buf.String()
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOpenRendersThread(t *testing.T) {
	f := open(t, employee, status.RoleEmployee)

	out := render(t, f.screen)
	assert.Contains(t, out, "Leave · request #42 · pending")
	assert.Contains(t, out, "Submitted by Ana Silva <ana@example.com>")
	assert.Contains(t, out, "8 October 2026")
	assert.Contains(t, out, "Yesterday")
	assert.Contains(t, out, "Bo Tran [HR]")
	assert.Contains(t, out, "You · ")
	assert.Less(t, strings.Index(out, "Opened the request"), strings.Index(out, "Looking into it"))
}

func TestEmployeeSendsWithAttachment(t *testing.T) {
	f := open(t, employee, status.RoleEmployee)
	release := make(chan struct{})
	f.fake.SendHook = func(ctx context.Context, _ apitest.SentComment) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	path := filepath.Join(t.TempDir(), "balance.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n0000"), 0o644))

	changes := make(chan struct{}, 16)
	unsubscribe := f.screen.Subscribe(func() { changes <- struct{}{} })
	defer unsubscribe()

	require.NoError(t, f.screen.Attach(path))
	f.screen.Composer.SetText("Screenshot attached")
	out, err := f.screen.Send(context.Background())
	require.NoError(t, err)

	assert.Contains(t, render(t, f.screen), "sending")
	assert.Equal(t, 0, f.screen.Composer.Staged.Len())
	close(release)
	require.NoError(t, out.Wait(waitCtx(t)))

	rendered := render(t, f.screen)
	assert.NotContains(t, rendered, "sending")
	assert.Contains(t, rendered, "📎 balance.png")
	assert.Contains(t, rendered, "Today")

	sent := f.fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Screenshot attached", sent[0].Content)
	assert.Contains(t, sent[0].Files, "balance.png")
	assert.GreaterOrEqual(t, len(changes), 2)
}

func TestFailedSendNotifiesAndRestores(t *testing.T) {
	f := open(t, employee, status.RoleEmployee)
	f.fake.SendHook = func(context.Context, apitest.SentComment) error {
		return errors.New("connection refused")
	}

	f.screen.Composer.SetText("Will this arrive?")
	out, err := f.screen.Send(context.Background())
	require.NoError(t, err)
	require.Error(t, out.Wait(waitCtx(t)))

	assert.Equal(t, "Will this arrive?", f.screen.Composer.Text())
	assert.Len(t, f.screen.Store.Comments(), 2)
	assert.Contains(t, f.out.String(), "error: [request 42] Comment could not be sent")
}

func TestManagerChangesStatus(t *testing.T) {
	f := open(t, hrUser, status.RoleManager)
	assert.Equal(t, []types.CaseStatus{types.StatusInProgress, types.StatusResolved, types.StatusRejected}, f.screen.StatusTargets())

	require.NoError(t, f.screen.Status.Request(types.StatusInProgress))
	job, err := f.screen.Status.Confirm(context.Background())
	require.NoError(t, err)
	require.NoError(t, job.Wait(waitCtx(t)))

	assert.Equal(t, types.StatusInProgress, f.screen.Store.Case().Status)
	assert.Len(t, f.screen.ParentList(), 1)
	assert.Contains(t, render(t, f.screen), "· in_progress")
	assert.Contains(t, f.out.String(), "Status changed to in_progress")

	// From the manager's side the HR comment is their own and carries no badge.
	rendered := render(t, f.screen)
	assert.Contains(t, rendered, "You · 19:00")
	assert.NotContains(t, rendered, "[HR]")
}

func TestEmployeeCannotResolve(t *testing.T) {
	f := open(t, employee, status.RoleEmployee)
	assert.Equal(t, []types.CaseStatus{types.StatusCancelled}, f.screen.StatusTargets())
	assert.ErrorIs(t, f.screen.Status.Request(types.StatusResolved), status.ErrTransitionNotAllowed)
}

func TestRefresh(t *testing.T) {
	f := open(t, employee, status.RoleEmployee)

	c, _ := f.fake.Case("42")
	c.Comments = append(c.Comments, types.Comment{ID: "3", Text: "Fixed now", AuthorEmail: hrUser.Email, CreatedAt: now.Add(-time.Hour)})
	f.fake.Put(c)

	require.NoError(t, f.screen.Refresh(context.Background()))
	assert.Len(t, f.screen.Store.Comments(), 3)
	assert.Contains(t, render(t, f.screen), "Fixed now")
}

func TestRefreshSkipsWhileSending(t *testing.T) {
	f := open(t, employee, status.RoleEmployee)
	release := make(chan struct{})
	f.fake.SendHook = func(ctx context.Context, _ apitest.SentComment) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.screen.Composer.SetText("hold on")
	out, err := f.screen.Send(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, f.screen.Refresh(context.Background()), ErrSendsInFlight)
	assert.Equal(t, 1, f.fake.Fetches(), "only the initial load fetched")

	close(release)
	require.NoError(t, out.Wait(waitCtx(t)))
	assert.NoError(t, f.screen.Refresh(context.Background()))
}
