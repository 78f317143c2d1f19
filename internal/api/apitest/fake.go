// Package apitest provides an in-memory types.CaseAPI for tests.
package apitest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/user/casedesk/internal/types"
)

// SentComment records one SendComment call that reached the fake.
type SentComment struct {
	Kind    types.CaseKind
	Case    types.CaseID
	Content string
	Files   map[string]string // name -> content
}

// Fake is a backend held in memory. Hooks run before the fake applies a
// call; a non-nil hook error fails the call without side effects.
type Fake struct {
	FileHost string
	Now      func() time.Time

	SendHook   func(ctx context.Context, sent SentComment) error
	FetchHook  func(ctx context.Context, id types.CaseID) error
	StatusHook func(ctx context.Context, id types.CaseID, status types.CaseStatus) error

	mu      sync.Mutex
	cases   map[types.CaseID]*types.Case
	user    types.User
	sent    []SentComment
	fetches int
	lists   int
	nextID  int
}

var _ types.CaseAPI = (*Fake)(nil)

// NewFake creates a fake serving user and cases.
func NewFake(user types.User, cases ...types.Case) *Fake {
	f := &Fake{
		FileHost: "https://files.example.com",
		Now:      time.Now,
		cases:    make(map[types.CaseID]*types.Case),
		user:     user,
		nextID:   1000,
	}
	for _, c := range cases {
		c := c.Clone()
		f.cases[c.ID] = &c
	}
	return f
}

// Put replaces a case on the server side.
func (f *Fake) Put(c types.Case) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c = c.Clone()
	f.cases[c.ID] = &c
}

// Case returns the server-side copy of a case.
func (f *Fake) Case(id types.CaseID) (types.Case, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return types.Case{}, false
	}
	return c.Clone(), true
}

// Sent returns every comment accepted so far.
func (f *Fake) Sent() []SentComment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentComment(nil), f.sent...)
}

// Fetches counts FetchCase calls, including failed ones.
func (f *Fake) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Lists counts ListCases calls.
func (f *Fake) Lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *Fake) lookup(kind types.CaseKind, id types.CaseID) (*types.Case, error) {
	c, ok := f.cases[id]
	if !ok || c.Kind != kind {
		return nil, fmt.Errorf("%s %s not found", kind, id)
	}
	return c, nil
}

func (f *Fake) FetchCase(ctx context.Context, token string, kind types.CaseKind, id types.CaseID) (*types.Case, error) {
	f.mu.Lock()
	f.fetches++
	hook := f.FetchHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.lookup(kind, id)
	if err != nil {
		return nil, err
	}
	out := c.Clone()
	return &out, nil
}

func (f *Fake) ListCases(ctx context.Context, token string, kind types.CaseKind) ([]types.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	var out []types.Case
	for _, c := range f.cases {
		if c.Kind != kind {
			continue
		}
		summary := *c
		summary.Comments = nil
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SendComment reads every upload, then stores the comment with server
// attachment URLs.
func (f *Fake) SendComment(ctx context.Context, token string, kind types.CaseKind, id types.CaseID, content string, files []types.Upload) error {
	sent := SentComment{Kind: kind, Case: id, Content: content, Files: make(map[string]string)}
	for _, up := range files {
		rc, err := up.Open()
		if err != nil {
			return fmt.Errorf("attaching %s: %w", up.File.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		sent.Files[up.File.Name] = string(data)
	}

	f.mu.Lock()
	hook := f.SendHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, sent); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.lookup(kind, id)
	if err != nil {
		return err
	}
	now := f.Now()
	f.nextID++
	comment := types.Comment{
		ID:                types.CommentID(fmt.Sprint(f.nextID)),
		Text:              content,
		AuthorID:          f.user.EmployeeID,
		AuthorName:        f.user.FullName,
		AuthorEmail:       f.user.Email,
		CreatedAt:         now,
		IsCounterpartRole: types.IsCounterpartRole(f.user.Role),
	}
	for _, up := range files {
		f.nextID++
		comment.Attachments = append(comment.Attachments, types.CommentAttachment{
			ID:          fmt.Sprint(f.nextID),
			SourceURI:   fmt.Sprintf("%s/%s/%s", f.FileHost, id, up.File.Name),
			DisplayName: up.File.Name,
			UploadedAt:  now,
		})
	}
	c.Comments = append(c.Comments, comment)
	c.UpdatedAt = now
	f.sent = append(f.sent, sent)
	return nil
}

func (f *Fake) UpdateStatus(ctx context.Context, token string, kind types.CaseKind, id types.CaseID, status types.CaseStatus) error {
	f.mu.Lock()
	hook := f.StatusHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id, status); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.lookup(kind, id)
	if err != nil {
		return err
	}
	c.Status = status
	c.UpdatedAt = f.Now()
	return nil
}

func (f *Fake) CurrentUser(ctx context.Context, token string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.user
	return &u, nil
}
