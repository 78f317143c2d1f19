// Package identity resolves who is looking at a thread. The profile is
// fetched once per session and shared by every screen.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/casedesk/internal/transcript"
	"github.com/user/casedesk/internal/types"
)

var ErrNoEmail = errors.New("user profile has no email")

type Resolver struct {
	api    types.CaseAPI
	tokens types.TokenSource
	group  singleflight.Group

	mu   sync.RWMutex
	user *types.User
}

func NewResolver(api types.CaseAPI, tokens types.TokenSource) *Resolver {
	return &Resolver{api: api, tokens: tokens}
}

// Current returns the signed-in user, fetching the profile on first use.
// Concurrent first calls share one request.
func (r *Resolver) Current(ctx context.Context) (types.User, error) {
	r.mu.RLock()
	if r.user != nil {
		u := *r.user
		r.mu.RUnlock()
		return u, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do("current", func() (any, error) {
		token, err := r.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving user: %w", err)
		}
		u, err := r.api.CurrentUser(ctx, token)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(u.Email) == "" {
			return nil, ErrNoEmail
		}
		r.mu.Lock()
		r.user = u
		r.mu.Unlock()
		slog.Debug("resolved current user", "employee_id", u.EmployeeID, "role", u.Role)
		return *u, nil
	})
	if err != nil {
		return types.User{}, err
	}
	return v.(types.User), nil
}

// Set installs a known profile, skipping the lookup.
func (r *Resolver) Set(u types.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = &u
}

// Forget drops the cached profile, e.g. after the token changes.
func (r *Resolver) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = nil
}

// Viewer returns the transcript viewer for the current user.
func (r *Resolver) Viewer(ctx context.Context, loc *time.Location) (transcript.Viewer, error) {
	u, err := r.Current(ctx)
	if err != nil {
		return transcript.Viewer{}, err
	}
	return transcript.Viewer{Email: u.Email, Location: loc}, nil
}
