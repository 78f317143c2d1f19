package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/user/casedesk/internal/api"
	"github.com/user/casedesk/internal/config"
	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/gateway"
	"github.com/user/casedesk/internal/identity"
	"github.com/user/casedesk/internal/pipeline"
	"github.com/user/casedesk/internal/screen"
	"github.com/user/casedesk/internal/state"
	"github.com/user/casedesk/internal/status"
	"github.com/user/casedesk/internal/telegram"
	"github.com/user/casedesk/internal/types"
)

// app holds everything a backend-facing command needs.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	client   *api.Client
	tokens   types.TokenSource
	gw       *gateway.Gateway
	notices  *delivery.Registry
	log      *state.NoticeLog
	identity *identity.Resolver
	sink     *telegram.Sink
}

func newApp(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (run `casedesk setup`)", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("viewer timezone: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{
		cfg: cfg,
		loc: loc,
		client: api.New(api.Config{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.Timeout(),
		}),
		tokens:  types.StaticToken(cfg.API.Token),
		gw:      gateway.New(int64(cfg.MaxConcurrent)),
		notices: delivery.NewRegistry(),
	}
	a.identity = identity.NewResolver(a.client, a.tokens)

	a.notices.Register("", delivery.Console(os.Stderr))
	if cfg.Notices.Log {
		a.log = state.NewNoticeLog(cfg.DataDir)
		a.notices.Register("", a.log.Handle)
	}
	if cfg.Telegram.Token != "" {
		sink, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("create telegram sink: %w", err)
		}
		a.sink = sink
		a.notices.Register("", sink.Handle)
	}

	a.gw.Start(ctx)
	slog.Debug("casedesk ready",
		"base_url", cfg.API.BaseURL,
		"role", cfg.Viewer.Role,
		"max_concurrent", cfg.MaxConcurrent,
		"telegram", a.sink != nil,
	)
	return a, nil
}

func (a *app) close() {
	a.gw.Stop()
}

func (a *app) openScreen(ctx context.Context, kind types.CaseKind, id types.CaseID) (*screen.Screen, error) {
	return screen.Open(ctx, screen.Deps{
		API:      a.client,
		Tokens:   a.tokens,
		Gateway:  a.gw,
		Notifier: a.notices,
		Identity: a.identity,
	}, screen.Options{
		Role:     status.Role(a.cfg.Viewer.Role),
		Location: a.loc,
		Width:    a.cfg.Thread.Width,
		Pipeline: pipeline.Options{
			Placeholder:       a.cfg.Thread.AttachmentPlaceholder,
			ReconcileTextOnly: a.cfg.Thread.ReconcileTextOnly,
		},
	}, kind, id)
}

// parseKind accepts "request", "requests", "grievance" or "grievances".
func parseKind(s string) (types.CaseKind, error) {
	kind := types.CaseKind(strings.TrimSuffix(strings.ToLower(s), "s"))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown case kind %q (want request or grievance)", s)
	}
	return kind, nil
}

func parseCaseRef(args []string) (types.CaseKind, types.CaseID, error) {
	kind, err := parseKind(args[0])
	if err != nil {
		return "", "", err
	}
	id := strings.TrimPrefix(strings.TrimSpace(args[1]), "#")
	if id == "" {
		return "", "", fmt.Errorf("empty case id")
	}
	return kind, types.CaseID(id), nil
}
