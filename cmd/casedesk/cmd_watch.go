package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/casedesk/internal/scheduler"
	"github.com/user/casedesk/internal/screen"
	"github.com/user/casedesk/internal/state"
	"github.com/user/casedesk/internal/types"
	"github.com/user/casedesk/internal/webhook"
	"golang.org/x/sync/singleflight"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchAddCmd, watchListCmd, watchRemoveCmd, watchEnableCmd, watchDisableCmd, watchRunCmd)

	watchAddCmd.Flags().String("schedule", "", "cron schedule (default from config)")
}

func watchStore() *state.WatchStore {
	cfg := loadConfig()
	return state.NewWatchStore(cfg.WatchesPath())
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage cases refreshed on a schedule",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <kind> <id>",
	Short: "Watch a case",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseCaseRef(args)
		if err != nil {
			return err
		}
		schedule, _ := cmd.Flags().GetString("schedule")
		if schedule == "" {
			schedule = loadConfig().Watch.Schedule
		}
		if err := scheduler.ValidSchedule(schedule); err != nil {
			return err
		}

		w := &state.Watch{Kind: kind, Case: id, Schedule: schedule, Enabled: true}
		if err := watchStore().Add(w); err != nil {
			return fmt.Errorf("add watch: %w", err)
		}
		fmt.Printf("Watching %s (%s).\n", w.Name(), w.Schedule)
		return nil
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched cases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watches, err := watchStore().List()
		if err != nil {
			return fmt.Errorf("list watches: %w", err)
		}
		if len(watches) == 0 {
			fmt.Println("No watched cases.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CASE\tSCHEDULE\tENABLED\tADDED")
		for _, wt := range watches {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n",
				wt.Name(),
				wt.Schedule,
				wt.Enabled,
				wt.AddedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <kind> <id>",
	Short: "Stop watching a case",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateWatch(args, "removed", func(s *state.WatchStore, name string) error {
			return s.Remove(name)
		})
	},
}

var watchEnableCmd = &cobra.Command{
	Use:   "enable <kind> <id>",
	Short: "Resume a paused watch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateWatch(args, "enabled", func(s *state.WatchStore, name string) error {
			return s.SetEnabled(name, true)
		})
	},
}

var watchDisableCmd = &cobra.Command{
	Use:   "disable <kind> <id>",
	Short: "Pause a watch without removing it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateWatch(args, "disabled", func(s *state.WatchStore, name string) error {
			return s.SetEnabled(name, false)
		})
	},
}

func updateWatch(args []string, verb string, fn func(*state.WatchStore, string) error) error {
	kind, id, err := parseCaseRef(args)
	if err != nil {
		return err
	}
	name := state.WatchName(kind, id)
	if err := fn(watchStore(), name); err != nil {
		return fmt.Errorf("watch %s: %w", name, err)
	}
	fmt.Printf("Watch %s %s.\n", name, verb)
	if err := signalDaemon(syscall.SIGHUP); err == nil {
		fmt.Println("Running watcher reloaded.")
	}
	return nil
}

var watchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh every watched case on its schedule until stopped",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		pidPath, err := writePIDFile(a.cfg.DataDir)
		if err != nil {
			return err
		}
		defer os.Remove(pidPath)

		return runWatches(ctx, a, state.NewWatchStore(a.cfg.WatchesPath()), true)
	},
}

var caseWatchCmd = &cobra.Command{
	Use:   "watch <kind> <id>",
	Short: "Reprint a case whenever its thread changes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseCaseRef(args)
		if err != nil {
			return err
		}
		schedule, _ := cmd.Flags().GetString("schedule")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if schedule == "" {
			schedule = a.cfg.Watch.Schedule
		}
		if err := scheduler.ValidSchedule(schedule); err != nil {
			return err
		}

		// A one-off store keeps this watch out of the persistent list.
		dir, err := os.MkdirTemp("", "casedesk-watch-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		store := state.NewWatchStore(filepath.Join(dir, "watches.json"))
		if err := store.Add(&state.Watch{Kind: kind, Case: id, Schedule: schedule, Enabled: true}); err != nil {
			return err
		}
		return runWatches(ctx, a, store, false)
	},
}

// watcher keeps one open screen per watched case and prints the thread
// whenever a refresh changes it.
type watcher struct {
	app     *app
	opening singleflight.Group

	mu      sync.Mutex
	screens map[string]*screen.Screen
	seen    map[string]string
}

func (w *watcher) refresh(ctx context.Context, wt *state.Watch) error {
	name := wt.Name()
	w.mu.Lock()
	s, ok := w.screens[name]
	w.mu.Unlock()

	if !ok {
		// Cron and the webhook may race to open the same case.
		v, err, _ := w.opening.Do(name, func() (any, error) {
			opened, err := w.app.openScreen(ctx, wt.Kind, wt.Case)
			if err != nil {
				return nil, err
			}
			w.mu.Lock()
			w.screens[name] = opened
			w.mu.Unlock()
			return opened, nil
		})
		if err != nil {
			return err
		}
		s = v.(*screen.Screen)
	} else if err := s.Refresh(ctx); err != nil {
		if errors.Is(err, screen.ErrSendsInFlight) {
			return fmt.Errorf("%w: %v", scheduler.ErrSkipped, err)
		}
		return err
	}

	sig := fingerprint(s.Store.Case())
	w.mu.Lock()
	changed := w.seen[name] != sig
	w.seen[name] = sig
	w.mu.Unlock()
	if !changed {
		return nil
	}

	fmt.Printf("\n── %s · %s ──\n", name, time.Now().In(w.app.loc).Format("15:04:05"))
	return s.Render(os.Stdout)
}

// fingerprint changes whenever the status or the comment list does.
func fingerprint(c *types.Case) string {
	if c == nil {
		return ""
	}
	last := ""
	if n := len(c.Comments); n > 0 {
		last = string(c.Comments[n-1].ID)
	}
	return fmt.Sprintf("%s|%d|%s|%d", c.Status, len(c.Comments), last, c.UpdatedAt.UnixNano())
}

func runWatches(ctx context.Context, a *app, store *state.WatchStore, daemon bool) error {
	w := &watcher{
		app:     a,
		screens: make(map[string]*screen.Screen),
		seen:    make(map[string]string),
	}

	// Print the initial state straight away rather than waiting a tick.
	watches, err := store.List()
	if err != nil {
		return fmt.Errorf("list watches: %w", err)
	}
	for _, wt := range watches {
		if !wt.Enabled {
			continue
		}
		if err := w.refresh(ctx, wt); err != nil {
			slog.Warn("initial refresh failed", "watch", wt.Name(), "error", err)
		}
	}

	sched := scheduler.New(store, w.refresh)
	n, err := sched.Start(ctx)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	if n == 0 {
		return fmt.Errorf("no enabled watches")
	}
	slog.Info("watching cases", "count", n)

	if a.sink != nil && daemon {
		viewer, err := a.identity.Viewer(ctx, a.loc)
		if err != nil {
			return err
		}
		a.sink.EnableCommands(a.client, a.tokens, viewer)
		go a.sink.Start(ctx)
		slog.Info("telegram commands enabled")
	}

	if a.cfg.HTTP.Enabled && daemon {
		srv := &http.Server{
			Addr:    a.cfg.HTTP.Listen,
			Handler: webhook.NewServer(store, a.log, w.refresh, a.cfg.HTTP.Secret),
		}
		go func() {
			slog.Info("webhook server started", "listen", a.cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("webhook server error", "error", err)
			}
		}()
		defer srv.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			n, err := sched.Reload()
			if err != nil {
				slog.Error("reload watches failed", "error", err)
				continue
			}
			slog.Info("watches reloaded", "count", n)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
