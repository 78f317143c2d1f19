// Package delivery routes user-visible notices (failed sends, status
// changes, refetch problems) to the sinks that show them.
package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/casedesk/internal/types"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Topics used by the thread subsystem.
const (
	TopicSendFailed      = "send.failed"
	TopicReconcileFailed = "send.reconcile_failed"
	TopicStatusUpdated   = "status.updated"
	TopicStatusFailed    = "status.failed"
	TopicCaseRefreshed   = "case.refreshed"
)

// Notice is one message for the user about a case.
type Notice struct {
	Topic string
	Level Level
	Kind  types.CaseKind
	Case  types.CaseID
	Text  string
	At    time.Time
}

func (n Notice) String() string {
	if n.Case == "" {
		return n.Text
	}
	return fmt.Sprintf("[%s %s] %s", n.Kind, n.Case, n.Text)
}

// Handler shows a notice somewhere.
type Handler func(n Notice) error

// Notifier accepts notices. Delivery problems are the notifier's concern.
type Notifier interface {
	Notify(n Notice)
}

// Registry fans notices out to every handler whose topic prefix matches.
// The empty prefix matches every topic.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

var _ Notifier = (*Registry)(nil)

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]Handler),
	}
}

// Register adds a handler for topics starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = append(r.handlers[prefix], handler)
}

// Deliver calls every matching handler, in prefix order. It returns an
// error if no handler matched or any handler failed.
func (r *Registry) Deliver(n Notice) error {
	if n.At.IsZero() {
		n.At = time.Now()
	}

	r.mu.RLock()
	prefixes := make([]string, 0, len(r.handlers))
	for prefix := range r.handlers {
		if strings.HasPrefix(n.Topic, prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	sort.Strings(prefixes)
	var matched []Handler
	for _, prefix := range prefixes {
		matched = append(matched, r.handlers[prefix]...)
	}
	r.mu.RUnlock()

	if len(matched) == 0 {
		return fmt.Errorf("no delivery handler for topic: %s", n.Topic)
	}
	var errs []error
	for _, h := range matched {
		if err := h(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify delivers n and logs any failure.
func (r *Registry) Notify(n Notice) {
	if err := r.Deliver(n); err != nil {
		slog.Warn("notice delivery failed", "topic", n.Topic, "case", n.Case, "error", err)
	}
}
