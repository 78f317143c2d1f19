package thread

import (
	"time"

	"github.com/user/casedesk/internal/types"
)

// Event is a command or outcome applied to the thread state.
type Event interface {
	Name() string
}

// CaseLoaded installs a freshly fetched case, replacing whatever was held.
type CaseLoaded struct {
	Case types.Case
}

// SendRequested inserts a provisional comment before its upload starts.
type SendRequested struct {
	Comment types.Comment
}

// SendSucceeded marks a text-only send as delivered; the provisional
// comment stays in place.
type SendSucceeded struct {
	TempID types.CommentID
}

// SendFailed rolls back the provisional comment with TempID.
type SendFailed struct {
	TempID types.CommentID
	Err    error
}

// ThreadReconciled replaces the comment list with the server's after a
// send identified by TempID. Comments of other sends still in flight are
// carried over.
type ThreadReconciled struct {
	TempID   types.CommentID
	Comments []types.Comment
}

// StatusUpdateConfirmed records that the user confirmed a status change
// and the request is on its way.
type StatusUpdateConfirmed struct {
	Target types.CaseStatus
}

// StatusUpdated applies a server-accepted status.
type StatusUpdated struct {
	Status    types.CaseStatus
	UpdatedAt time.Time
}

// StatusUpdateFailed clears the pending status change; status is untouched.
type StatusUpdateFailed struct {
	Target types.CaseStatus
	Err    error
}

// CaseRefreshed updates case metadata from a refetch without touching the
// comment list.
type CaseRefreshed struct {
	Case types.Case
}

// ThreadRefreshed installs a background refetch of the whole case.
// Provisional comments still in flight and a pending status change are
// kept.
type ThreadRefreshed struct {
	Case types.Case
}

func (CaseLoaded) Name() string            { return "case_loaded" }
func (SendRequested) Name() string         { return "send_requested" }
func (SendSucceeded) Name() string         { return "send_succeeded" }
func (SendFailed) Name() string            { return "send_failed" }
func (ThreadReconciled) Name() string      { return "thread_reconciled" }
func (StatusUpdateConfirmed) Name() string { return "status_update_confirmed" }
func (StatusUpdated) Name() string         { return "status_updated" }
func (StatusUpdateFailed) Name() string    { return "status_update_failed" }
func (CaseRefreshed) Name() string         { return "case_refreshed" }
func (ThreadRefreshed) Name() string       { return "thread_refreshed" }
