package thread

import (
	"errors"
	"fmt"
	"sort"

	"github.com/user/casedesk/internal/types"
)

var (
	ErrNoCase         = errors.New("no case loaded")
	ErrNotProvisional = errors.New("comment id is not provisional")
	ErrDuplicateID    = errors.New("comment id already in thread")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMismatchedCase = errors.New("event is for a different case")
)

// State is everything the thread subsystem owns for one open case.
type State struct {
	Case *types.Case
	// InFlight holds temp ids whose sends have not resolved yet.
	InFlight map[types.CommentID]bool
	// PendingStatus is the target of a confirmed, unresolved status change.
	PendingStatus types.CaseStatus
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{PendingStatus: s.PendingStatus}
	if s.Case != nil {
		c := s.Case.Clone()
		out.Case = &c
	}
	out.InFlight = make(map[types.CommentID]bool, len(s.InFlight))
	for id := range s.InFlight {
		out.InFlight[id] = true
	}
	return out
}

// Reduce applies ev to s and returns the next state. s is never modified.
// Removing or reconciling an id that is no longer present is not an error:
// a full replace may already have dropped it.
func Reduce(s State, ev Event) (State, error) {
	next := s.Clone()

	if _, ok := ev.(CaseLoaded); !ok && next.Case == nil {
		return s, ErrNoCase
	}

	switch ev := ev.(type) {
	case CaseLoaded:
		c := ev.Case.Clone()
		next.Case = &c
		next.InFlight = map[types.CommentID]bool{}
		next.PendingStatus = ""

	case SendRequested:
		if !ev.Comment.ID.IsTemp() {
			return s, fmt.Errorf("%w: %s", ErrNotProvisional, ev.Comment.ID)
		}
		comments, err := appendComment(next.Case.Comments, ev.Comment)
		if err != nil {
			return s, err
		}
		next.Case.Comments = comments
		next.InFlight[ev.Comment.ID] = true

	case SendSucceeded:
		delete(next.InFlight, ev.TempID)

	case SendFailed:
		next.Case.Comments = removeComment(next.Case.Comments, ev.TempID)
		delete(next.InFlight, ev.TempID)

	case ThreadReconciled:
		delete(next.InFlight, ev.TempID)
		next.Case.Comments = replaceAll(next.Case.Comments, ev.Comments, next.InFlight)

	case StatusUpdateConfirmed:
		next.PendingStatus = ev.Target

	case StatusUpdated:
		next.Case.Status = ev.Status
		if !ev.UpdatedAt.IsZero() {
			next.Case.UpdatedAt = ev.UpdatedAt
		}
		next.PendingStatus = ""

	case StatusUpdateFailed:
		next.PendingStatus = ""

	case CaseRefreshed:
		if ev.Case.ID != next.Case.ID {
			return s, fmt.Errorf("%w: %s", ErrMismatchedCase, ev.Case.ID)
		}
		comments := next.Case.Comments
		refreshed := ev.Case.Clone()
		refreshed.Comments = comments
		next.Case = &refreshed

	case ThreadRefreshed:
		if ev.Case.ID != next.Case.ID {
			return s, fmt.Errorf("%w: %s", ErrMismatchedCase, ev.Case.ID)
		}
		refreshed := ev.Case.Clone()
		refreshed.Comments = replaceAll(next.Case.Comments, ev.Case.Comments, next.InFlight)
		next.Case = &refreshed

	default:
		return s, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return next, nil
}

// appendComment adds c at the end; local inserts are ordered by issue time.
func appendComment(list []types.Comment, c types.Comment) ([]types.Comment, error) {
	for _, existing := range list {
		if existing.ID == c.ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
	}
	return append(list, c), nil
}

// removeComment drops the comment with exactly id and nothing else.
func removeComment(list []types.Comment, id types.CommentID) []types.Comment {
	out := list[:0:0]
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// replaceAll installs the server list, ordered by CreatedAt, followed by
// provisional comments that are still in flight.
func replaceAll(current, server []types.Comment, inFlight map[types.CommentID]bool) []types.Comment {
	out := types.CloneComments(server)
	if out == nil {
		out = []types.Comment{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	for _, c := range current {
		if inFlight[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
