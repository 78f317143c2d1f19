// Package transcript projects a raw comment list into the ordered rows a
// chat view renders: date separators interleaved with aligned messages.
package transcript

import (
	"time"

	"github.com/user/casedesk/internal/types"
)

// Entry is one rendered row. It is either a DateSeparator or a CommentEntry.
type Entry interface {
	entry()
}

// DateSeparator is a non-interactive row announcing a new calendar day.
type DateSeparator struct {
	Label      string
	AnchorDate time.Time
}

// CommentEntry is a message row.
type CommentEntry struct {
	Comment   types.Comment
	// LocalTime is the comment's CreatedAt in the viewer's location.
	LocalTime time.Time
	Alignment Alignment
	Role      Role
	// ShowBadge is set for counterpart-role messages from someone else.
	ShowBadge bool
}

func (DateSeparator) entry() {}
func (CommentEntry) entry()  {}

// Alignment is where a message is drawn, derived from the author's email.
type Alignment string

const (
	AlignSelf  Alignment = "self"
	AlignOther Alignment = "other"
)

// Role says which side of the conversation wrote a message. It is derived
// from the author's backend role and is independent of Alignment.
type Role string

const (
	RoleSubmitter   Role = "submitter"
	RoleCounterpart Role = "counterpart"
)

func RoleOf(c types.Comment) Role {
	if c.IsCounterpartRole {
		return RoleCounterpart
	}
	return RoleSubmitter
}
