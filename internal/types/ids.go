package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CaseID string
type CommentID string
type JobID string
type LaneKey string

// tempPrefix marks comment ids that were generated locally and never
// confirmed by the server.
const tempPrefix = "temp-"

// NewTempCommentID returns a provisional comment id. The nanosecond
// timestamp keeps ids readable in logs; the random suffix keeps two sends
// issued in the same instant from colliding.
func NewTempCommentID(now time.Time) CommentID {
	return CommentID(fmt.Sprintf("%s%d-%s", tempPrefix, now.UnixNano(), uuid.New().String()))
}

// IsTemp reports whether the id belongs to a provisional comment.
func (id CommentID) IsTemp() bool {
	return strings.HasPrefix(string(id), tempPrefix)
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// NewLaneKey joins parts with ":" (e.g. "request:42:comments").
func NewLaneKey(parts ...string) LaneKey {
	return LaneKey(strings.Join(parts, ":"))
}
