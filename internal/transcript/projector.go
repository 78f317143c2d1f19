package transcript

import (
	"sort"
	"strings"
	"time"

	"github.com/user/casedesk/internal/types"
)

// Viewer is who is looking at the thread. Email is resolved once per
// session; Location decides where calendar days begin.
type Viewer struct {
	Email    string
	Location *time.Location
}

// Projector turns comments into entries. Now is injectable so labels are
// deterministic in tests.
type Projector struct {
	Viewer Viewer
	Now    func() time.Time
}

func NewProjector(viewer Viewer) *Projector {
	return &Projector{Viewer: viewer, Now: time.Now}
}

// Project sorts comments ascending by CreatedAt and inserts a separator
// whenever the day label changes. The input slice is not modified.
func (p *Projector) Project(comments []types.Comment) []Entry {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	return Project(comments, p.Viewer, now)
}

// Project is the pure form of Projector.Project.
func Project(comments []types.Comment, viewer Viewer, now time.Time) []Entry {
	loc := viewer.Location
	if loc == nil {
		loc = time.Local
	}

	sorted := make([]types.Comment, len(comments))
	copy(sorted, comments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	entries := make([]Entry, 0, len(sorted)+len(sorted)/2+1)
	lastLabel := ""
	for _, c := range sorted {
		label := DayLabel(c.CreatedAt, now, loc)
		if label != lastLabel {
			entries = append(entries, DateSeparator{Label: label, AnchorDate: startOfDay(c.CreatedAt.In(loc))})
			lastLabel = label
		}
		role := RoleOf(c)
		align := Align(c, viewer.Email)
		entries = append(entries, CommentEntry{
			Comment:   c,
			LocalTime: c.CreatedAt.In(loc),
			Alignment: align,
			Role:      role,
			ShowBadge: align == AlignOther && role == RoleCounterpart,
		})
	}
	return entries
}

// Align returns AlignSelf when the comment's author is the viewer.
func Align(c types.Comment, viewerEmail string) Alignment {
	v := strings.TrimSpace(viewerEmail)
	if v != "" && strings.EqualFold(strings.TrimSpace(c.AuthorEmail), v) {
		return AlignSelf
	}
	return AlignOther
}

// DayLabel names the calendar day of t relative to now: "Today",
// "Yesterday", a weekday within the trailing six days, else "2 January 2006".
func DayLabel(t, now time.Time, loc *time.Location) string {
	t = t.In(loc)
	days := calendarDaysBetween(t, now.In(loc))
	switch {
	case days == 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days > 1 && days <= 6:
		return t.Weekday().String()
	default:
		return t.Format("2 January 2006")
	}
}

// calendarDaysBetween counts midnights crossed going from t to now. Both
// values must already be in the same location.
func calendarDaysBetween(t, now time.Time) int {
	a := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
