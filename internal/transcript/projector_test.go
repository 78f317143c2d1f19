package transcript

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/casedesk/internal/types"
)

var now = time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)

func comment(id string, at time.Time, email string, counterpart bool) types.Comment {
	return types.Comment{
		ID:                types.CommentID(id),
		Text:              "msg " + id,
		AuthorName:        "Author " + id,
		AuthorEmail:       email,
		CreatedAt:         at,
		IsCounterpartRole: counterpart,
	}
}

func viewer() Viewer {
	return Viewer{Email: "me@corp.test", Location: time.UTC}
}

func TestDayLabels(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"now", now, "Today"},
		{"early today", time.Date(2026, 10, 18, 0, 0, 1, 0, time.UTC), "Today"},
		{"20h ago crosses midnight", now.Add(-20 * time.Hour), "Yesterday"},
		{"3 days ago", now.AddDate(0, 0, -3), "Thursday"},
		{"6 days ago", now.AddDate(0, 0, -6), "Monday"},
		{"7 days ago", now.AddDate(0, 0, -7), "11 October 2026"},
		{"10 days ago", now.AddDate(0, 0, -10), "8 October 2026"},
		{"tomorrow", now.AddDate(0, 0, 1), "19 October 2026"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DayLabel(tt.at, now, time.UTC))
		})
	}
}

func TestDayLabelUsesViewerLocation(t *testing.T) {
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "Yesterday", DayLabel(at, now, time.UTC))
	assert.Equal(t, "Today", DayLabel(at, now, plus2))
}

func TestProjectOrdersAndSeparates(t *testing.T) {
	in := []types.Comment{
		comment("3", now.Add(-1*time.Hour), "hr@corp.test", true),
		comment("1", now.AddDate(0, 0, -10), "me@corp.test", false),
		comment("2", now.Add(-20*time.Hour), "hr@corp.test", true),
		comment("4", now, "me@corp.test", false),
	}

	out := Project(in, viewer(), now)

	var shape []string
	for _, e := range out {
		switch e := e.(type) {
		case DateSeparator:
			shape = append(shape, "sep:"+e.Label)
		case CommentEntry:
			shape = append(shape, "c:"+string(e.Comment.ID))
		}
	}
	assert.Equal(t, []string{
		"sep:8 October 2026", "c:1",
		"sep:Yesterday", "c:2",
		"sep:Today", "c:3", "c:4",
	}, shape)

	// input order untouched
	assert.Equal(t, types.CommentID("3"), in[0].ID)
}

func TestProjectMonotonic(t *testing.T) {
	var in []types.Comment
	for i := 0; i < 40; i++ {
		// scatter across the last 20 days, deliberately unsorted
		offset := time.Duration((i*7)%40) * 12 * time.Hour
		in = append(in, comment(string(rune('a'+i%26))+string(rune('0'+i/26)), now.Add(-offset), "x@corp.test", false))
	}

	out := Project(in, viewer(), now)

	var last time.Time
	var pendingSep *DateSeparator
	for _, e := range out {
		switch e := e.(type) {
		case DateSeparator:
			sep := e
			pendingSep = &sep
		case CommentEntry:
			require.False(t, e.Comment.CreatedAt.Before(last), "transcript went back in time")
			last = e.Comment.CreatedAt
			if pendingSep != nil {
				assert.Equal(t, DayLabel(e.Comment.CreatedAt, now, time.UTC), pendingSep.Label)
				assert.True(t, pendingSep.AnchorDate.Equal(startOfDay(e.Comment.CreatedAt)))
				pendingSep = nil
			}
		}
	}
}

func TestProjectIdempotent(t *testing.T) {
	in := []types.Comment{
		comment("a", now.AddDate(0, 0, -2), "me@corp.test", false),
		comment("b", now.AddDate(0, 0, -2), "hr@corp.test", true),
		comment("c", now.Add(-time.Minute), "hr@corp.test", true),
	}
	first := Project(in, viewer(), now)
	second := Project(in, viewer(), now)
	assert.Equal(t, first, second)

	p := NewProjector(viewer())
	p.Now = func() time.Time { return now }
	assert.Equal(t, first, p.Project(in))
}

func TestProjectEqualTimestampsKeepInputOrder(t *testing.T) {
	in := []types.Comment{
		comment("x", now, "a@corp.test", false),
		comment("y", now, "b@corp.test", false),
	}
	out := Project(in, viewer(), now)
	require.Len(t, out, 3)
	assert.Equal(t, types.CommentID("x"), out[1].(CommentEntry).Comment.ID)
	assert.Equal(t, types.CommentID("y"), out[2].(CommentEntry).Comment.ID)
}

func TestProjectEmpty(t *testing.T) {
	assert.Empty(t, Project(nil, viewer(), now))
}

func TestAlignmentSelfIgnoresRole(t *testing.T) {
	mine := comment("1", now, "Me@Corp.test", true)
	out := Project([]types.Comment{mine}, viewer(), now)
	e := out[1].(CommentEntry)
	assert.Equal(t, AlignSelf, e.Alignment)
	assert.Equal(t, RoleCounterpart, e.Role)
	assert.False(t, e.ShowBadge)
}

func TestAlignmentCounterpartBadge(t *testing.T) {
	theirs := comment("1", now, "hr@corp.test", true)
	out := Project([]types.Comment{theirs}, viewer(), now)
	e := out[1].(CommentEntry)
	assert.Equal(t, AlignOther, e.Alignment)
	assert.Equal(t, RoleCounterpart, e.Role)
	assert.True(t, e.ShowBadge)
}

func TestAlignmentOtherSubmitterNoBadge(t *testing.T) {
	theirs := comment("1", now, "colleague@corp.test", false)
	e := Project([]types.Comment{theirs}, viewer(), now)[1].(CommentEntry)
	assert.Equal(t, AlignOther, e.Alignment)
	assert.Equal(t, RoleSubmitter, e.Role)
	assert.False(t, e.ShowBadge)
}

func TestAlignmentUnknownViewer(t *testing.T) {
	c := comment("1", now, "", false)
	assert.Equal(t, AlignOther, Align(c, ""))
}

func TestRender(t *testing.T) {
	mine := comment("temp-1-x", now, "me@corp.test", false)
	mine.Attachments = []types.CommentAttachment{{DisplayName: "receipt.pdf", SourceURI: "/tmp/receipt.pdf"}}
	theirs := comment("2", now.Add(-time.Minute), "hr@corp.test", true)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Project([]types.Comment{mine, theirs}, viewer(), now), 60))
	out := buf.String()

	assert.Contains(t, out, "── Today ──")
	assert.Contains(t, out, "Author 2 [HR] · 14:59")
	assert.Contains(t, out, "You · 15:00 · sending")
	assert.Contains(t, out, "📎 receipt.pdf")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "You ·") {
			assert.True(t, strings.HasPrefix(line, " "), "self message should be right-aligned")
		}
	}
}

func TestRenderUsesViewerLocation(t *testing.T) {
	athens := time.FixedZone("UTC+2", 2*60*60)
	late := time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC)
	c := comment("5", late, "hr@corp.test", true)

	entries := Project([]types.Comment{c}, Viewer{Email: "me@corp.test", Location: athens}, now)
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, entries, 60))
	out := buf.String()

	assert.Contains(t, out, "── Today ──")
	assert.Contains(t, out, "Author 5 [HR] · 01:30")
	assert.NotContains(t, out, "23:30")
}
