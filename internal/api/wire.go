package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/user/casedesk/internal/types"
)

type caseDetailResponse struct {
	Case *caseDTO `json:"case"`
}

type caseListResponse struct {
	Cases []caseDTO `json:"cases"`
}

type userInfoResponse struct {
	User *userDTO `json:"user"`
}

type caseDTO struct {
	ID          flexID    `json:"id"`
	Status      string    `json:"status"`
	Nature      string    `json:"nature"`
	Description string    `json:"description"`
	CreatedAt   flexTime  `json:"created_at"`
	UpdatedAt   flexTime  `json:"updated_at"`
	Submitter   *userDTO  `json:"submitter"`
	Comments    []wrapper `json:"comments"`
}

// wrapper is the per-item envelope the backend puts around each comment.
type wrapper struct {
	Comment *commentDTO `json:"comment"`
}

type commentDTO struct {
	ID        flexID        `json:"id"`
	Content   string        `json:"content"`
	CreatedAt flexTime      `json:"created_at"`
	User      *userDTO      `json:"user"`
	Documents []documentDTO `json:"documents"`
}

type documentDTO struct {
	ID           flexID   `json:"id"`
	Document     string   `json:"document"`
	DocumentName string   `json:"document_name"`
	UploadedAt   flexTime `json:"uploaded_at"`
}

type userDTO struct {
	EmployeeID flexID `json:"employee_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
}

func (d caseDTO) toCase(kind types.CaseKind, baseURL string) types.Case {
	c := types.Case{
		ID:          types.CaseID(d.ID),
		Kind:        kind,
		Status:      types.CaseStatus(strings.ToLower(strings.TrimSpace(d.Status))),
		NatureLabel: d.Nature,
		Description: d.Description,
		CreatedAt:   time.Time(d.CreatedAt),
		UpdatedAt:   time.Time(d.UpdatedAt),
	}
	if d.Submitter != nil {
		c.SubmitterName = d.Submitter.FullName
		c.SubmitterEmail = d.Submitter.Email
	}
	if d.Comments != nil {
		c.Comments = make([]types.Comment, 0, len(d.Comments))
	}
	for _, w := range d.Comments {
		if w.Comment == nil {
			continue
		}
		c.Comments = append(c.Comments, w.Comment.toComment(baseURL))
	}
	return c
}

func (d commentDTO) toComment(baseURL string) types.Comment {
	c := types.Comment{
		ID:        types.CommentID(d.ID),
		Text:      normalizeContent(d.Content),
		CreatedAt: time.Time(d.CreatedAt),
	}
	if d.User != nil {
		c.AuthorID = string(d.User.EmployeeID)
		c.AuthorName = d.User.FullName
		c.AuthorEmail = d.User.Email
		c.IsCounterpartRole = types.IsCounterpartRole(d.User.Role)
	}
	for _, doc := range d.Documents {
		c.Attachments = append(c.Attachments, types.CommentAttachment{
			ID:          string(doc.ID),
			SourceURI:   resolveURL(baseURL, doc.Document),
			DisplayName: documentName(doc),
			UploadedAt:  time.Time(doc.UploadedAt),
		})
	}
	return c
}

func (d userDTO) toUser() types.User {
	return types.User{
		EmployeeID: string(d.EmployeeID),
		FullName:   d.FullName,
		Email:      d.Email,
		Role:       d.Role,
	}
}

func documentName(doc documentDTO) string {
	if doc.DocumentName != "" {
		return doc.DocumentName
	}
	p := doc.Document
	if u, err := url.Parse(p); err == nil {
		p = u.Path
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// resolveURL turns a server-relative media path into an absolute URL.
func resolveURL(baseURL, ref string) string {
	if ref == "" || baseURL == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	base, err := url.Parse(baseURL + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// flexID accepts ids sent as either JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexTime accepts RFC 3339 timestamps as well as the zone-less forms some
// backend serializers emit, which are read as UTC.
type flexTime time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			*f = flexTime{}
			return nil
		}
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		*f = flexTime{}
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		return err
	}
	*f = flexTime(t)
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
