package types

import (
	"strings"
	"time"
)

// CaseKind selects which backend collection a case lives in.
type CaseKind string

const (
	KindRequest   CaseKind = "request"
	KindGrievance CaseKind = "grievance"
)

// Valid reports whether k is a known kind.
func (k CaseKind) Valid() bool {
	return k == KindRequest || k == KindGrievance
}

// IDField is the form/JSON field name the backend expects for the case id.
func (k CaseKind) IDField() string {
	return string(k) + "_id"
}

type CaseStatus string

const (
	StatusPending    CaseStatus = "pending"
	StatusInProgress CaseStatus = "in_progress"
	StatusResolved   CaseStatus = "resolved"
	StatusRejected   CaseStatus = "rejected"
	StatusCancelled  CaseStatus = "cancelled"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Case is a request or grievance together with its discussion thread.
type Case struct {
	ID             CaseID     `json:"id"`
	Kind           CaseKind   `json:"kind"`
	Status         CaseStatus `json:"status"`
	NatureLabel    string     `json:"nature_label"`
	Description    string     `json:"description"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	SubmitterName  string     `json:"submitter_name,omitempty"`
	SubmitterEmail string     `json:"submitter_email,omitempty"`
	Comments       []Comment  `json:"comments"`
}

// Clone returns a copy whose comment slice (and each comment's attachment
// slice) can be modified without touching c.
func (c Case) Clone() Case {
	out := c
	out.Comments = CloneComments(c.Comments)
	return out
}

type Comment struct {
	ID                CommentID           `json:"id"`
	Text              string              `json:"text"`
	AuthorID          string              `json:"author_id"`
	AuthorName        string              `json:"author_name"`
	AuthorEmail       string              `json:"author_email"`
	CreatedAt         time.Time           `json:"created_at"`
	IsCounterpartRole bool                `json:"is_counterpart_role"`
	Attachments       []CommentAttachment `json:"attachments"`
}

// Provisional reports whether the comment has not been confirmed by the server.
func (c Comment) Provisional() bool {
	return c.ID.IsTemp()
}

func CloneComments(in []Comment) []Comment {
	if in == nil {
		return nil
	}
	out := make([]Comment, len(in))
	for i, c := range in {
		out[i] = c
		if c.Attachments != nil {
			out[i].Attachments = append([]CommentAttachment(nil), c.Attachments...)
		}
	}
	return out
}

type CommentAttachment struct {
	ID          string    `json:"id"`
	SourceURI   string    `json:"source_uri"`
	DisplayName string    `json:"display_name"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// IsLocal reports whether the attachment still points at a device path
// rather than a server URL.
func (a CommentAttachment) IsLocal() bool {
	return !strings.HasPrefix(a.SourceURI, "http://") && !strings.HasPrefix(a.SourceURI, "https://")
}

type FileKind string

const (
	FileImage    FileKind = "image"
	FileDocument FileKind = "document"
)

// StagedFile is a locally picked file waiting to be sent. Never persisted.
type StagedFile struct {
	URI       string   `json:"uri"`
	Name      string   `json:"name"`
	MimeType  string   `json:"mime_type"`
	Kind      FileKind `json:"kind"`
	SizeBytes *int64   `json:"size_bytes,omitempty"`
}

// User is the signed-in person viewing a thread.
type User struct {
	EmployeeID string `json:"employee_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
}

// IsCounterpartRole maps a raw backend role to the "other side" of an
// employee conversation. Display only; never a permission check.
func IsCounterpartRole(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "hr", "admin":
		return true
	}
	return false
}
