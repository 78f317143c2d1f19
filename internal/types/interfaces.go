package types

import (
	"context"
	"io"
)

// TokenSource yields the bearer session token. Login and token
// persistence live outside this module.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Upload is one file part of a comment send.
type Upload struct {
	File StagedFile
	Open func() (io.ReadCloser, error)
}

// CaseAPI is the network boundary used by the thread subsystem.
type CaseAPI interface {
	FetchCase(ctx context.Context, token string, kind CaseKind, id CaseID) (*Case, error)
	ListCases(ctx context.Context, token string, kind CaseKind) ([]Case, error)
	SendComment(ctx context.Context, token string, kind CaseKind, id CaseID, content string, files []Upload) error
	UpdateStatus(ctx context.Context, token string, kind CaseKind, id CaseID, status CaseStatus) error
	CurrentUser(ctx context.Context, token string) (*User, error)
}

// StaticToken is a TokenSource over a fixed token, used by the CLI.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
