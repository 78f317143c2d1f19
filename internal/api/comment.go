package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/user/casedesk/internal/types"
)

// SendComment posts one comment with its attachments as a single
// multipart request. The body is streamed so large files are never held
// in memory.
func (c *Client) SendComment(ctx context.Context, token string, kind types.CaseKind, id types.CaseID, content string, files []types.Upload) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeCommentForm(mw, token, kind, id, content, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(kind, "comment"), pr)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("send comment on %s %s: creating request: %w", kind, id, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.authorize(req, token)

	err = c.do(req, nil)
	// Unblock the writer if the transport gave up before reading the body.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return fmt.Errorf("send comment on %s %s: %w", kind, id, err)
	}
	return nil
}

func writeCommentForm(mw *multipart.Writer, token string, kind types.CaseKind, id types.CaseID, content string, files []types.Upload) error {
	fields := [][2]string{
		{"token", token},
		{kind.IDField(), string(id)},
		{"content", content},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	for _, up := range files {
		if err := writeFilePart(mw, up); err != nil {
			return fmt.Errorf("attaching %s: %w", up.File.Name, err)
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func writeFilePart(mw *multipart.Writer, up types.Upload) error {
	if up.Open == nil {
		return fmt.Errorf("no content source")
	}
	rc, err := up.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mimeType := up.File.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="documents"; filename="%s"`, quoteEscaper.Replace(up.File.Name)))
	h.Set("Content-Type", mimeType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, rc)
	return err
}
