// Package api is the HTTP client for the employee-services backend: case
// detail, case lists, comment uploads, status updates and the signed-in
// user's profile.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/casedesk/internal/types"
)

// Config holds the connection settings for the backend.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client implements types.CaseAPI over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
}

var _ types.CaseAPI = (*Client)(nil)

// New creates a client. A zero Timeout uses 60 seconds; a timeout is
// reported like any other transport failure.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "casedesk/1.0"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (c *Client) endpoint(kind types.CaseKind, action string) string {
	return fmt.Sprintf("%s/api/%ss/%s/", c.config.BaseURL, kind, action)
}

// FetchCase returns the case with its full comment thread.
func (c *Client) FetchCase(ctx context.Context, token string, kind types.CaseKind, id types.CaseID) (*types.Case, error) {
	body := map[string]string{
		"token":        token,
		kind.IDField(): string(id),
	}
	var resp caseDetailResponse
	if err := c.postJSON(ctx, token, c.endpoint(kind, "detail"), body, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", kind, id, err)
	}
	if resp.Case == nil {
		return nil, fmt.Errorf("fetch %s %s: response has no case", kind, id)
	}
	out := resp.Case.toCase(kind, c.config.BaseURL)
	return &out, nil
}

// ListCases returns the caller's cases of one kind, without comments.
func (c *Client) ListCases(ctx context.Context, token string, kind types.CaseKind) ([]types.Case, error) {
	var resp caseListResponse
	if err := c.postJSON(ctx, token, c.endpoint(kind, "list"), map[string]string{"token": token}, &resp); err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, err)
	}
	out := make([]types.Case, 0, len(resp.Cases))
	for _, dto := range resp.Cases {
		out = append(out, dto.toCase(kind, c.config.BaseURL))
	}
	return out, nil
}

// UpdateStatus asks the backend to move the case to status.
func (c *Client) UpdateStatus(ctx context.Context, token string, kind types.CaseKind, id types.CaseID, status types.CaseStatus) error {
	body := map[string]string{
		"token":        token,
		kind.IDField(): string(id),
		"status":       string(status),
	}
	if err := c.postJSON(ctx, token, c.endpoint(kind, "update-status"), body, nil); err != nil {
		return fmt.Errorf("update %s %s status: %w", kind, id, err)
	}
	return nil
}

// CurrentUser returns the profile of the token's owner.
func (c *Client) CurrentUser(ctx context.Context, token string) (*types.User, error) {
	var resp userInfoResponse
	url := c.config.BaseURL + "/api/user/info/"
	if err := c.postJSON(ctx, token, url, map[string]string{"token": token}, &resp); err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	if resp.User == nil {
		return nil, fmt.Errorf("fetch user info: response has no user")
	}
	u := resp.User.toUser()
	return &u, nil
}

// postJSON sends body as JSON and decodes a 2xx response into out (when
// out is non-nil). Non-2xx responses become *Error.
func (c *Client) postJSON(ctx context.Context, token, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req, token)

	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.config.UserAgent)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
