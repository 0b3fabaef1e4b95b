// Package apiclient talks to the downstream resource API on behalf of an
// authenticated session. Requests carry the session's access token as a
// bearer credential; a 401 from downstream triggers at most one token
// refresh and one retry before the failure is surfaced.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PandaCare-A14/gateway/internal/gateway/authn"
	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/slogx"
)

// DefaultTimeout bounds a single downstream round trip.
const DefaultTimeout = 30 * time.Second

// Client issues authenticated requests against the resource API.
type Client struct {
	baseURL  string
	http     *http.Client
	refresh  authn.Refresher
	sessions *session.Manager
}

// New builds a client. httpClient may be nil, in which case a client
// with DefaultTimeout is used.
func New(baseURL string, httpClient *http.Client, refresh authn.Refresher, sessions *session.Manager) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		refresh:  refresh,
		sessions: sessions,
	}
}

// Response is the downstream reply with its body fully read, so callers
// never have to worry about closing anything.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Do issues one request with the session's access token. On a 401 the
// refresh token is spent exactly once: new pair stored atomically on the
// session, request retried with the new access token. A second 401 comes
// back to the caller as-is.
func (c *Client) Do(ctx context.Context, sess *session.Session, method, path string, query url.Values, body []byte) (*Response, error) {
	resp, err := c.send(ctx, sess.AccessToken, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || sess.RefreshToken == "" {
		return resp, nil
	}

	slogx.FromContext(ctx).Info("downstream rejected access token, refreshing",
		"method", method, "path", path)

	pair, err := c.refresh.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		return nil, err
	}
	if err := c.sessions.UpdateTokens(ctx, sess.ID, pair.Access, pair.Refresh, sess.UserID, sess.Role); err != nil {
		return nil, fmt.Errorf("apiclient: store refreshed tokens: %w", err)
	}
	sess.AccessToken = pair.Access
	sess.RefreshToken = pair.Refresh

	return c.send(ctx, pair.Access, method, path, query, body)
}

// GetJSON fetches path and decodes the 2xx body into out.
func (c *Client) GetJSON(ctx context.Context, sess *session.Session, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, sess, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// PostJSON sends in as a JSON body and decodes the 2xx reply into out.
func (c *Client) PostJSON(ctx context.Context, sess *session.Session, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
	}
	resp, err := c.Do(ctx, sess, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

func (c *Client) send(ctx context.Context, accessToken, method, path string, query url.Values, body []byte) (*Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// errorFromResponse turns a non-2xx downstream reply into an AuthError
// when it is an auth failure, or a generic error otherwise.
func errorFromResponse(resp *Response) error {
	var er authsdk.ErrorResponse
	detail := ""
	if json.Unmarshal(resp.Body, &er) == nil {
		detail = er.Text()
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return authsdk.NewAuthError(http.StatusUnauthorized, authsdk.KindInvalidToken, detail)
	case http.StatusForbidden:
		return authsdk.NewAuthError(http.StatusForbidden, authsdk.KindForbidden, detail)
	default:
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("apiclient: downstream returned %d: %s", resp.StatusCode, detail)
	}
}
