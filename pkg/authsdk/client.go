package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds any single call to the auth server.
const DefaultTimeout = 30 * time.Second

// Client talks to the PandaCare auth server. It owns no retry policy:
// callers decide whether and how often to retry.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the auth server at baseURL. A nil
// httpClient gets a default with a bounded timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
	}
}

// Refresh exchanges a refresh token for a new access/refresh pair. Any
// failure - network, non-200 status, missing fields - is a KindRefreshFailed
// AuthError; there is no partial success.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	err := c.postJSON(ctx, "/api/token/refresh", refreshRequest{RefreshToken: refreshToken}, &pair)
	if err != nil {
		if authErr, ok := err.(*AuthError); ok {
			return TokenPair{}, NewRefreshFailed(authErr.Description)
		}
		return TokenPair{}, NewRefreshFailed(err.Error())
	}

	if pair.Access == "" || pair.Refresh == "" {
		return TokenPair{}, NewRefreshFailed("refresh response missing access or refresh token")
	}

	return pair, nil
}

// Login authenticates with email/password and returns the token pair.
func (c *Client) Login(ctx context.Context, req LoginRequest) (TokenPair, error) {
	var pair TokenPair
	if err := c.postJSON(ctx, "/api/auth/login", req, &pair); err != nil {
		return TokenPair{}, err
	}
	if pair.Access == "" || pair.Refresh == "" {
		return TokenPair{}, NewAuthError(http.StatusBadGateway, KindInvalidToken,
			"login response missing access or refresh token")
	}
	return pair, nil
}

// Register creates an account and returns the initial token pair.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (TokenPair, error) {
	var pair TokenPair
	if err := c.postJSON(ctx, "/api/auth/register", req, &pair); err != nil {
		return TokenPair{}, err
	}
	if pair.Access == "" || pair.Refresh == "" {
		return TokenPair{}, NewAuthError(http.StatusBadGateway, KindInvalidToken,
			"register response missing access or refresh token")
	}
	return pair, nil
}

// postJSON issues one JSON POST and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// parseErrorResponse turns an HTTP error response into a typed AuthError.
func parseErrorResponse(statusCode int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Text() != "" {
		return NewAuthError(statusCode, KindInvalidToken, errResp.Text())
	}

	return NewAuthError(statusCode, KindInvalidToken,
		fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode)))
}
