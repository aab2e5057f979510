// Package telephony is a minimal REST client for the call-control side
// of the telephony provider. Sentra only ever needs one operation:
// terminating a call once a machine has been detected.
package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client issues call-control commands against the provider REST API.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a provider client authenticated with account
// credentials.
func NewClient(accountSID, authToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether credentials are present. When they are
// not, hangup commands are skipped rather than failed.
func (c *Client) Configured() bool {
	return c.accountSID != "" && c.authToken != ""
}

// Hangup transitions the call to completed at the provider, ending it
// for all parties.
func (c *Client) Hangup(ctx context.Context, callSID string) error {
	if !c.Configured() {
		return fmt.Errorf("telephony: hangup %s: credentials not configured", callSID)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)
	form := url.Values{"Status": {"completed"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: build hangup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: hangup %s: %w", callSID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telephony: hangup %s: status %d: %s", callSID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
