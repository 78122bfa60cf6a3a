// Package sessionapi calls the DWS auth endpoints on behalf of a signed-in user.
package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrUnauthorized = errors.New("sessionapi: unauthorized")
	ErrUnavailable  = errors.New("sessionapi: unavailable")
)

// Me mirrors the /api/auth/me response body.
type Me struct {
	ID                  string   `json:"id"`
	Subject             string   `json:"subject"`
	Email               string   `json:"email"`
	Name                string   `json:"name"`
	ProgressiveRole     string   `json:"progressive_role"`
	Segment             string   `json:"segment"`
	Domain              string   `json:"domain,omitempty"`
	ResponsibilityRoles []string `json:"responsibility_roles"`
	Roles               []string `json:"roles"`
	Capabilities        []string `json:"capabilities"`
	Persisted           bool     `json:"persisted"`
}

// Client talks to a DWS API base URL.
type Client struct {
	baseURL string
	base    *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client used under the bearer wrapper.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.base = hc
		}
	}
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		base:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me fetches the caller's server-side view.
func (c *Client) Me(ctx context.Context, accessToken string) (Me, error) {
	var me Me
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", accessToken, &me); err != nil {
		return Me{}, err
	}
	return me, nil
}

// Logout asks the server to invalidate the presented token.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", accessToken, nil)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: base URL not configured", ErrUnavailable)
	}
	if strings.TrimSpace(accessToken) == "" {
		return ErrUnauthorized
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, readError(resp.Body))
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, readError(resp.Body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func readError(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
