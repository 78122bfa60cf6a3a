// Package directory resolves a user's mailbox address from the organisation
// directory when the sign-in token only carries a synthetic one.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoEmail is returned when the directory record carries no address.
var ErrNoEmail = errors.New("directory: no email on record")

// Client reads the signed-in user's directory record.
type Client struct {
	baseURL string
	base    *http.Client
}

// New returns a client rooted at baseURL, e.g. https://graph.microsoft.com/v1.0.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), base: hc}
}

type meRecord struct {
	Mail              string   `json:"mail"`
	OtherMails        []string `json:"otherMails"`
	UserPrincipalName string   `json:"userPrincipalName"`
}

// Email returns mail, then the first other mail, then the user principal name.
func (c *Client) Email(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/me?$select=mail,otherMails,userPrincipalName", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("directory: status %d", resp.StatusCode)
	}

	var rec meRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return "", fmt.Errorf("decode directory record: %w", err)
	}
	if m := strings.TrimSpace(rec.Mail); m != "" {
		return m, nil
	}
	for _, m := range rec.OtherMails {
		if m = strings.TrimSpace(m); m != "" {
			return m, nil
		}
	}
	if upn := strings.TrimSpace(rec.UserPrincipalName); upn != "" {
		return upn, nil
	}
	return "", ErrNoEmail
}
