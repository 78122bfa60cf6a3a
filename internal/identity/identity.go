// Package identity describes the identity-provider session as seen by the
// authorization view-model builder.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNoAccount             = errors.New("identity: no active account")
	ErrInteractionRequired   = errors.New("identity: interaction required")
	ErrInteractionInProgress = errors.New("identity: interaction in progress")
	ErrPopupClosed           = errors.New("identity: popup closed before completion")
)

// Claims is the decoded ID-token claim set.
type Claims map[string]any

// String returns the trimmed string value of key, or "".
func (c Claims) String(key string) string {
	if c == nil {
		return ""
	}
	v, ok := c[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Strings returns key as a string slice. A lone string yields a one-element slice.
func (c Claims) Strings(key string) []string {
	if c == nil {
		return nil
	}
	switch v := c[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// Account is the provider's live representation of the signed-in principal.
type Account struct {
	ID             string
	LocalAccountID string
	TenantID       string
	Username       string
	Name           string
	IDTokenClaims  Claims
}

// AccountID derives the home account id from ID-token claims: "<oid>.<tid>"
// lowercased when both are present, else sub, else oid.
func AccountID(oid, tid, sub string) string {
	oid, tid, sub = strings.TrimSpace(oid), strings.TrimSpace(tid), strings.TrimSpace(sub)
	switch {
	case oid != "" && tid != "":
		return strings.ToLower(oid + "." + tid)
	case sub != "":
		return sub
	}
	return oid
}

// Key is the identifier the storage id is derived from.
func (a *Account) Key() string {
	if a == nil {
		return ""
	}
	if id := strings.TrimSpace(a.ID); id != "" {
		return id
	}
	return strings.TrimSpace(a.LocalAccountID)
}

// Same reports whether two accounts refer to the same principal.
func Same(a, b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return strings.EqualFold(a.Key(), b.Key())
}

// TokenRequest asks the provider for an access token without user interaction.
type TokenRequest struct {
	Scopes       []string
	Account      *Account
	ForceRefresh bool
}

// TokenResult is a token issued by the provider.
type TokenResult struct {
	AccessToken string
	IDToken     string
	ExpiresOn   time.Time
	Scopes      []string
	Account     *Account
}

// LoginRequest parameterises an interactive login.
type LoginRequest struct {
	Scopes    []string
	State     string
	Prompt    string
	LoginHint string
	// ExtraQueryParameters are appended to the authorization URL.
	ExtraQueryParameters map[string]string
}

// LogoutRequest parameterises an interactive logout.
type LogoutRequest struct {
	Account               *Account
	PostLogoutRedirectURI string
}

// Provider is the identity-provider session consumed by the builder.
type Provider interface {
	ActiveAccount() *Account
	AllAccounts() []*Account
	AcquireTokenSilent(ctx context.Context, req TokenRequest) (TokenResult, error)
	LoginRedirect(ctx context.Context, req LoginRequest) error
	LoginPopup(ctx context.Context, req LoginRequest) (TokenResult, error)
	LogoutRedirect(ctx context.Context, req LogoutRequest) error
	AddEventCallback(fn EventCallback) (remove func())
	InteractionInProgress() bool
}

// Current returns the active account, or the first cached account when none is active.
func Current(p Provider) *Account {
	if p == nil {
		return nil
	}
	if acct := p.ActiveAccount(); acct != nil {
		return acct
	}
	if all := p.AllAccounts(); len(all) > 0 {
		return all[0]
	}
	return nil
}
