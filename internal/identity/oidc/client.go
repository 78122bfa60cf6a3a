// Package oidc implements identity.Provider against an OpenID Connect issuer
// using the authorization code flow with PKCE and a loopback redirect.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
)

var (
	ErrMissingIDToken = errors.New("oidc: no id_token in token response")
	ErrStateMismatch  = errors.New("oidc: state mismatch")
	ErrNonceMismatch  = errors.New("oidc: nonce mismatch")
)

// Navigator sends the user agent to url. A CLI opens a browser or prints the
// link; tests follow it with an HTTP client.
type Navigator func(ctx context.Context, url string) error

// PrintNavigator writes the URL to w for the user to open.
func PrintNavigator(w io.Writer) Navigator {
	return func(_ context.Context, u string) error {
		_, err := fmt.Fprintf(w, "Open this link to continue:\n\n  %s\n\n", u)
		return err
	}
}

// Config holds the client registration.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// RedirectURL must be a loopback URL. Port 0 picks a free port per login.
	RedirectURL string
	Scopes      []string
	Navigator   Navigator
	Cache       *FileCache
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Now         func() time.Time
}

type session struct {
	account  *identity.Account
	idToken  string
	refresh  string
	expiry   time.Time
	byScopes map[string]*oauth2.Token
}

// Client is a single-user identity session.
type Client struct {
	cfg        Config
	oauth      oauth2.Config
	verifier   *oidc.IDTokenVerifier
	endSession string
	log        *slog.Logger

	events      identity.Events
	interacting atomic.Bool

	mu   sync.Mutex
	sess *session
}

var _ identity.Provider = (*Client)(nil)

// New discovers the issuer and restores any cached session.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc: issuer and client id are required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("oidc: redirect url is required")
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc: discover %s: %w", cfg.Issuer, err)
	}
	var meta struct {
		EndSession string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("oidc: read discovery document: %w", err)
	}

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}
	if cfg.Navigator == nil {
		cfg.Navigator = func(context.Context, string) error {
			return errors.New("oidc: no navigator configured")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier: provider.Verifier(&oidc.Config{
			ClientID: cfg.ClientID,
			Now:      cfg.Now,
		}),
		endSession: meta.EndSession,
		log:        logger.With("component", "oidc"),
	}
	c.restore()
	return c, nil
}

func (c *Client) restore() {
	if c.cfg.Cache == nil {
		return
	}
	entry, err := c.cfg.Cache.Load()
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("token cache unreadable", "error", err)
		}
		return
	}
	acct, err := accountFromIDToken(entry.IDToken)
	if err != nil {
		c.log.Warn("cached id token unusable", "error", err)
		return
	}
	s := &session{
		account:  acct,
		idToken:  entry.IDToken,
		refresh:  entry.RefreshToken,
		expiry:   entry.Expiry,
		byScopes: map[string]*oauth2.Token{},
	}
	if entry.AccessToken != "" {
		s.byScopes[scopeKey(entry.Scopes)] = &oauth2.Token{AccessToken: entry.AccessToken, Expiry: entry.Expiry}
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

func (c *Client) ctx(ctx context.Context) context.Context {
	if c.cfg.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
	}
	return ctx
}

func (c *Client) ActiveAccount() *identity.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.account
}

func (c *Client) AllAccounts() []*identity.Account {
	if a := c.ActiveAccount(); a != nil {
		return []*identity.Account{a}
	}
	return nil
}

func (c *Client) AddEventCallback(fn identity.EventCallback) func() {
	return c.events.Add(fn)
}

func (c *Client) InteractionInProgress() bool { return c.interacting.Load() }

// AcquireTokenSilent returns a cached token for the requested scopes or
// redeems the refresh token. A network refresh emits ACQUIRE_TOKEN_SUCCESS.
func (c *Client) AcquireTokenSilent(ctx context.Context, req identity.TokenRequest) (identity.TokenResult, error) {
	c.mu.Lock()
	s := c.sess
	if s == nil || (req.Account != nil && !identity.Same(req.Account, s.account)) {
		c.mu.Unlock()
		return identity.TokenResult{}, identity.ErrNoAccount
	}
	key := scopeKey(req.Scopes)
	if tok, ok := s.byScopes[key]; ok && !req.ForceRefresh && c.fresh(tok.Expiry) {
		res := c.result(s, tok, req.Scopes)
		c.mu.Unlock()
		return res, nil
	}
	refresh := s.refresh
	c.mu.Unlock()

	if refresh == "" {
		return identity.TokenResult{}, identity.ErrInteractionRequired
	}
	conf := c.oauth
	if len(req.Scopes) > 0 {
		conf.Scopes = req.Scopes
	}
	tok, err := conf.TokenSource(c.ctx(ctx), &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return identity.TokenResult{}, fmt.Errorf("%w: refresh: %w", identity.ErrInteractionRequired, err)
	}

	acct := s.account
	idToken := s.idToken
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		if _, err := c.verifier.Verify(c.ctx(ctx), raw); err != nil {
			return identity.TokenResult{}, fmt.Errorf("oidc: verify refreshed id token: %w", err)
		}
		if fresh, err := accountFromIDToken(raw); err == nil {
			acct, idToken = fresh, raw
		}
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return identity.TokenResult{}, identity.ErrNoAccount
	}
	s.account, s.idToken = acct, idToken
	if tok.RefreshToken != "" {
		s.refresh = tok.RefreshToken
	}
	s.byScopes[key] = tok
	res := c.result(s, tok, req.Scopes)
	c.mu.Unlock()

	c.persist(s, tok, req.Scopes)
	c.events.Emit(identity.Event{Type: identity.EventAcquireTokenSuccess, Account: acct})
	return res, nil
}

func (c *Client) fresh(expiry time.Time) bool {
	return expiry.IsZero() || c.cfg.Now().Add(time.Minute).Before(expiry)
}

func (c *Client) result(s *session, tok *oauth2.Token, scopes []string) identity.TokenResult {
	return identity.TokenResult{
		AccessToken: tok.AccessToken,
		IDToken:     s.idToken,
		ExpiresOn:   tok.Expiry,
		Scopes:      slices.Clone(scopes),
		Account:     s.account,
	}
}

// LoginRedirect runs the interactive flow and reports the outcome through
// LOGIN_SUCCESS / LOGIN_FAILURE events.
func (c *Client) LoginRedirect(ctx context.Context, req identity.LoginRequest) error {
	_, err := c.interactive(ctx, req, nil)
	return err
}

// LoginPopup runs the interactive flow with display=popup and returns the token.
func (c *Client) LoginPopup(ctx context.Context, req identity.LoginRequest) (identity.TokenResult, error) {
	res, err := c.interactive(ctx, req, map[string]string{"display": "popup"})
	if err != nil && errors.Is(err, context.Canceled) {
		return res, fmt.Errorf("%w: %w", identity.ErrPopupClosed, err)
	}
	return res, err
}

func (c *Client) interactive(ctx context.Context, req identity.LoginRequest, extra map[string]string) (identity.TokenResult, error) {
	if !c.interacting.CompareAndSwap(false, true) {
		return identity.TokenResult{}, identity.ErrInteractionInProgress
	}
	defer c.interacting.Store(false)

	res, err := c.authorize(ctx, req, extra)
	if err != nil {
		c.events.Emit(identity.Event{Type: identity.EventLoginFailure, Err: err})
		return identity.TokenResult{}, err
	}
	c.events.Emit(identity.Event{Type: identity.EventLoginSuccess, Account: res.Account})
	return res, nil
}

func (c *Client) authorize(ctx context.Context, req identity.LoginRequest, extra map[string]string) (identity.TokenResult, error) {
	cb, err := listenLoopback(c.cfg.RedirectURL)
	if err != nil {
		return identity.TokenResult{}, err
	}
	defer cb.Close()

	state, err := randomString(24)
	if err != nil {
		return identity.TokenResult{}, err
	}
	if req.State != "" {
		state = req.State + "." + state
	}
	nonce, err := randomString(24)
	if err != nil {
		return identity.TokenResult{}, err
	}
	verifier := oauth2.GenerateVerifier()

	conf := c.oauth
	conf.RedirectURL = cb.RedirectURL()
	if len(req.Scopes) > 0 {
		conf.Scopes = req.Scopes
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	for k, v := range extra {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	for k, v := range req.ExtraQueryParameters {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	if err := c.cfg.Navigator(ctx, conf.AuthCodeURL(state, opts...)); err != nil {
		return identity.TokenResult{}, fmt.Errorf("oidc: navigate: %w", err)
	}

	code, err := cb.Wait(ctx, state)
	if err != nil {
		return identity.TokenResult{}, err
	}

	tok, err := conf.Exchange(c.ctx(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return identity.TokenResult{}, fmt.Errorf("oidc: exchange code: %w", err)
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return identity.TokenResult{}, ErrMissingIDToken
	}
	idt, err := c.verifier.Verify(c.ctx(ctx), raw)
	if err != nil {
		return identity.TokenResult{}, fmt.Errorf("oidc: verify id token: %w", err)
	}
	if idt.Nonce != nonce {
		return identity.TokenResult{}, ErrNonceMismatch
	}
	acct, err := accountFromIDToken(raw)
	if err != nil {
		return identity.TokenResult{}, err
	}

	s := &session{
		account:  acct,
		idToken:  raw,
		refresh:  tok.RefreshToken,
		expiry:   tok.Expiry,
		byScopes: map[string]*oauth2.Token{scopeKey(conf.Scopes): tok},
	}
	c.mu.Lock()
	c.sess = s
	res := c.result(s, tok, conf.Scopes)
	c.mu.Unlock()

	c.persist(s, tok, conf.Scopes)
	c.log.Info("login complete", "account", acct.Key())
	return res, nil
}

// LogoutRedirect forgets the session and sends the user agent to the
// issuer's end-session endpoint when it has one.
func (c *Client) LogoutRedirect(ctx context.Context, req identity.LogoutRequest) error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Clear(); err != nil {
			c.log.Warn("token cache not cleared", "error", err)
		}
	}
	acct := req.Account
	if acct == nil && s != nil {
		acct = s.account
	}
	c.events.Emit(identity.Event{Type: identity.EventLogoutSuccess, Account: acct})

	if c.endSession == "" {
		return nil
	}
	u, err := url.Parse(c.endSession)
	if err != nil {
		return fmt.Errorf("oidc: end session endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	if req.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", req.PostLogoutRedirectURI)
	}
	if s != nil && s.idToken != "" {
		q.Set("id_token_hint", s.idToken)
	}
	u.RawQuery = q.Encode()
	return c.cfg.Navigator(ctx, u.String())
}

func (c *Client) persist(s *session, tok *oauth2.Token, scopes []string) {
	if c.cfg.Cache == nil {
		return
	}
	c.mu.Lock()
	entry := CacheEntry{
		IDToken:      s.idToken,
		RefreshToken: s.refresh,
		AccessToken:  tok.AccessToken,
		Expiry:       tok.Expiry,
		Scopes:       slices.Clone(scopes),
	}
	c.mu.Unlock()
	if err := c.cfg.Cache.Save(entry); err != nil {
		c.log.Warn("token cache not written", "error", err)
	}
}

func scopeKey(scopes []string) string {
	s := make([]string, 0, len(scopes))
	for _, v := range scopes {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			s = append(s, v)
		}
	}
	sort.Strings(s)
	return strings.Join(slices.Compact(s), " ")
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
