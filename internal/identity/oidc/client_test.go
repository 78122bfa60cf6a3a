package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/auth"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
)

type fakeIssuer struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu         sync.Mutex
	authorize  url.Values
	challenge  string
	nonce      string
	refreshes  atomic.Int32
	refreshTok string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeIssuer{t: t, key: key, refreshTok: "refresh-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("/authorize", f.authorizeHandler)
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/keys", f.keys)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIssuer) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"issuer":                                f.srv.URL,
		"authorization_endpoint":                f.srv.URL + "/authorize",
		"token_endpoint":                        f.srv.URL + "/token",
		"jwks_uri":                              f.srv.URL + "/keys",
		"end_session_endpoint":                  f.srv.URL + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIssuer) keys(w http.ResponseWriter, _ *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": "k1",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
}

func (f *fakeIssuer) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.authorize = q
	f.challenge = q.Get("code_challenge")
	f.nonce = q.Get("nonce")
	f.mu.Unlock()

	back, _ := url.Parse(q.Get("redirect_uri"))
	v := url.Values{"state": {q.Get("state")}}
	if q.Get("login_hint") == "deny" {
		v.Set("error", "access_denied")
		v.Set("error_description", "user cancelled")
	} else {
		v.Set("code", "code-1")
	}
	back.RawQuery = v.Encode()
	http.Redirect(w, r, back.String(), http.StatusFound)
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Form.Get("grant_type") {
	case "authorization_code":
		sum := sha256.Sum256([]byte(r.Form.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != f.challenge {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": f.refreshTok,
			"id_token":      f.idToken(f.nonce),
		})
	case "refresh_token":
		if r.Form.Get("refresh_token") != f.refreshTok {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		n := f.refreshes.Add(1)
		f.refreshTok = "refresh-rotated"
		writeJSON(w, map[string]any{
			"access_token":  "graph-" + string(rune('0'+n)),
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": f.refreshTok,
		})
	default:
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
	}
}

func (f *fakeIssuer) idToken(nonce string) string {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                f.srv.URL,
		"aud":                "dws-cli",
		"sub":                "sub-1",
		"oid":                "oid-1",
		"tid":                "tid-1",
		"name":               "Jane Doe",
		"preferred_username": "jane@digitalqatalyst.com",
		"nonce":              nonce,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(f.key)
	require.NoError(f.t, err)
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type browser struct {
	mu      sync.Mutex
	visited []string
}

// navigate follows authorization URLs like a user agent and records the rest.
func (b *browser) navigate(ctx context.Context, u string) error {
	b.mu.Lock()
	b.visited = append(b.visited, u)
	b.mu.Unlock()
	if !strings.Contains(u, "/authorize") {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (b *browser) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visited[len(b.visited)-1]
}

func newTestClient(t *testing.T, f *fakeIssuer, cache *FileCache) (*Client, *browser) {
	t.Helper()
	br := &browser{}
	c, err := New(context.Background(), Config{
		Issuer:      f.srv.URL,
		ClientID:    "dws-cli",
		RedirectURL: "http://127.0.0.1:0/callback",
		Navigator:   br.navigate,
		Cache:       cache,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c, br
}

func TestLoginRedirectCompletesCodeFlow(t *testing.T) {
	f := newFakeIssuer(t)
	cache := NewFileCache(filepath.Join(t.TempDir(), "token.json"))
	c, _ := newTestClient(t, f, cache)

	var events []identity.Event
	var mu sync.Mutex
	c.AddEventCallback(func(e identity.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	err := c.LoginRedirect(context.Background(), identity.LoginRequest{State: "signup", Prompt: "create"})
	require.NoError(t, err)

	acct := c.ActiveAccount()
	require.NotNil(t, acct)
	assert.Equal(t, "oid-1.tid-1", acct.ID)
	assert.Equal(t, "oid-1", acct.LocalAccountID)
	assert.Equal(t, "jane@digitalqatalyst.com", acct.Username)
	assert.False(t, c.InteractionInProgress())

	f.mu.Lock()
	q := f.authorize
	f.mu.Unlock()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "create", q.Get("prompt"))
	assert.True(t, strings.HasPrefix(q.Get("state"), "signup."))
	assert.Empty(t, q.Get("display"))

	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, identity.EventLoginSuccess, events[0].Type)
	mu.Unlock()

	entry, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", entry.RefreshToken)
}

func TestLoginPopupRequestsPopupDisplay(t *testing.T) {
	f := newFakeIssuer(t)
	c, _ := newTestClient(t, f, nil)

	res, err := c.LoginPopup(context.Background(), identity.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, "access-1", res.AccessToken)
	assert.NotEmpty(t, res.IDToken)
	assert.Equal(t, "oid-1.tid-1", res.Account.ID)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "popup", f.authorize.Get("display"))
}

func TestLoginFailureEmitsEvent(t *testing.T) {
	f := newFakeIssuer(t)
	c, _ := newTestClient(t, f, nil)

	var failed atomic.Bool
	c.AddEventCallback(func(e identity.Event) {
		if e.Type == identity.EventLoginFailure {
			failed.Store(true)
		}
	})

	err := c.LoginRedirect(context.Background(), identity.LoginRequest{LoginHint: "deny"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
	assert.True(t, failed.Load())
	assert.Nil(t, c.ActiveAccount())
}

func TestAcquireTokenSilent(t *testing.T) {
	f := newFakeIssuer(t)
	c, _ := newTestClient(t, f, nil)

	_, err := c.AcquireTokenSilent(context.Background(), identity.TokenRequest{Scopes: []string{"User.Read"}})
	require.ErrorIs(t, err, identity.ErrNoAccount)

	require.NoError(t, c.LoginRedirect(context.Background(), identity.LoginRequest{}))

	var acquired atomic.Int32
	c.AddEventCallback(func(e identity.Event) {
		if e.Type == identity.EventAcquireTokenSuccess {
			acquired.Add(1)
		}
	})

	res, err := c.AcquireTokenSilent(context.Background(), identity.TokenRequest{
		Scopes:  []string{"User.Read"},
		Account: c.ActiveAccount(),
	})
	require.NoError(t, err)
	assert.Equal(t, "graph-1", res.AccessToken)

	again, err := c.AcquireTokenSilent(context.Background(), identity.TokenRequest{Scopes: []string{"user.read"}})
	require.NoError(t, err)
	assert.Equal(t, "graph-1", again.AccessToken)
	assert.Equal(t, int32(1), f.refreshes.Load())
	assert.Equal(t, int32(1), acquired.Load())

	_, err = c.AcquireTokenSilent(context.Background(), identity.TokenRequest{
		Account: &identity.Account{ID: "someone-else"},
	})
	assert.ErrorIs(t, err, identity.ErrNoAccount)
}

func TestSessionRestoredFromCache(t *testing.T) {
	f := newFakeIssuer(t)
	cache := NewFileCache(filepath.Join(t.TempDir(), "token.json"))
	first, _ := newTestClient(t, f, cache)
	require.NoError(t, first.LoginRedirect(context.Background(), identity.LoginRequest{}))

	second, _ := newTestClient(t, f, cache)
	acct := second.ActiveAccount()
	require.NotNil(t, acct)
	assert.True(t, identity.Same(first.ActiveAccount(), acct))
	assert.Equal(t, "Jane Doe", acct.IDTokenClaims.String("name"))
}

func TestLogoutRedirect(t *testing.T) {
	f := newFakeIssuer(t)
	cache := NewFileCache(filepath.Join(t.TempDir(), "token.json"))
	c, br := newTestClient(t, f, cache)
	require.NoError(t, c.LoginRedirect(context.Background(), identity.LoginRequest{}))

	var loggedOut atomic.Bool
	c.AddEventCallback(func(e identity.Event) {
		if e.Type == identity.EventLogoutSuccess {
			loggedOut.Store(true)
		}
	})

	require.NoError(t, c.LogoutRedirect(context.Background(), identity.LogoutRequest{
		PostLogoutRedirectURI: "http://localhost:8080/signin",
	}))
	assert.Nil(t, c.ActiveAccount())
	assert.True(t, loggedOut.Load())

	u, err := url.Parse(br.last())
	require.NoError(t, err)
	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, "http://localhost:8080/signin", u.Query().Get("post_logout_redirect_uri"))
	assert.NotEmpty(t, u.Query().Get("id_token_hint"))

	_, err = cache.Load()
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "openid user.read", scopeKey([]string{"User.Read", " openid", "user.read", ""}))
	assert.Equal(t, "", scopeKey(nil))
}

func TestLoopbackRejectsRemoteHost(t *testing.T) {
	_, err := listenLoopback("http://example.com:8765/callback")
	assert.Error(t, err)
	_, err = listenLoopback("https://127.0.0.1:0/callback")
	assert.Error(t, err)
}

func TestAccountIDWithoutTenantUsesSubject(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "sub-1",
		"oid": "oid-1",
	}).SignedString([]byte("unused"))
	require.NoError(t, err)

	acct, err := accountFromIDToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", acct.ID)
	assert.Equal(t, "oid-1", acct.LocalAccountID)
	assert.Equal(t, auth.Principal{Subject: "sub-1", ObjectID: "oid-1"}.AccountKey(), acct.ID)
}
