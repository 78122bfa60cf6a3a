package authview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/sessionapi"
)

type fakeProvider struct {
	mu      sync.Mutex
	active  *identity.Account
	events  identity.Events
	pending atomic.Bool

	redirectErr   error
	redirectGate  chan struct{}
	popupErr      error
	popupAccount  *identity.Account
	tokenErr      error
	redirectCalls atomic.Int32
	popupCalls    atomic.Int32
	tokenCalls    atomic.Int32
	loginReqs     []identity.LoginRequest
	logoutReqs    []identity.LogoutRequest
}

func (p *fakeProvider) ActiveAccount() *identity.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakeProvider) AllAccounts() []*identity.Account {
	if a := p.ActiveAccount(); a != nil {
		return []*identity.Account{a}
	}
	return nil
}

func (p *fakeProvider) setActive(a *identity.Account) {
	p.mu.Lock()
	p.active = a
	p.mu.Unlock()
}

func (p *fakeProvider) AcquireTokenSilent(_ context.Context, req identity.TokenRequest) (identity.TokenResult, error) {
	p.tokenCalls.Add(1)
	if p.tokenErr != nil {
		return identity.TokenResult{}, p.tokenErr
	}
	return identity.TokenResult{AccessToken: "access-token", Account: req.Account}, nil
}

func (p *fakeProvider) LoginRedirect(ctx context.Context, req identity.LoginRequest) error {
	p.redirectCalls.Add(1)
	p.mu.Lock()
	p.loginReqs = append(p.loginReqs, req)
	gate := p.redirectGate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.redirectErr
}

func (p *fakeProvider) LoginPopup(context.Context, identity.LoginRequest) (identity.TokenResult, error) {
	p.popupCalls.Add(1)
	if p.popupErr != nil {
		return identity.TokenResult{}, p.popupErr
	}
	return identity.TokenResult{AccessToken: "popup-token", Account: p.popupAccount}, nil
}

func (p *fakeProvider) LogoutRedirect(_ context.Context, req identity.LogoutRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logoutReqs = append(p.logoutReqs, req)
	return nil
}

func (p *fakeProvider) AddEventCallback(fn identity.EventCallback) func() {
	return p.events.Add(fn)
}

func (p *fakeProvider) InteractionInProgress() bool { return p.pending.Load() }

// fakeStore wraps a MemoryStore with injectable failures and a read gate.
type fakeStore struct {
	*profile.MemoryStore
	readErr  error
	rolesErr error
	readGate chan struct{}
	reads    atomic.Int32
	upserts  atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: profile.NewMemoryStore()}
}

func (s *fakeStore) Read(ctx context.Context, id string) (profile.Row, error) {
	s.reads.Add(1)
	if s.readGate != nil {
		select {
		case <-s.readGate:
		case <-ctx.Done():
			return profile.Row{}, ctx.Err()
		}
	}
	if s.readErr != nil {
		return profile.Row{}, s.readErr
	}
	return s.MemoryStore.Read(ctx, id)
}

func (s *fakeStore) Upsert(ctx context.Context, row profile.Row) error {
	s.upserts.Add(1)
	return s.MemoryStore.Upsert(ctx, row)
}

func (s *fakeStore) ResponsibilityRoles(ctx context.Context, id string) ([]string, error) {
	if s.rolesErr != nil {
		return nil, s.rolesErr
	}
	return s.MemoryStore.ResponsibilityRoles(ctx, id)
}

type fakeEmails struct {
	email string
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeEmails) Email(ctx context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.email, f.err
}

type fakeAPI struct {
	mu         sync.Mutex
	logoutErr  error
	logoutToks []string
	meCalls    atomic.Int32
}

func (f *fakeAPI) Me(context.Context, string) (sessionapi.Me, error) {
	f.meCalls.Add(1)
	return sessionapi.Me{ID: "server-id"}, nil
}

func (f *fakeAPI) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutToks = append(f.logoutToks, token)
	return f.logoutErr
}

var errStoreDown = errors.New("store unavailable")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jane() *identity.Account {
	return &identity.Account{
		ID:             "home-jane",
		LocalAccountID: "oid-jane",
		Username:       "jane@digitalqatalyst.com",
		Name:           "Jane Doe",
		IDTokenClaims: identity.Claims{
			"name":  "Jane Doe",
			"email": "jane@digitalqatalyst.com",
			"oid":   "oid-jane",
		},
	}
}

func newTestBuilder(t *testing.T, p *fakeProvider, s *fakeStore, mutate ...func(*Options)) *Builder {
	t.Helper()
	opts := Options{
		Provider:  p,
		Store:     s,
		SignInURL: "https://intranet.example.com/signin",
		Logger:    quietLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}
