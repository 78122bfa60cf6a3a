package authview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/ids"
)

func TestLoginRedirect(t *testing.T) {
	p := &fakeProvider{}
	b := newTestBuilder(t, p, newFakeStore(), func(o *Options) {
		o.LoginScopes = []string{"openid", "profile"}
	})

	require.NoError(t, b.Login(context.Background()))
	assert.Equal(t, int32(1), p.redirectCalls.Load())
	assert.Zero(t, p.popupCalls.Load())
	assert.Equal(t, []string{"openid", "profile"}, p.loginReqs[0].Scopes)
}

func TestLoginIgnoredWhileInteractionPending(t *testing.T) {
	p := &fakeProvider{redirectGate: make(chan struct{})}
	b := newTestBuilder(t, p, newFakeStore())

	first := make(chan error, 1)
	go func() { first <- b.Login(context.Background()) }()
	require.Eventually(t, func() bool { return p.redirectCalls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, b.Login(context.Background()))
	close(p.redirectGate)
	require.NoError(t, <-first)

	assert.Equal(t, int32(1), p.redirectCalls.Load())
	assert.Zero(t, p.popupCalls.Load())
}

func TestLoginIgnoredWhenProviderBusy(t *testing.T) {
	p := &fakeProvider{}
	p.pending.Store(true)
	b := newTestBuilder(t, p, newFakeStore())

	require.NoError(t, b.Login(context.Background()))
	assert.Zero(t, p.redirectCalls.Load())
}

func TestLoginFallsBackToPopup(t *testing.T) {
	p := &fakeProvider{redirectErr: errors.New("navigation blocked"), popupAccount: jane()}
	b := newTestBuilder(t, p, newFakeStore())

	require.NoError(t, b.Login(context.Background()))
	b.Wait()
	assert.Equal(t, int32(1), p.popupCalls.Load())
	require.NotNil(t, b.Current().UserContext)
	assert.Equal(t, ids.StableID("home-jane"), b.Current().UserContext.ID)
}

func TestLoginDoubleFailure(t *testing.T) {
	p := &fakeProvider{
		redirectErr: errors.New("navigation blocked"),
		popupErr:    errors.New("popup window was blocked by the browser"),
	}
	b := newTestBuilder(t, p, newFakeStore())

	err := b.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Contains(t, err.Error(), "popup window was blocked by the browser")

	// The guard is released after a failure.
	p.redirectErr = nil
	require.NoError(t, b.Login(context.Background()))
	assert.Equal(t, int32(2), p.redirectCalls.Load())
}

func TestSignupCarriesMarker(t *testing.T) {
	p := &fakeProvider{}
	b := newTestBuilder(t, p, newFakeStore())

	require.NoError(t, b.Signup(context.Background()))
	require.Len(t, p.loginReqs, 1)
	assert.Equal(t, SignupState, p.loginReqs[0].State)
	assert.Equal(t, "create", p.loginReqs[0].Prompt)
}

func TestLogoutCallsServerThenRedirects(t *testing.T) {
	p := &fakeProvider{active: jane()}
	api := &fakeAPI{}
	b := newTestBuilder(t, p, newFakeStore(), func(o *Options) { o.API = api })

	require.NoError(t, b.Logout(context.Background()))
	assert.Equal(t, []string{"access-token"}, api.logoutToks)
	require.Len(t, p.logoutReqs, 1)
	assert.Equal(t, "https://intranet.example.com/signin", p.logoutReqs[0].PostLogoutRedirectURI)
	assert.True(t, identity.Same(jane(), p.logoutReqs[0].Account))
}

func TestLogoutRedirectsWhenServerFails(t *testing.T) {
	p := &fakeProvider{active: jane()}
	api := &fakeAPI{logoutErr: errors.New("503")}
	b := newTestBuilder(t, p, newFakeStore(), func(o *Options) { o.API = api })

	require.NoError(t, b.Logout(context.Background()))
	assert.Len(t, p.logoutReqs, 1)

	p.tokenErr = identity.ErrInteractionRequired
	require.NoError(t, b.Logout(context.Background()))
	assert.Len(t, p.logoutReqs, 2)
	assert.Len(t, api.logoutToks, 1)
}

func TestActionsAfterClose(t *testing.T) {
	b := newTestBuilder(t, &fakeProvider{}, newFakeStore())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Login(context.Background()), ErrClosed)
	assert.ErrorIs(t, b.Signup(context.Background()), ErrClosed)
	assert.ErrorIs(t, b.Logout(context.Background()), ErrClosed)
	assert.ErrorIs(t, b.Start(context.Background()), ErrClosed)
}
