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

func guest() *identity.Account {
	return &identity.Account{
		ID:       "home-guest",
		Username: "jane_gmail.com#EXT#@contoso.onmicrosoft.com",
		IDTokenClaims: identity.Claims{
			"name":               "Jane Guest",
			"preferred_username": "jane_gmail.com#EXT#@contoso.onmicrosoft.com",
		},
	}
}

func TestEmailUpgradeApplied(t *testing.T) {
	p := &fakeProvider{active: guest()}
	s := newFakeStore()
	emails := &fakeEmails{email: "jane@gmail.com"}
	b := newTestBuilder(t, p, s, func(o *Options) {
		o.EmailFallback = true
		o.Emails = emails
		o.EmailScopes = []string{"User.Read"}
	})

	require.NoError(t, b.Resolve(context.Background()))
	b.Wait()

	assert.Equal(t, int32(1), emails.calls.Load())
	vm := b.Current()
	require.NotNil(t, vm.UserContext)
	assert.Equal(t, "jane@gmail.com", vm.UserContext.Email)
	assert.Equal(t, "jane@gmail.com", vm.Profile.Email)

	// Later passes keep the upgraded address and persist it.
	require.NoError(t, b.Resolve(context.Background()))
	b.Wait()
	assert.Equal(t, "jane@gmail.com", b.Current().UserContext.Email)
	row, err := s.MemoryStore.Read(context.Background(), ids.StableID("home-guest"))
	require.NoError(t, err)
	assert.Equal(t, "jane@gmail.com", row.Email)
	assert.Equal(t, int32(1), emails.calls.Load())
}

func TestEmailUpgradeRejectsSyntheticResult(t *testing.T) {
	emails := &fakeEmails{email: "3f2504e0-4f89-41d3-9a0c-0305e82c3301@contoso.com"}
	b := newTestBuilder(t, &fakeProvider{active: guest()}, newFakeStore(), func(o *Options) {
		o.EmailFallback = true
		o.Emails = emails
	})

	require.NoError(t, b.Resolve(context.Background()))
	b.Wait()
	assert.Equal(t, "jane_gmail.com#EXT#@contoso.onmicrosoft.com", b.Current().UserContext.Email)
}

func TestEmailUpgradeSwallowsErrors(t *testing.T) {
	p := &fakeProvider{active: guest(), tokenErr: errors.New("consent required")}
	emails := &fakeEmails{email: "jane@gmail.com"}
	b := newTestBuilder(t, p, newFakeStore(), func(o *Options) {
		o.EmailFallback = true
		o.Emails = emails
	})

	require.NoError(t, b.Resolve(context.Background()))
	b.Wait()
	assert.Zero(t, emails.calls.Load())
	assert.NotNil(t, b.Current().UserContext)
}

func TestEmailUpgradeDisabled(t *testing.T) {
	emails := &fakeEmails{email: "jane@gmail.com"}
	b := newTestBuilder(t, &fakeProvider{active: guest()}, newFakeStore(), func(o *Options) {
		o.Emails = emails
	})

	require.NoError(t, b.Resolve(context.Background()))
	b.Wait()
	assert.Zero(t, emails.calls.Load())
}

func TestEmailUpgradeSkipsRealAddress(t *testing.T) {
	emails := &fakeEmails{email: "other@example.com"}
	b := newTestBuilder(t, &fakeProvider{active: jane()}, newFakeStore(), func(o *Options) {
		o.EmailFallback = true
		o.Emails = emails
	})

	require.NoError(t, b.Resolve(context.Background()))
	b.Wait()
	assert.Zero(t, emails.calls.Load())
}

func TestEmailUpgradeCancelledWhenAccountChanges(t *testing.T) {
	p := &fakeProvider{active: guest()}
	emails := &fakeEmails{email: "jane@gmail.com", gate: make(chan struct{})}
	b := newTestBuilder(t, p, newFakeStore(), func(o *Options) {
		o.EmailFallback = true
		o.Emails = emails
	})

	require.NoError(t, b.Resolve(context.Background()))
	require.Eventually(t, func() bool { return emails.calls.Load() == 1 }, time.Second, time.Millisecond)

	p.setActive(jane())
	require.NoError(t, b.Resolve(context.Background()))
	close(emails.gate)
	b.Wait()

	vm := b.Current()
	assert.Equal(t, ids.StableID("home-jane"), vm.UserContext.ID)
	assert.Equal(t, "jane@digitalqatalyst.com", vm.UserContext.Email)
	assert.Nil(t, b.upgraded.Load())
}

func TestSessionProbeRunsOncePerAccount(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBuilder(t, &fakeProvider{active: jane()}, newFakeStore(), func(o *Options) { o.API = api })

	require.NoError(t, b.Resolve(context.Background()))
	require.NoError(t, b.Resolve(context.Background()))
	b.Wait()
	assert.Equal(t, int32(1), api.meCalls.Load())
}
