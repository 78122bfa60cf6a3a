package authview

import (
	"context"
	"fmt"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/obs"
)

// SignupState marks a login request that should branch to account creation.
const SignupState = "signup"

// Login starts an interactive login. It is a no-op while another interaction
// is in flight. A failed redirect falls back to a popup; only when both fail
// is an error returned.
func (b *Builder) Login(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	if !b.beginInteraction() {
		b.log.Warn("login ignored: an interaction is already in progress")
		obs.ObserveLogin("redirect", "skipped")
		return nil
	}
	defer b.interacting.Store(false)

	req := identity.LoginRequest{Scopes: cloneScopes(b.opts.LoginScopes)}
	redirectErr := b.opts.Provider.LoginRedirect(ctx, req)
	if redirectErr == nil {
		obs.ObserveLogin("redirect", "ok")
		return nil
	}
	obs.ObserveLogin("redirect", "error")
	b.log.Warn("redirect login failed, falling back to popup", "error", redirectErr)

	res, popupErr := b.opts.Provider.LoginPopup(ctx, req)
	if popupErr != nil {
		obs.ObserveLogin("popup", "error")
		b.log.Error("popup login failed", "error", popupErr)
		return fmt.Errorf("%w: %w", ErrLoginFailed, popupErr)
	}
	obs.ObserveLogin("popup", "ok")
	if res.Account != nil {
		b.spawnResolve(res.Account, "login_popup")
	}
	return nil
}

// Signup starts a redirect login flagged for account creation. Provider
// failures are logged, not returned.
func (b *Builder) Signup(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	if !b.beginInteraction() {
		b.log.Warn("signup ignored: an interaction is already in progress")
		return nil
	}
	defer b.interacting.Store(false)

	err := b.opts.Provider.LoginRedirect(ctx, identity.LoginRequest{
		Scopes: cloneScopes(b.opts.LoginScopes),
		State:  SignupState,
		Prompt: "create",
	})
	if err != nil {
		obs.ObserveLogin("signup", "error")
		b.log.Error("signup redirect failed", "error", err)
		return nil
	}
	obs.ObserveLogin("signup", "ok")
	return nil
}

// Logout invalidates the server session on a best-effort basis, then always
// performs the provider logout redirect to the sign-in route.
func (b *Builder) Logout(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	acct := identity.Current(b.opts.Provider)
	if b.opts.API != nil && acct != nil {
		b.serverLogout(ctx, acct)
	}

	err := b.opts.Provider.LogoutRedirect(ctx, identity.LogoutRequest{
		Account:               acct,
		PostLogoutRedirectURI: b.opts.SignInURL,
	})
	if err != nil {
		b.log.Error("logout redirect failed", "error", err)
	}
	return nil
}

func (b *Builder) serverLogout(ctx context.Context, acct *identity.Account) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.LogoutTimeout)
	defer cancel()
	token, err := b.apiToken(ctx, acct)
	if err != nil {
		b.log.Warn("server logout skipped: no token", "error", err)
		return
	}
	if err := b.opts.API.Logout(ctx, token); err != nil {
		b.log.Warn("server logout failed", "error", err)
	}
}

func (b *Builder) beginInteraction() bool {
	if b.opts.Provider.InteractionInProgress() {
		return false
	}
	return b.interacting.CompareAndSwap(false, true)
}
