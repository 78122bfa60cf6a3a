package authview

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/obs"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
)

// Resolve runs one resolution pass for the provider's current account and
// returns once the pass is complete. Responsibility roles, the profile upsert
// and the email upgrade continue in the background; see Wait.
func (b *Builder) Resolve(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	b.resolve(ctx, identity.Current(b.opts.Provider), "manual")
	return ctx.Err()
}

func (b *Builder) resolve(ctx context.Context, acct *identity.Account, trigger string) {
	if acct == nil || acct.Key() == "" {
		b.noteAccount(nil)
		if b.publish(ctx, nil) {
			b.markResolved()
		}
		obs.ObserveResolution(trigger, "no_session")
		return
	}

	b.noteAccount(acct)

	name, email := identity.Candidates(acct)
	id := Identity{ID: b.opts.StableID(acct.Key()), Email: email, Name: name}

	start := time.Now()
	res := profile.ReadResult(ctx, b.opts.Store, id.ID)
	outcome := "found"
	switch {
	case res.Found():
	case res.NotFound():
		outcome = "not_found"
	default:
		outcome = "degraded"
		b.log.Warn("profile read failed, using default user context", "user_id", id.ID, "error", res.Err)
	}
	obs.ObserveProfileRead(outcome, time.Since(start))

	uc := Defaultify(res, id)
	if !b.publish(ctx, uc) {
		obs.ObserveResolution(trigger, "cancelled")
		return
	}

	if res.Found() {
		b.spawn(func(root context.Context) {
			b.mergeResponsibilities(root, uc)
		})
	}

	row := profile.Row{
		ID:        id.ID,
		Email:     b.bestEmail(id.ID, email),
		Name:      name,
		Username:  strings.TrimSpace(acct.Username),
		AzureID:   azureID(acct),
		UpdatedAt: b.opts.Now(),
	}
	b.spawn(func(root context.Context) {
		b.upsert(root, row)
	})

	b.markResolved()
	obs.ObserveResolution(trigger, outcome)
}

func (b *Builder) mergeResponsibilities(ctx context.Context, uc *UserContext) {
	roles, err := b.opts.Store.ResponsibilityRoles(ctx, uc.ID)
	if err != nil {
		b.log.Warn("responsibility roles unavailable", "user_id", uc.ID, "error", err)
		return
	}
	merged := uc.clone()
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			merged.ResponsibilityRoles = append(merged.ResponsibilityRoles, r)
		}
	}
	b.publish(ctx, merged)
}

// upsert records the identity; its outcome never changes the published context.
func (b *Builder) upsert(ctx context.Context, row profile.Row) {
	if err := b.opts.Store.Upsert(ctx, row); err != nil {
		obs.ObserveProfileUpsert("error")
		if !errors.Is(err, context.Canceled) {
			b.log.Warn("profile upsert failed", "user_id", row.ID, "error", err)
		}
		return
	}
	obs.ObserveProfileUpsert("ok")
}

func (b *Builder) bestEmail(id, email string) string {
	if up := b.upgraded.Load(); up != nil && up.id == id && (email == "" || identity.LooksSynthetic(email)) {
		return up.email
	}
	return email
}

func azureID(acct *identity.Account) string {
	if oid := acct.IDTokenClaims.String("oid"); oid != "" {
		return oid
	}
	return strings.TrimSpace(acct.LocalAccountID)
}

// noteAccount bumps the generation when the signed-in principal changes,
// which cancels in-flight email upgrades, and starts the per-account side calls.
func (b *Builder) noteAccount(acct *identity.Account) {
	var key string
	if acct != nil {
		key = strings.ToLower(acct.Key())
	}
	prev := b.accountKey.Swap(&key)
	if prev != nil && *prev == key {
		return
	}
	gen := b.generation.Add(1)
	if acct == nil {
		return
	}
	if b.opts.API != nil {
		b.spawn(func(ctx context.Context) { b.probeSession(ctx, acct) })
	}
	if b.opts.EmailFallback && b.opts.Emails != nil {
		b.spawn(func(ctx context.Context) { b.upgradeEmail(ctx, acct, gen) })
	}
}

// upgradeEmail replaces a synthetic email with the directory's mailbox address.
// Every failure is swallowed.
func (b *Builder) upgradeEmail(ctx context.Context, acct *identity.Account, gen uint64) {
	_, email := identity.Candidates(acct)
	if !identity.LooksSynthetic(email) {
		return
	}
	tok, err := b.opts.Provider.AcquireTokenSilent(ctx, identity.TokenRequest{
		Scopes:  cloneScopes(b.opts.EmailScopes),
		Account: acct,
	})
	if err != nil {
		obs.ObserveEmailUpgrade("token_error")
		b.log.Debug("email upgrade: token unavailable", "error", err)
		return
	}
	better, err := b.opts.Emails.Email(ctx, tok.AccessToken)
	if err != nil {
		obs.ObserveEmailUpgrade("lookup_error")
		b.log.Debug("email upgrade: lookup failed", "error", err)
		return
	}
	better = strings.TrimSpace(better)
	if better == "" || identity.LooksSynthetic(better) {
		obs.ObserveEmailUpgrade("rejected")
		return
	}
	if ctx.Err() != nil || b.generation.Load() != gen {
		obs.ObserveEmailUpgrade("cancelled")
		return
	}

	id := b.opts.StableID(acct.Key())
	b.upgraded.Store(&upgrade{id: id, email: better})
	obs.ObserveEmailUpgrade("applied")

	if cur := b.state.Load(); cur.UserContext != nil && cur.UserContext.ID == id {
		b.publish(ctx, cur.UserContext)
	}
}

// probeSession calls /api/auth/me for diagnostics. The response is logged only.
func (b *Builder) probeSession(ctx context.Context, acct *identity.Account) {
	token, err := b.apiToken(ctx, acct)
	if err != nil {
		b.log.Debug("session probe skipped", "error", err)
		return
	}
	me, err := b.opts.API.Me(ctx, token)
	if err != nil {
		b.log.Debug("session probe failed", "error", err)
		return
	}
	b.log.Debug("session probe", "id", me.ID, "roles", me.Roles, "persisted", me.Persisted)
}

func (b *Builder) apiToken(ctx context.Context, acct *identity.Account) (string, error) {
	tok, err := b.opts.Provider.AcquireTokenSilent(ctx, identity.TokenRequest{
		Scopes:  cloneScopes(b.opts.APIScopes),
		Account: acct,
	})
	if err != nil {
		return "", err
	}
	if tok.AccessToken != "" {
		return tok.AccessToken, nil
	}
	if tok.IDToken != "" {
		return tok.IDToken, nil
	}
	return "", identity.ErrInteractionRequired
}
