package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/audit"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/auth"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/obs"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/sessionapi"
)

// revocationFallback bounds the denylist entry of tokens without exp.
const revocationFallback = 24 * time.Hour

// handleMe returns the caller's server-side view. POST also records the
// caller's identity columns in the profile store.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || p.AccountKey() == "" {
		unauthorized(w, r, auth.ErrUnauthorized.Error())
		return
	}

	if r.Method == http.MethodPost {
		row := profile.Row{
			ID:        a.deps.StableID(p.AccountKey()),
			Email:     p.BestEmail(),
			Name:      strings.TrimSpace(p.Name),
			Username:  strings.TrimSpace(p.Username),
			AzureID:   strings.TrimSpace(p.ObjectID),
			UpdatedAt: a.deps.Now().UTC(),
		}
		if err := a.deps.Profiles.Upsert(r.Context(), row); err != nil {
			obs.ObserveProfileUpsert("error")
			a.log.Warn("profile upsert failed", "user_id", row.ID, "error", err)
		} else {
			obs.ObserveProfileUpsert("ok")
		}
	}

	vm, persisted := a.viewFor(r, p)
	uc := vm.UserContext
	writeJSON(w, http.StatusOK, sessionapi.Me{
		ID:                  uc.ID,
		Subject:             p.Subject,
		Email:               uc.Email,
		Name:                uc.Name,
		ProgressiveRole:     uc.ProgressiveRole,
		Segment:             uc.Segment,
		Domain:              uc.Domain,
		ResponsibilityRoles: nonNil(uc.ResponsibilityRoles),
		Roles:               nonNil(vm.Roles),
		Capabilities:        nonNil(vm.Capabilities.Capabilities()),
		Persisted:           persisted,
	})
}

// handleLogout denylists the presented token until it expires.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, auth.ErrUnauthorized.Error())
		return
	}
	if p.TokenID == "" {
		obs.ObserveRevocation("skipped")
		_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"revoked": false})
		w.WriteHeader(http.StatusNoContent)
		return
	}

	until := p.ExpiresAt
	if until.IsZero() {
		until = a.deps.Now().Add(revocationFallback)
	}
	if err := a.deps.Revoker.Revoke(r.Context(), p.TokenID, until); err != nil {
		obs.ObserveRevocation("error")
		a.log.Error("token revocation failed", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	obs.ObserveRevocation("ok")
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"revoked":    true,
		"token_id":   p.TokenID,
		"expires_at": until.UTC().Format(time.RFC3339),
	})
	w.WriteHeader(http.StatusNoContent)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
