package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/auth"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/authview"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth verifies the bearer token and rejects revoked tokens.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		principal, err := a.deps.Verifier.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				unauthorized(w, r, "invalid token")
				return
			}
			a.log.Error("token verification failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		if principal.TokenID != "" {
			revoked, err := a.deps.Revoker.IsRevoked(r.Context(), principal.TokenID)
			if err != nil {
				a.log.Error("revocation lookup failed", "error", err)
				writeError(w, r, http.StatusServiceUnavailable, "session store unavailable")
				return
			}
			if revoked {
				unauthorized(w, r, auth.ErrRevoked.Error())
				return
			}
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// viewFor builds the caller's view model from the profile store.
func (a *API) viewFor(r *http.Request, p auth.Principal) (authview.ViewModel, bool) {
	id := authview.Identity{
		ID:    a.deps.StableID(p.AccountKey()),
		Email: p.BestEmail(),
		Name:  strings.TrimSpace(p.Name),
	}
	res := profile.ReadResult(r.Context(), a.deps.Profiles, id.ID)
	uc := authview.Defaultify(res, id)
	if res.Found() {
		if roles, err := a.deps.Profiles.ResponsibilityRoles(r.Context(), id.ID); err == nil {
			uc.ResponsibilityRoles = append(uc.ResponsibilityRoles, roles...)
		} else {
			a.log.Warn("responsibility roles unavailable", "user_id", id.ID, "error", err)
		}
	} else if !res.NotFound() {
		a.log.Warn("profile read failed", "user_id", id.ID, "error", res.Err)
	}
	vm, err := authview.Derive(uc, a.deps.Evaluator)
	if err != nil {
		a.log.Warn("capability evaluation failed", "user_id", id.ID, "error", err)
	}
	return vm, res.Found()
}

// ensureCapability writes 403 and returns false unless the caller holds name.
// The caller's view model is returned for further checks.
func (a *API) ensureCapability(w http.ResponseWriter, r *http.Request, name string) (authview.ViewModel, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, auth.ErrUnauthorized.Error())
		return authview.ViewModel{}, false
	}
	vm, _ := a.viewFor(r, p)
	if !vm.Can(name) {
		writeError(w, r, http.StatusForbidden, "missing capability "+name)
		return authview.ViewModel{}, false
	}
	return vm, true
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="dws"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
