package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/audit"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/capability"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
)

const capabilityManageAccess = "access.manage"

type grantRequest struct {
	Role string `json:"role"`
}

type accessRequest struct {
	Role    string `json:"role"`
	Segment string `json:"segment"`
}

// handleUserResource routes /api/users/{id}/responsibilities[/{role}] and
// /api/users/{id}/access.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if a.deps.Access == nil {
		writeError(w, r, http.StatusServiceUnavailable, "access administration unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch {
	case parts[1] == "responsibilities" && len(parts) == 2:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.grantResponsibility(w, r, userID)
	case parts[1] == "responsibilities" && len(parts) == 3:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.revokeResponsibility(w, r, userID, parts[2])
	case parts[1] == "access" && len(parts) == 2:
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setAccess(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// authorizeChange applies access.manage plus two limits for non-superusers:
// they cannot change their own access, and they cannot grant or remove
// anything that by itself makes a subject a superuser.
func (a *API) authorizeChange(w http.ResponseWriter, r *http.Request, userID string, change *capability.Subject) bool {
	vm, ok := a.ensureCapability(w, r, capabilityManageAccess)
	if !ok {
		return false
	}
	if vm.Capabilities.Superuser() {
		return true
	}
	if vm.UserContext != nil && strings.EqualFold(vm.UserContext.ID, strings.TrimSpace(userID)) {
		writeError(w, r, http.StatusForbidden, "cannot change own access")
		return false
	}
	if a.confersSuperuser(change) {
		writeError(w, r, http.StatusForbidden, "superuser access can only be changed by a superuser")
		return false
	}
	return true
}

// confersSuperuser reports whether change alone evaluates to a superuser.
// Evaluation failures count as elevation.
func (a *API) confersSuperuser(change *capability.Subject) bool {
	c, err := a.deps.Evaluator.Evaluate(change)
	if err != nil {
		a.log.Warn("capability evaluation failed", "error", err)
		return true
	}
	return c.Superuser()
}

func (a *API) grantResponsibility(w http.ResponseWriter, r *http.Request, userID string) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.authorizeChange(w, r, userID, &capability.Subject{
		ResponsibilityRoles: []string{profile.NormalizeResponsibility(req.Role)},
	}) {
		return
	}
	if err := a.deps.Access.GrantResponsibility(r.Context(), userID, req.Role); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.responsibility.grant", map[string]any{
		"target_user": userID,
		"role":        profile.NormalizeResponsibility(req.Role),
	})
	writeJSON(w, http.StatusCreated, map[string]string{
		"user_id": userID,
		"role":    profile.NormalizeResponsibility(req.Role),
	})
}

func (a *API) revokeResponsibility(w http.ResponseWriter, r *http.Request, userID, role string) {
	if !a.authorizeChange(w, r, userID, &capability.Subject{
		ResponsibilityRoles: []string{profile.NormalizeResponsibility(role)},
	}) {
		return
	}
	if err := a.deps.Access.RevokeResponsibility(r.Context(), userID, role); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.responsibility.revoke", map[string]any{
		"target_user": userID,
		"role":        profile.NormalizeResponsibility(role),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setAccess(w http.ResponseWriter, r *http.Request, userID string) {
	var req accessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.authorizeChange(w, r, userID, &capability.Subject{
		ProgressiveRole: profile.NormalizeRole(req.Role),
		Segment:         profile.NormalizeSegment(req.Segment),
	}) {
		return
	}
	if err := a.deps.Access.SetAccess(r.Context(), userID, req.Role, req.Segment); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.set", map[string]any{
		"target_user": userID,
		"role":        profile.NormalizeRole(req.Role),
		"segment":     profile.NormalizeSegment(req.Segment),
	})
	w.WriteHeader(http.StatusNoContent)
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, profile.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, profile.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "access operation failed")
	}
}
