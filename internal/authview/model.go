// Package authview builds the authorization view model shared by every
// protected screen: the signed-in profile, its roles, derived flags, a
// capability checker, and the login/signup/logout actions.
package authview

import (
	"fmt"
	"slices"
	"strings"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/capability"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
)

// Responsibility and segment names the flags are computed from.
const (
	RoleServiceOwner        = "service_owner"
	RoleContentPublisher    = "content_publisher"
	RoleModerator           = "moderator"
	RoleCommunityModerator  = "community_moderator"
	RoleDirectoryMaintainer = "directory_maintainer"
	RoleSystemAdmin         = "system_admin"

	SegmentEmployee      = "employee"
	SegmentPlatformAdmin = "platform_admin"
)

// Profile is the minimal profile snapshot.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserContext is the resolved authorization subject.
type UserContext struct {
	ID                  string   `json:"id"`
	Email               string   `json:"email"`
	Name                string   `json:"name"`
	ProgressiveRole     string   `json:"progressive_role"`
	Segment             string   `json:"segment"`
	Domain              string   `json:"domain,omitempty"`
	ResponsibilityRoles []string `json:"responsibility_roles"`
}

func (uc *UserContext) clone() *UserContext {
	if uc == nil {
		return nil
	}
	c := *uc
	c.ResponsibilityRoles = slices.Clone(uc.ResponsibilityRoles)
	if c.ResponsibilityRoles == nil {
		c.ResponsibilityRoles = []string{}
	}
	return &c
}

func (uc *UserContext) subject() *capability.Subject {
	if uc == nil {
		return nil
	}
	return &capability.Subject{
		ProgressiveRole:     uc.ProgressiveRole,
		Segment:             uc.Segment,
		Domain:              uc.Domain,
		ResponsibilityRoles: slices.Clone(uc.ResponsibilityRoles),
	}
}

// ViewModel is the derived, in-memory authorization state.
type ViewModel struct {
	Profile      *Profile
	UserContext  *UserContext
	Roles        []string
	Capabilities capability.Checker

	IsEmployee            bool
	IsServiceOwner        bool
	IsContentPublisher    bool
	IsModerator           bool
	IsDirectoryMaintainer bool
	IsSystemAdmin         bool

	IsLoading bool
}

// Can is shorthand for Capabilities.Can.
func (vm ViewModel) Can(capabilityName string) bool {
	return vm.Capabilities.Can(capabilityName)
}

// clone returns a copy that shares no mutable state with vm.
func (vm ViewModel) clone() ViewModel {
	c := vm
	if vm.Profile != nil {
		p := *vm.Profile
		c.Profile = &p
	}
	c.UserContext = vm.UserContext.clone()
	c.Roles = slices.Clone(vm.Roles)
	if c.Roles == nil {
		c.Roles = []string{}
	}
	return c
}

// HasRole reports case-insensitive membership in Roles.
func (vm ViewModel) HasRole(role string) bool {
	return hasRole(vm.Roles, role)
}

// Derive computes roles, flags and capabilities from uc. A nil uc yields an
// empty view model with a deny-all checker. The returned error reports a
// capability evaluation failure that was already degraded to the nil-subject checker.
func Derive(uc *UserContext, eval capability.Evaluator) (ViewModel, error) {
	vm := ViewModel{Roles: []string{}}
	checker, evalErr := evaluate(eval, uc.subject())
	vm.Capabilities = checker
	if uc == nil {
		return vm, evalErr
	}

	uc = uc.clone()
	vm.UserContext = uc
	vm.Profile = &Profile{ID: uc.ID, Name: uc.Name, Email: uc.Email}

	if uc.ProgressiveRole != "" {
		vm.Roles = append(vm.Roles, uc.ProgressiveRole)
	}
	vm.Roles = append(vm.Roles, uc.ResponsibilityRoles...)

	vm.IsEmployee = strings.EqualFold(uc.Segment, SegmentEmployee)
	vm.IsServiceOwner = hasRole(vm.Roles, RoleServiceOwner)
	vm.IsContentPublisher = hasRole(vm.Roles, RoleContentPublisher)
	vm.IsModerator = hasRole(vm.Roles, RoleModerator) || hasRole(vm.Roles, RoleCommunityModerator)
	vm.IsDirectoryMaintainer = hasRole(vm.Roles, RoleDirectoryMaintainer)
	vm.IsSystemAdmin = hasRole(vm.Roles, RoleSystemAdmin) ||
		strings.EqualFold(uc.ProgressiveRole, capability.RoleAdmin) ||
		strings.EqualFold(uc.Segment, SegmentPlatformAdmin)
	return vm, evalErr
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// evaluate never fails: an error or panic from eval degrades to the
// nil-subject checker, and failing that to Deny.
func evaluate(eval capability.Evaluator, s *capability.Subject) (c capability.Checker, err error) {
	if eval == nil {
		return capability.Deny(), nil
	}
	c, err = safeEvaluate(eval, s)
	if err == nil {
		return c, nil
	}
	if s != nil {
		if fallback, ferr := safeEvaluate(eval, nil); ferr == nil {
			return fallback, err
		}
	}
	return capability.Deny(), err
}

func safeEvaluate(eval capability.Evaluator, s *capability.Subject) (c capability.Checker, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = capability.Deny(), fmt.Errorf("capability evaluator panicked: %v", r)
		}
	}()
	return eval.Evaluate(s)
}

// Identity is what the builder knows about the signed-in principal before
// consulting the store.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// Defaultify collapses a profile read into a user context. A found row is
// normalised; NotFound or any error yields the least-privileged default
// populated from id.
func Defaultify(res profile.Result, id Identity) *UserContext {
	if !res.Found() {
		return &UserContext{
			ID:                  id.ID,
			Email:               id.Email,
			Name:                id.Name,
			ProgressiveRole:     profile.DefaultRole,
			Segment:             profile.DefaultSegment,
			ResponsibilityRoles: []string{},
		}
	}
	row := res.Row
	uc := &UserContext{
		ID:                  id.ID,
		Email:               firstNonEmpty(row.Email, id.Email),
		Name:                firstNonEmpty(row.Name, id.Name),
		ProgressiveRole:     profile.NormalizeRole(row.Role),
		Segment:             profile.NormalizeSegment(row.Segment),
		Domain:              strings.TrimSpace(row.Domain),
		ResponsibilityRoles: []string{},
	}
	if uc.ID == "" {
		uc.ID = row.ID
	}
	return uc
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
