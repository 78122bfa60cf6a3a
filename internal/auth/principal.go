package auth

import (
	"strings"
	"time"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
)

// Principal is the caller identified by a verified bearer token.
type Principal struct {
	Subject   string
	ObjectID  string
	TenantID  string
	Email     string
	Name      string
	Username  string
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// AccountKey is the provider account identifier the stable profile id derives
// from. It follows identity.AccountID, so it matches the account id clients see.
func (p Principal) AccountKey() string {
	return identity.AccountID(p.ObjectID, p.TenantID, p.Subject)
}

// BestEmail returns the first non-empty email-like claim.
func (p Principal) BestEmail() string {
	if e := strings.TrimSpace(p.Email); e != "" {
		return e
	}
	return strings.TrimSpace(p.Username)
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
