package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// accountNamespace scopes StableID so the same provider account id always maps
// to the same users_local key.
var accountNamespace = uuid.MustParse("6f1d3c5e-2a7b-5c4e-9d80-4b1f2e3a5c71")

// New returns a lexicographically sortable identifier suitable for request and audit ids.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// StableID derives the profile storage key from an identity-provider account id.
// The mapping is deterministic and case-insensitive; an empty input yields "".
func StableID(accountID string) string {
	accountID = strings.ToLower(strings.TrimSpace(accountID))
	if accountID == "" {
		return ""
	}
	return uuid.NewSHA1(accountNamespace, []byte(accountID)).String()
}
