package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountID(t *testing.T) {
	cases := []struct {
		oid, tid, sub, want string
	}{
		{"OID-1", "TID-1", "sub-1", "oid-1.tid-1"},
		{"oid-1", "", "sub-1", "sub-1"},
		{"oid-1", "", "", "oid-1"},
		{"", "tid-1", " sub-1 ", "sub-1"},
		{"", "", "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AccountID(tc.oid, tc.tid, tc.sub), "%+v", tc)
	}
}

func TestAccountKeyFallsBackToLocalIDNilSafe(t *testing.T) {
	assert.Equal(t, "oid-1", (&Account{LocalAccountID: " oid-1 "}).Key())
	assert.Equal(t, "home", (&Account{ID: "home", LocalAccountID: "oid-1"}).Key())
	assert.Empty(t, (*Account)(nil).Key())
}
