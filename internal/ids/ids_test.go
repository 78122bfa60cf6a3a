package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestStableIDDeterministic(t *testing.T) {
	a := StableID("00000000-0000-0000-66f3-3332eca7ea81.9188040d-6c67-4c5b-b112-36a304b66dad")
	b := StableID("  00000000-0000-0000-66F3-3332ECA7EA81.9188040d-6c67-4c5b-b112-36a304b66dad ")
	if a == "" {
		t.Fatal("expected non-empty id")
	}
	if a != b {
		t.Fatalf("expected case/whitespace-insensitive mapping, got %s vs %s", a, b)
	}
	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("stable id is not a uuid: %v", err)
	}
	if parsed.Version() != 5 {
		t.Fatalf("expected version 5 uuid, got %d", parsed.Version())
	}
}

func TestStableIDDistinctAccounts(t *testing.T) {
	if StableID("account-a") == StableID("account-b") {
		t.Fatal("distinct accounts must not collide")
	}
	if StableID("   ") != "" {
		t.Fatal("blank account id must map to empty key")
	}
}

func TestNewIsSortable(t *testing.T) {
	first := New()
	second := New()
	if first == second {
		t.Fatal("expected unique ids")
	}
	if second < first {
		t.Fatalf("expected monotonic ids, got %s then %s", first, second)
	}
}
