package store

import (
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	q := `select * from t where a = $1 and b = '$2' and c = $10`
	if got := Postgres.Rebind(q); got != q {
		t.Fatalf("postgres rebind changed query: %s", got)
	}
	want := `select * from t where a = ?1 and b = '$2' and c = ?10`
	if got := SQLite.Rebind(q); got != want {
		t.Fatalf("sqlite rebind = %s, want %s", got, want)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"postgres": Postgres, "PGX": Postgres, "sqlite3": SQLite} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatal("expected error for mysql")
	}
}

func TestScanTime(t *testing.T) {
	var st scanTime
	if err := st.Scan("2026-03-04 05:06:07"); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if !st.Time.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Fatalf("unexpected time: %v", st.Time)
	}
	if err := st.Scan(nil); err != nil || !st.Time.IsZero() {
		t.Fatalf("scan nil: %v %v", st.Time, err)
	}
	if err := st.Scan(3.5); err == nil {
		t.Fatal("expected error for float")
	}
}
