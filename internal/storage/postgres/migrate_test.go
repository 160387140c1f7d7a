package postgres

import "testing"

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/ledger":   "pgx5://u:p@localhost:5432/ledger",
		"postgresql://u:p@localhost:5432/ledger": "pgx5://u:p@localhost:5432/ledger",
		"pgx5://localhost/ledger":                "pgx5://localhost/ledger",
	}
	for in, want := range tests {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
