package postgres

import "testing"

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"postgres scheme", "postgres://u:p@localhost:5432/layouts?sslmode=disable", "pgx5://u:p@localhost:5432/layouts?sslmode=disable"},
		{"postgresql scheme", "postgresql://localhost/layouts", "pgx5://localhost/layouts"},
		{"already pgx5", "pgx5://localhost/layouts", "pgx5://localhost/layouts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := migrateURL(tt.in); got != tt.want {
				t.Errorf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
