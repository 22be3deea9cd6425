package store

import (
	"strings"
	"testing"
)

func TestPostgresStatements(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "insert",
			got:  Postgres.insertSQL("ivr_logs"),
			want: `INSERT INTO ivr_logs (sn, full_name, message, phone_number, document_number, salary, dob_raw, dob, created_text, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, CAST($8 AS DATE), $9, $10, $11)
ON CONFLICT (phone_number, document_number, created_text) DO NOTHING`,
		},
		{
			name: "touch",
			got:  Postgres.touchSQL("ivr_logs"),
			want: `UPDATE ivr_logs SET last_seen_at = $1
WHERE phone_number = $2 AND document_number = $3 AND created_text = $4`,
		},
		{
			name: "sqlite insert",
			got:  SQLite.insertSQL("ivr_logs"),
			want: `INSERT INTO ivr_logs (sn, full_name, message, phone_number, document_number, salary, dob_raw, dob, created_text, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (phone_number, document_number, created_text) DO NOTHING`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.TrimSpace(tt.got); got != tt.want {
				t.Fatalf("statement mismatch\ngot:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestPostgresSchema(t *testing.T) {
	ddl := Postgres.schema("ivr_logs")

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS ivr_logs (",
		"id              BIGSERIAL PRIMARY KEY",
		"phone_number    VARCHAR(20) NOT NULL CHECK (phone_number <> '')",
		"dob             DATE,",
		"last_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now()",
		"CONSTRAINT ivr_logs_natural_key UNIQUE (phone_number, document_number, created_text)",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("postgres schema missing %q", want)
		}
	}
	for _, bad := range []string{"?", "%[", "AUTOINCREMENT"} {
		if strings.Contains(ddl, bad) {
			t.Errorf("postgres schema contains %q", bad)
		}
	}
}

func TestDialectDriverName(t *testing.T) {
	tests := map[Dialect]string{SQLite: "sqlite", Postgres: "pgx"}
	for dialect, want := range tests {
		got, err := dialect.driverName()
		if err != nil || got != want {
			t.Errorf("%s.driverName() = %q, %v; want %q", dialect, got, err, want)
		}
	}
	if _, err := Dialect("mysql").driverName(); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}
