package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects SQL flavour and driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case SQLite:
		return "sqlite", nil
	case Postgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", d)
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	sn              TEXT NOT NULL DEFAULT '' CHECK (length(sn) <= 50),
	full_name       TEXT NOT NULL DEFAULT '' CHECK (length(full_name) <= 255),
	message         TEXT NOT NULL DEFAULT '',
	phone_number    TEXT NOT NULL CHECK (length(phone_number) BETWEEN 1 AND 20),
	document_number TEXT NOT NULL DEFAULT '' CHECK (length(document_number) <= 20),
	salary          TEXT NOT NULL DEFAULT '' CHECK (length(salary) <= 100),
	dob_raw         TEXT NOT NULL DEFAULT '' CHECK (length(dob_raw) <= 50),
	dob             DATE,
	created_text    TEXT NOT NULL DEFAULT '' CHECK (length(created_text) <= 50),
	first_seen_at   TIMESTAMP NOT NULL,
	last_seen_at    TIMESTAMP NOT NULL,
	UNIQUE (phone_number, document_number, created_text)
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id              BIGSERIAL PRIMARY KEY,
	sn              VARCHAR(50) NOT NULL DEFAULT '',
	full_name       VARCHAR(255) NOT NULL DEFAULT '',
	message         TEXT NOT NULL DEFAULT '',
	phone_number    VARCHAR(20) NOT NULL CHECK (phone_number <> ''),
	document_number VARCHAR(20) NOT NULL DEFAULT '',
	salary          VARCHAR(100) NOT NULL DEFAULT '',
	dob_raw         VARCHAR(50) NOT NULL DEFAULT '',
	dob             DATE,
	created_text    VARCHAR(50) NOT NULL DEFAULT '',
	first_seen_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT %[1]s_natural_key UNIQUE (phone_number, document_number, created_text)
)`

func (d Dialect) schema(table string) string {
	if d == Postgres {
		return fmt.Sprintf(postgresSchema, table)
	}
	return fmt.Sprintf(sqliteSchema, table)
}

func (d Dialect) insertSQL(table string) string {
	dob := "?"
	if d == Postgres {
		dob = "CAST(? AS DATE)"
	}
	return d.rebind(fmt.Sprintf(`
INSERT INTO %s (sn, full_name, message, phone_number, document_number, salary, dob_raw, dob, created_text, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, %s, ?, ?, ?)
ON CONFLICT (phone_number, document_number, created_text) DO NOTHING`, table, dob))
}

func (d Dialect) touchSQL(table string) string {
	return d.rebind(fmt.Sprintf(`
UPDATE %s SET last_seen_at = ?
WHERE phone_number = ? AND document_number = ? AND created_text = ?`, table))
}

// rebind rewrites ? placeholders into $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
