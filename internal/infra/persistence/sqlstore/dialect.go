package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the few statement differences between supported engines.
type Dialect struct {
	Name string
	// PayloadType is the column type holding encoded JSON documents.
	PayloadType string
	// NumberedParams selects $1, $2... placeholders instead of ?.
	NumberedParams bool
}

// Supported dialects.
var (
	SQLite   = Dialect{Name: "sqlite", PayloadType: "BLOB"}
	Postgres = Dialect{Name: "postgres", PayloadType: "JSONB", NumberedParams: true}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Schema returns the statements creating the record and history tables.
func (d Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS records (
		name TEXT PRIMARY KEY,
		payload ` + d.PayloadType + ` NOT NULL
	)`,
		`CREATE TABLE IF NOT EXISTS history (
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload ` + d.PayloadType + ` NOT NULL,
		PRIMARY KEY (name, version)
	)`,
	}
}
