// Package sqlstore implements the central store and local cache ports over
// database/sql. Driver specifics live in a Dialect supplied by the sqlite and
// postgres packages.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GoldenRatioConjugate must match the literal used by the in-process sampler
// so that SQL and Go agree on every row.
const GoldenRatioConjugate = "0.61803398875"

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
	// Floor renders the integer part of a non-negative double expression.
	Floor func(expr string) string
	// Double casts an expression to a double precision value.
	Double func(expr string) string
	// EncodeTime converts a timestamp into the engine's bind value.
	EncodeTime func(time.Time) any
	// IsUniqueViolation reports unique or primary key conflicts.
	IsUniqueViolation func(error) bool
	// Schema is the idempotent DDL for the central store.
	Schema string
}

// Rebind rewrites ? placeholders for numbered dialects.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
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

// SampleClause renders frac(seq·φ) < 1/k with k bound as the next
// placeholder.
func (d Dialect) SampleClause(seqColumn string) string {
	product := d.Double(seqColumn) + " * " + d.Double(GoldenRatioConjugate)
	return fmt.Sprintf("((%s) - %s) < %s / %s", product, d.Floor(product), d.Double("1.0"), d.Double("?"))
}

// Placeholders returns n comma separated ? placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplySchema executes each statement of schema in order.
func ApplySchema(ctx context.Context, db execer, schema string) error {
	for _, stmt := range SplitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// SplitStatements splits a DDL script on semicolons, dropping blank
// statements and -- comment lines.
func SplitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
