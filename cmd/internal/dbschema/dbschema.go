// Package dbschema holds the PostgreSQL DDL for principals, roles, and
// refresh credentials.
package dbschema

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "gatehouse"

//go:embed schema.sql
var ddl string

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQL returns the DDL rendered for schema.
func SQL(schema string) (string, error) {
	if !identRe.MatchString(schema) {
		return "", fmt.Errorf("dbschema: invalid schema identifier %q", schema)
	}
	return strings.ReplaceAll(ddl, "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply creates schema and its tables if they do not exist. It is idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	stmt, err := SQL(schema)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("dbschema: apply %s: %w", schema, err)
	}
	return nil
}
