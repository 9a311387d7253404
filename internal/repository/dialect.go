package repository

import (
	"fmt"
	"strings"
)

// Dialect identifies the SQL backend a Store is bound to. Upsert syntax and
// placeholder style differ enough between them that routing through one
// repository method and letting a per-dialect strategy build the statement
// text is simpler than branching at every call site.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Upserter builds the dialect-specific "insert, or update on conflict"
// statement for a table keyed by conflictCols.
type Upserter interface {
	BuildUpsert(table string, columns []string, conflictCols []string) string
	Placeholder(position int) string
}

// UpserterFor resolves the upsert strategy for a dialect.
func UpserterFor(d Dialect) (Upserter, error) {
	switch d {
	case DialectSQLite:
		return sqliteUpserter{}, nil
	case DialectPostgres:
		return postgresUpserter{}, nil
	case DialectMySQL:
		return mysqlUpserter{}, nil
	default:
		return nil, fmt.Errorf("repository: unsupported dialect %q", d)
	}
}

type sqliteUpserter struct{}

func (sqliteUpserter) Placeholder(int) string { return "?" }

func (sqliteUpserter) BuildUpsert(table string, columns, conflictCols []string) string {
	return buildUpsert(table, columns, conflictCols, "?", "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s")
}

type mysqlUpserter struct{}

func (mysqlUpserter) Placeholder(int) string { return "?" }

func (mysqlUpserter) BuildUpsert(table string, columns, conflictCols []string) string {
	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if contains(conflictCols, c) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(columns, ", "), placeholders(len(columns), "?"), strings.Join(updates, ", "),
	)
}

type postgresUpserter struct{}

func (postgresUpserter) Placeholder(pos int) string { return fmt.Sprintf("$%d", pos) }

func (postgresUpserter) BuildUpsert(table string, columns, conflictCols []string) string {
	placeholderList := make([]string, len(columns))
	for i := range columns {
		placeholderList[i] = fmt.Sprintf("$%d", i+1)
	}
	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if contains(conflictCols, c) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(columns, ", "), strings.Join(placeholderList, ", "),
		strings.Join(conflictCols, ", "), strings.Join(updates, ", "),
	)
}

func buildUpsert(table string, columns, conflictCols []string, placeholder, tmpl string) string {
	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if contains(conflictCols, c) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(
		tmpl, table, strings.Join(columns, ", "), placeholders(len(columns), placeholder),
		strings.Join(conflictCols, ", "), strings.Join(updates, ", "),
	)
}

func placeholders(n int, ph string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = ph
	}
	return strings.Join(items, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
