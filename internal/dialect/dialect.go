// Package dialect holds the per-engine rules for quoting identifiers and
// literals, mapping native column types and rendering column definitions.
package dialect

import (
	"fmt"
	"strings"

	"github.com/koba/schemasync/internal/schema"
)

const (
	NameMySQL    = "mysql"
	NamePostgres = "pgsql"
	NameSQLite   = "sqlite"
)

// Capabilities describes which changes a dialect can express natively.
// Without AlterColumn a column update is rebuilt as drop then add. Any other
// false flag rejects the change. Index, constraint and trigger updates are
// always drop then create.
type Capabilities struct {
	AlterColumn       bool
	RenameColumn      bool
	AddForeignKey     bool
	DropForeignKey    bool
	AlterTableOptions bool
	TransactionalDDL  bool
}

// Dialect is the quoting and type strategy of one database engine
type Dialect interface {
	Name() string
	// Wrap quotes an identifier. Table names are qualified with the schema
	// when the dialect is bound to one.
	Wrap(name string, isTable bool) string
	// Quote quotes a literal. With isLike the value is additionally escaped
	// for use as a LIKE pattern.
	Quote(value string, isLike bool) string
	MapNativeType(nativeType string) schema.PortableType
	ColumnDefinition(col schema.Column) string
	Capabilities() Capabilities
}

// New returns the dialect registered under name
func New(name string) (Dialect, error) {
	switch name {
	case NameMySQL:
		return NewMySQL(), nil
	case NamePostgres, "postgres":
		return NewPostgres("public"), nil
	case NameSQLite:
		return NewSQLite(), nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", name)
	}
}

// QuoteNullable quotes value or returns NULL for nil
func QuoteNullable(d Dialect, value *string) string {
	if value == nil {
		return "NULL"
	}
	return d.Quote(*value, false)
}

// WrapList quotes each name and joins them with ", "
func WrapList(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = d.Wrap(name, false)
	}
	return strings.Join(quoted, ", ")
}

// WrapIndexColumns renders index columns with their prefix lengths
func WrapIndexColumns(d Dialect, cols []schema.IndexColumn) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = d.Wrap(col.Name, false)
		if col.Length > 0 {
			parts[i] += fmt.Sprintf("(%d)", col.Length)
		}
	}
	return strings.Join(parts, ", ")
}

func wrapWith(name string, quote byte) string {
	q := string(quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// escapeLike escapes the LIKE wildcards using backslash as escape character
func escapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}

func nullability(col schema.Column) string {
	if col.Nullable {
		return "NULL"
	}
	return "NOT NULL"
}
