package dialect

import (
	"strings"

	"github.com/koba/schemasync/internal/schema"
)

var sqliteTypes = map[string]schema.PortableType{
	"integer":  schema.TypeInt,
	"int":      schema.TypeInt,
	"tinyint":  schema.TypeInt,
	"smallint": schema.TypeInt,
	"bigint":   schema.TypeInt,
	"real":     schema.TypeFloat,
	"numeric":  schema.TypeFloat,
	"decimal":  schema.TypeFloat,
	"double":   schema.TypeFloat,
	"float":    schema.TypeFloat,
	"boolean":  schema.TypeBool,
	"bool":     schema.TypeBool,
}

// SQLite implements Dialect for SQLite
type SQLite struct{}

// NewSQLite creates the SQLite dialect
func NewSQLite() *SQLite {
	return &SQLite{}
}

func (s *SQLite) Name() string { return NameSQLite }

func (s *SQLite) Wrap(name string, isTable bool) string {
	return wrapWith(name, '"')
}

// Quote quotes a string literal. SQLite has no default LIKE escape
// character, so like patterns carry their own ESCAPE clause.
func (s *SQLite) Quote(value string, isLike bool) string {
	if isLike {
		return "'" + strings.ReplaceAll(escapeLike(value), "'", "''") + `' ESCAPE '\'`
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func (s *SQLite) MapNativeType(nativeType string) schema.PortableType {
	return lookupType(sqliteTypes, nativeType)
}

func (s *SQLite) ColumnDefinition(col schema.Column) string {
	def := upperType(col.Type)
	if def == "" {
		def = "TEXT"
	}
	def += " " + nullability(col)
	if col.DefaultValue != nil {
		def += " DEFAULT " + *col.DefaultValue
	}
	return def
}

func (s *SQLite) Capabilities() Capabilities {
	return Capabilities{
		TransactionalDDL: true,
	}
}
