package dialect

import (
	"strings"

	"github.com/koba/schemasync/internal/schema"
)

var mysqlTypes = map[string]schema.PortableType{
	"int":       schema.TypeInt,
	"integer":   schema.TypeInt,
	"tinyint":   schema.TypeInt,
	"smallint":  schema.TypeInt,
	"mediumint": schema.TypeInt,
	"bigint":    schema.TypeInt,
	"year":      schema.TypeInt,
	"decimal":   schema.TypeFloat,
	"numeric":   schema.TypeFloat,
	"double":    schema.TypeFloat,
	"float":     schema.TypeFloat,
	"real":      schema.TypeFloat,
	"bool":      schema.TypeBool,
	"boolean":   schema.TypeBool,
}

// MySQL implements Dialect for MySQL and MariaDB
type MySQL struct{}

// NewMySQL creates the MySQL dialect
func NewMySQL() *MySQL {
	return &MySQL{}
}

func (m *MySQL) Name() string { return NameMySQL }

// Wrap quotes an identifier with backticks. Tables are not qualified since
// the connection is bound to one database.
func (m *MySQL) Wrap(name string, isTable bool) string {
	return wrapWith(name, '`')
}

// Quote quotes a string literal. Backslash is an escape character in MySQL's
// default sql_mode so it is doubled as well.
func (m *MySQL) Quote(value string, isLike bool) string {
	if isLike {
		value = escapeLike(value)
	}
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "'", "''")
	return "'" + value + "'"
}

func (m *MySQL) MapNativeType(nativeType string) schema.PortableType {
	return lookupType(mysqlTypes, nativeType)
}

func (m *MySQL) ColumnDefinition(col schema.Column) string {
	def := upperType(col.Type) + " " + nullability(col)

	if col.DefaultValue != nil {
		value := *col.DefaultValue
		if !isLiteralExpression(value) {
			value = m.Quote(value, false)
		}
		def += " DEFAULT " + value
	}

	if col.AutoIncrement {
		def += " AUTO_INCREMENT"
	}

	return def
}

func (m *MySQL) Capabilities() Capabilities {
	return Capabilities{
		AlterColumn:       true,
		RenameColumn:      true,
		AddForeignKey:     true,
		DropForeignKey:    true,
		AlterTableOptions: true,
		// DDL statements cause an implicit commit
		TransactionalDDL: false,
	}
}
