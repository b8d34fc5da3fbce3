package dialect

import (
	"strings"

	"github.com/lib/pq"

	"github.com/koba/schemasync/internal/schema"
)

var postgresTypes = map[string]schema.PortableType{
	"integer":          schema.TypeInt,
	"int":              schema.TypeInt,
	"int2":             schema.TypeInt,
	"int4":             schema.TypeInt,
	"int8":             schema.TypeInt,
	"smallint":         schema.TypeInt,
	"bigint":           schema.TypeInt,
	"serial":           schema.TypeInt,
	"bigserial":        schema.TypeInt,
	"smallserial":      schema.TypeInt,
	"numeric":          schema.TypeFloat,
	"decimal":          schema.TypeFloat,
	"real":             schema.TypeFloat,
	"float4":           schema.TypeFloat,
	"float8":           schema.TypeFloat,
	"double precision": schema.TypeFloat,
	"boolean":          schema.TypeBool,
	"bool":             schema.TypeBool,
}

var serialTypes = map[string]string{
	"integer":  "SERIAL",
	"int":      "SERIAL",
	"int4":     "SERIAL",
	"bigint":   "BIGSERIAL",
	"int8":     "BIGSERIAL",
	"smallint": "SMALLSERIAL",
	"int2":     "SMALLSERIAL",
}

// Postgres implements Dialect for PostgreSQL
type Postgres struct {
	Schema string
}

// NewPostgres creates the PostgreSQL dialect bound to schemaName
func NewPostgres(schemaName string) *Postgres {
	return &Postgres{Schema: schemaName}
}

func (p *Postgres) Name() string { return NamePostgres }

func (p *Postgres) Wrap(name string, isTable bool) string {
	if isTable && p.Schema != "" {
		return pq.QuoteIdentifier(p.Schema) + "." + pq.QuoteIdentifier(name)
	}
	return pq.QuoteIdentifier(name)
}

// Quote uses pq.QuoteLiteral, which switches to an E-prefixed literal when the value
// contains backslashes.
func (p *Postgres) Quote(value string, isLike bool) string {
	if isLike {
		value = escapeLike(value)
	}
	return strings.TrimSpace(pq.QuoteLiteral(value))
}

func (p *Postgres) MapNativeType(nativeType string) schema.PortableType {
	return lookupType(postgresTypes, nativeType)
}

func (p *Postgres) ColumnDefinition(col schema.Column) string {
	if col.AutoIncrement {
		if serial, ok := serialTypes[ParseNativeType(col.Type).Base]; ok {
			return serial + " " + nullability(col)
		}
	}

	def := upperType(col.Type) + " " + nullability(col)
	if col.DefaultValue != nil {
		def += " DEFAULT " + *col.DefaultValue
	}
	return def
}

func (p *Postgres) Capabilities() Capabilities {
	return Capabilities{
		AlterColumn:       true,
		RenameColumn:      true,
		AddForeignKey:     true,
		DropForeignKey:    true,
		AlterTableOptions: true,
		TransactionalDDL:  true,
	}
}
