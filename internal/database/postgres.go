package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/koba/schemasync/internal/createparse"
	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

// fkActions maps pg_constraint action codes to their SQL keywords
var fkActions = map[string]string{
	"a": "NO ACTION",
	"r": "RESTRICT",
	"c": "CASCADE",
	"n": "SET NULL",
	"d": "SET DEFAULT",
}

// Postgres implements Catalog for one PostgreSQL schema
type Postgres struct {
	db      *sql.DB
	dialect dialect.Dialect
	schema  string
}

// NewPostgres creates a catalog reading schemaName
func NewPostgres(db *sql.DB, d dialect.Dialect, schemaName string) *Postgres {
	return &Postgres{db: db, dialect: d, schema: schemaName}
}

// DatabaseMeta retrieves the database name, encoding and collation
func (p *Postgres) DatabaseMeta(ctx context.Context) (schema.Meta, error) {
	meta := schema.Meta{Driver: dialect.NamePostgres}
	query := `
		SELECT datname, pg_encoding_to_char(encoding), datcollate
		FROM pg_database
		WHERE datname = current_database()
	`
	if err := p.db.QueryRowContext(ctx, query).Scan(&meta.Database, &meta.Charset, &meta.Collation); err != nil {
		return schema.Meta{}, fmt.Errorf("failed to get database meta: %w", err)
	}
	return meta, nil
}

// GetAllTables retrieves all table names in the schema
func (p *Postgres) GetAllTables(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := p.db.QueryContext(ctx, query, p.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	return collectNames(rows)
}

// GetTableSchema retrieves the schema for a specific table
func (p *Postgres) GetTableSchema(ctx context.Context, tableName string) (*schema.Table, error) {
	table := schema.NewTable(tableName)
	var err error

	if table.Meta, err = p.getTableMeta(ctx, tableName); err != nil {
		return nil, err
	}
	if table.Columns, err = p.getColumns(ctx, tableName); err != nil {
		return nil, err
	}
	if table.Indexes, err = p.getIndexes(ctx, tableName); err != nil {
		return nil, err
	}
	if table.Constraints, err = p.getForeignKeys(ctx, tableName); err != nil {
		return nil, err
	}
	if table.Triggers, err = p.getTriggers(ctx, tableName); err != nil {
		return nil, err
	}

	return table, nil
}

func (p *Postgres) getTableMeta(ctx context.Context, tableName string) (schema.TableMeta, error) {
	query := `
		SELECT
			COALESCE(obj_description(c.oid, 'pg_class'), ''),
			COALESCE(array_to_string(c.reloptions, ', '), '')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind = 'r'
	`
	var meta schema.TableMeta
	if err := p.db.QueryRowContext(ctx, query, p.schema, tableName).Scan(&meta.Comment, &meta.Options); err != nil {
		return schema.TableMeta{}, fmt.Errorf("failed to get table meta: %w", err)
	}
	return meta, nil
}

func (p *Postgres) getColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			column_name,
			data_type,
			udt_name,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			is_nullable,
			column_default,
			is_identity,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := p.db.QueryContext(ctx, query, p.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	columns := []schema.Column{}
	for rows.Next() {
		var col schema.Column
		var dataType, udtName, nullable, identity string
		var maxLength, precision, scale sql.NullInt64
		var defaultValue sql.NullString

		if err := rows.Scan(&col.Name, &dataType, &udtName, &maxLength, &precision, &scale,
			&nullable, &defaultValue, &identity, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		col.Type = nativeType(dataType, udtName, maxLength, precision, scale)
		col.Nullable = nullable == "YES"
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}

		// Check for serial/identity columns (auto increment)
		if identity == "YES" || strings.Contains(strings.ToLower(defaultValue.String), "nextval") {
			col.AutoIncrement = true
		}
		dialect.Describe(p.dialect, &col)

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// nativeType rebuilds the declared type from information_schema fields
func nativeType(dataType, udtName string, maxLength, precision, scale sql.NullInt64) string {
	switch {
	case dataType == "USER-DEFINED":
		return udtName
	case dataType == "ARRAY":
		return strings.TrimPrefix(udtName, "_") + "[]"
	case maxLength.Valid:
		return fmt.Sprintf("%s(%d)", dataType, maxLength.Int64)
	case dataType == "numeric" && precision.Valid:
		return fmt.Sprintf("numeric(%d,%d)", precision.Int64, scale.Int64)
	}
	return dataType
}

func (p *Postgres) getIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT
			i.relname AS index_name,
			a.attname AS column_name,
			ix.indisunique AS is_unique,
			ix.indisprimary AS is_primary,
			am.amname AS method,
			COALESCE(obj_description(i.oid, 'pg_class'), '') AS comment
		FROM pg_class t
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1 AND t.relname = $2 AND t.relkind = 'r'
		ORDER BY i.relname, array_position(ix.indkey::int2[], a.attnum)
	`
	rows, err := p.db.QueryContext(ctx, query, p.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}
	defer rows.Close()

	indexes := []schema.Index{}
	position := make(map[string]int)
	for rows.Next() {
		var indexName, columnName, method, comment string
		var isUnique, isPrimary bool

		if err := rows.Scan(&indexName, &columnName, &isUnique, &isPrimary, &method, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}

		if n, exists := position[indexName]; exists {
			indexes[n].Columns = append(indexes[n].Columns, schema.IndexColumn{Name: columnName})
			continue
		}
		position[indexName] = len(indexes)
		indexes = append(indexes, schema.Index{
			Name:    indexName,
			Columns: []schema.IndexColumn{{Name: columnName}},
			Unique:  isUnique,
			Primary: isPrimary,
			Method:  strings.ToUpper(method),
			Comment: comment,
		})
	}

	return indexes, rows.Err()
}

func (p *Postgres) getForeignKeys(ctx context.Context, tableName string) (map[string]*schema.ForeignKey, error) {
	query := `
		SELECT
			con.conname,
			ref.relname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			),
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			),
			con.confdeltype,
			con.confupdtype
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class ref ON ref.oid = con.confrelid
		WHERE con.contype = 'f' AND n.nspname = $1 AND t.relname = $2
		ORDER BY con.conname
	`
	rows, err := p.db.QueryContext(ctx, query, p.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	defer rows.Close()

	foreignKeys := make(map[string]*schema.ForeignKey)
	for rows.Next() {
		var fk schema.ForeignKey
		var onDelete, onUpdate string

		if err := rows.Scan(&fk.Name, &fk.ReferencedTable, pq.Array(&fk.Columns), pq.Array(&fk.ReferencedColumns),
			&onDelete, &onUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}

		fk.OnDelete = fkAction(onDelete)
		fk.OnUpdate = fkAction(onUpdate)
		foreignKeys[fk.Name] = &fk
	}

	return foreignKeys, rows.Err()
}

func fkAction(code string) string {
	if action, ok := fkActions[code]; ok {
		return action
	}
	return schema.DefaultAction
}

func (p *Postgres) getTriggers(ctx context.Context, tableName string) (map[string]*schema.Trigger, error) {
	query := `
		SELECT tg.tgname, pg_get_triggerdef(tg.oid)
		FROM pg_trigger tg
		JOIN pg_class t ON t.oid = tg.tgrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE NOT tg.tgisinternal AND n.nspname = $1 AND t.relname = $2
		ORDER BY tg.tgname
	`
	rows, err := p.db.QueryContext(ctx, query, p.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get triggers: %w", err)
	}
	defer rows.Close()

	triggers := make(map[string]*schema.Trigger)
	for rows.Next() {
		var name, definition string
		if err := rows.Scan(&name, &definition); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		parts, err := createparse.ParseTrigger(definition)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trigger %s: %w", name, err)
		}
		triggers[name] = &schema.Trigger{
			Name:   name,
			Table:  tableName,
			Timing: parts.Timing,
			Event:  parts.Event,
			Body:   parts.Body,
		}
	}

	return triggers, rows.Err()
}

// GetProcedures retrieves functions and procedures keyed by name and
// identity arguments, so overloads stay distinct
func (p *Postgres) GetProcedures(ctx context.Context) (map[string]*schema.Procedure, error) {
	query := `
		SELECT
			p.proname,
			CASE p.prokind WHEN 'p' THEN 'PROCEDURE' ELSE 'FUNCTION' END,
			pg_get_function_identity_arguments(p.oid),
			pg_get_functiondef(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		LEFT JOIN pg_depend d ON d.objid = p.oid AND d.deptype = 'e'
		WHERE n.nspname = $1 AND p.prokind IN ('f', 'p') AND d.objid IS NULL
		ORDER BY p.proname
	`
	rows, err := p.db.QueryContext(ctx, query, p.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to get routines: %w", err)
	}
	defer rows.Close()

	procedures := make(map[string]*schema.Procedure)
	for rows.Next() {
		var proc schema.Procedure
		if err := rows.Scan(&proc.Name, &proc.Type, &proc.Signature, &proc.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan routine: %w", err)
		}
		procedures[RoutineKey(proc.Name, proc.Signature)] = &proc
	}

	return procedures, rows.Err()
}

// RoutineKey returns the snapshot key of a routine
func RoutineKey(name, signature string) string {
	if signature == "" {
		return name
	}
	return name + "(" + signature + ")"
}

// GetEvents returns no events, PostgreSQL has no scheduler
func (p *Postgres) GetEvents(ctx context.Context) (map[string]*schema.Event, error) {
	return make(map[string]*schema.Event), nil
}

// GetViews retrieves view definitions
func (p *Postgres) GetViews(ctx context.Context) (map[string]*schema.View, error) {
	query := "SELECT viewname, definition FROM pg_views WHERE schemaname = $1 ORDER BY viewname"
	rows, err := p.db.QueryContext(ctx, query, p.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to get views: %w", err)
	}
	defer rows.Close()

	views := make(map[string]*schema.View)
	for rows.Next() {
		var view schema.View
		if err := rows.Scan(&view.Name, &view.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		view.Definition = strings.TrimSuffix(strings.TrimSpace(view.Definition), ";")
		views[view.Name] = &view
	}

	return views, rows.Err()
}
