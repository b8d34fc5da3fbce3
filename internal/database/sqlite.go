package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/koba/schemasync/internal/createparse"
	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

// SQLite implements Catalog for SQLite. Foreign keys, table options and
// trigger clauses are parsed from the creation text kept in sqlite_master.
type SQLite struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// NewSQLite creates a catalog reading the main database of db
func NewSQLite(db *sql.DB, d dialect.Dialect) *SQLite {
	return &SQLite{db: db, dialect: d}
}

// DatabaseMeta retrieves the database file name and text encoding
func (s *SQLite) DatabaseMeta(ctx context.Context) (schema.Meta, error) {
	meta := schema.Meta{Driver: dialect.NameSQLite, Database: "main"}

	rows, err := s.db.QueryContext(ctx, "SELECT name, file FROM pragma_database_list")
	if err != nil {
		return schema.Meta{}, fmt.Errorf("failed to get database list: %w", err)
	}
	for rows.Next() {
		var name string
		var file sql.NullString
		if err := rows.Scan(&name, &file); err != nil {
			rows.Close()
			return schema.Meta{}, fmt.Errorf("failed to scan database: %w", err)
		}
		if name == "main" && file.String != "" {
			meta.Database = filepath.Base(file.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return schema.Meta{}, err
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA encoding").Scan(&meta.Charset); err != nil {
		return schema.Meta{}, fmt.Errorf("failed to get encoding: %w", err)
	}
	return meta, nil
}

// GetAllTables retrieves all user table names
func (s *SQLite) GetAllTables(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	return collectNames(rows)
}

// GetTableSchema retrieves the schema for a specific table
func (s *SQLite) GetTableSchema(ctx context.Context, tableName string) (*schema.Table, error) {
	table := schema.NewTable(tableName)

	query := "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?"
	if err := s.db.QueryRowContext(ctx, query, tableName).Scan(&table.Definition); err != nil {
		return nil, fmt.Errorf("failed to get table definition: %w", err)
	}

	parsed, err := createparse.ParseTable(table.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition of %s: %w", tableName, err)
	}
	table.Meta.Options = parsed.Options
	for i := range parsed.ForeignKeys {
		fk := parsed.ForeignKeys[i]
		table.Constraints[fk.Name] = &fk
	}

	columns, primary, err := s.getColumns(ctx, tableName, table.Definition)
	if err != nil {
		return nil, err
	}
	table.Columns = columns
	if primary != nil {
		table.Indexes = append(table.Indexes, *primary)
	}

	indexes, err := s.getIndexes(ctx, tableName)
	if err != nil {
		return nil, err
	}
	table.Indexes = append(table.Indexes, indexes...)

	if table.Triggers, err = s.getTriggers(ctx, tableName); err != nil {
		return nil, err
	}

	return table, nil
}

// getColumns reads the columns and builds the primary key from their pk
// ordinals
func (s *SQLite) getColumns(ctx context.Context, tableName, definition string) ([]schema.Column, *schema.Index, error) {
	query := `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`
	rows, err := s.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	columns := []schema.Column{}
	pkColumns := map[int]string{}
	for rows.Next() {
		var col schema.Column
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&col.Position, &col.Name, &col.Type, &notNull, &defaultValue, &pk); err != nil {
			return nil, nil, fmt.Errorf("failed to scan column: %w", err)
		}

		col.Position++
		col.Nullable = notNull == 0 && pk == 0
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		if pk > 0 {
			pkColumns[pk] = col.Name
		}
		dialect.Describe(s.dialect, &col)

		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(pkColumns) == 0 {
		return columns, nil, nil
	}

	ordinals := make([]int, 0, len(pkColumns))
	for n := range pkColumns {
		ordinals = append(ordinals, n)
	}
	sort.Ints(ordinals)

	primary := &schema.Index{Name: "PRIMARY", Unique: true, Primary: true}
	for _, n := range ordinals {
		primary.Columns = append(primary.Columns, schema.IndexColumn{Name: pkColumns[n]})
	}

	if len(ordinals) == 1 && strings.Contains(strings.ToUpper(definition), "AUTOINCREMENT") {
		for i := range columns {
			if columns[i].Name == primary.Columns[0].Name {
				columns[i].AutoIncrement = true
			}
		}
	}

	return columns, primary, nil
}

// getIndexes reads explicitly created indexes. Indexes backing PRIMARY KEY
// and UNIQUE constraints are part of the table definition and skipped.
func (s *SQLite) getIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, "unique", origin FROM pragma_index_list(?) ORDER BY name`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	var indexes []schema.Index
	for rows.Next() {
		var idx schema.Index
		var unique int
		var origin string
		if err := rows.Scan(&idx.Name, &unique, &origin); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		if origin != "c" || strings.HasPrefix(idx.Name, "sqlite_autoindex") {
			continue
		}
		idx.Unique = unique == 1
		indexes = append(indexes, idx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	for i := range indexes {
		cols, err := s.getIndexColumns(ctx, indexes[i].Name)
		if err != nil {
			return nil, err
		}
		indexes[i].Columns = cols
	}
	return indexes, nil
}

func (s *SQLite) getIndexColumns(ctx context.Context, indexName string) ([]schema.IndexColumn, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_index_info(?) ORDER BY seqno", indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to get index columns: %w", err)
	}
	defer rows.Close()

	var cols []schema.IndexColumn
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan index column: %w", err)
		}
		// expression columns have no name
		if name.Valid {
			cols = append(cols, schema.IndexColumn{Name: name.String})
		}
	}
	return cols, rows.Err()
}

func (s *SQLite) getTriggers(ctx context.Context, tableName string) (map[string]*schema.Trigger, error) {
	query := "SELECT name, sql FROM sqlite_master WHERE type = 'trigger' AND tbl_name = ? ORDER BY name"
	rows, err := s.db.QueryContext(ctx, query, tableName)
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

// GetProcedures returns no procedures, SQLite has no stored routines
func (s *SQLite) GetProcedures(ctx context.Context) (map[string]*schema.Procedure, error) {
	return make(map[string]*schema.Procedure), nil
}

// GetEvents returns no events, SQLite has no scheduler
func (s *SQLite) GetEvents(ctx context.Context) (map[string]*schema.Event, error) {
	return make(map[string]*schema.Event), nil
}

// GetViews retrieves view definitions
func (s *SQLite) GetViews(ctx context.Context) (map[string]*schema.View, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, sql FROM sqlite_master WHERE type = 'view' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to get views: %w", err)
	}
	defer rows.Close()

	views := make(map[string]*schema.View)
	for rows.Next() {
		var name, definition string
		if err := rows.Scan(&name, &definition); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		body, err := createparse.ViewBody(definition)
		if err != nil {
			return nil, fmt.Errorf("failed to parse view %s: %w", name, err)
		}
		views[name] = &schema.View{Name: name, Definition: body}
	}

	return views, rows.Err()
}
