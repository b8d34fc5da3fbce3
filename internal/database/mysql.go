package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/koba/schemasync/internal/createparse"
	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

var (
	autoIncrementOption = regexp.MustCompile(`\s*AUTO_INCREMENT=\d+`)
	definerClause       = regexp.MustCompile("DEFINER=(`[^`]*`|[^@\\s]+)@(`[^`]*`|\\S+)\\s+")
)

// MySQL implements Catalog for MySQL
type MySQL struct {
	db       *sql.DB
	dialect  dialect.Dialect
	database string
}

// NewMySQL creates a catalog reading the current database of db
func NewMySQL(db *sql.DB, d dialect.Dialect) *MySQL {
	return &MySQL{db: db, dialect: d}
}

func (m *MySQL) schemaName(ctx context.Context) (string, error) {
	if m.database != "" {
		return m.database, nil
	}
	var name sql.NullString
	if err := m.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return "", fmt.Errorf("failed to get current database: %w", err)
	}
	if !name.Valid || name.String == "" {
		return "", fmt.Errorf("%w: no database selected", ErrConfig)
	}
	m.database = name.String
	return m.database, nil
}

// DatabaseMeta retrieves the database name, character set and collation
func (m *MySQL) DatabaseMeta(ctx context.Context) (schema.Meta, error) {
	name, err := m.schemaName(ctx)
	if err != nil {
		return schema.Meta{}, err
	}
	meta := schema.Meta{Driver: dialect.NameMySQL, Database: name}

	query := "SELECT DEFAULT_CHARACTER_SET_NAME, DEFAULT_COLLATION_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?"
	if err := m.db.QueryRowContext(ctx, query, name).Scan(&meta.Charset, &meta.Collation); err != nil {
		return schema.Meta{}, fmt.Errorf("failed to get database meta: %w", err)
	}
	return meta, nil
}

// GetAllTables retrieves all base table names in the database
func (m *MySQL) GetAllTables(ctx context.Context) ([]string, error) {
	name, err := m.schemaName(ctx)
	if err != nil {
		return nil, err
	}
	query := "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME"
	rows, err := m.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	return collectNames(rows)
}

// GetTableSchema retrieves the schema for a specific table
func (m *MySQL) GetTableSchema(ctx context.Context, tableName string) (*schema.Table, error) {
	name, err := m.schemaName(ctx)
	if err != nil {
		return nil, err
	}
	table := schema.NewTable(tableName)

	if table.Meta, err = m.getTableMeta(ctx, name, tableName); err != nil {
		return nil, err
	}

	if table.Columns, err = m.getColumns(ctx, name, tableName); err != nil {
		return nil, err
	}

	// Keys and foreign keys are only available as creation-script text
	definition, err := m.showCreateTable(ctx, tableName)
	if err != nil {
		return nil, err
	}
	table.Definition = definition

	parsed, err := createparse.ParseTable(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition of %s: %w", tableName, err)
	}
	table.Indexes = append(table.Indexes, parsed.Indexes...)
	for i := range parsed.ForeignKeys {
		fk := parsed.ForeignKeys[i]
		table.Constraints[fk.Name] = &fk
	}

	if table.Triggers, err = m.getTriggers(ctx, tableName); err != nil {
		return nil, err
	}

	return table, nil
}

func (m *MySQL) getTableMeta(ctx context.Context, database, tableName string) (schema.TableMeta, error) {
	query := `
		SELECT ENGINE, TABLE_COLLATION, TABLE_COMMENT, CREATE_OPTIONS
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`
	var engine, collation, comment, options sql.NullString
	err := m.db.QueryRowContext(ctx, query, database, tableName).Scan(&engine, &collation, &comment, &options)
	if err != nil {
		return schema.TableMeta{}, fmt.Errorf("failed to get table meta: %w", err)
	}
	return schema.TableMeta{
		Engine:    engine.String,
		Collation: collation.String,
		Comment:   comment.String,
		Options:   options.String,
	}, nil
}

func (m *MySQL) getColumns(ctx context.Context, database, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			COLUMN_NAME,
			COLUMN_TYPE,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			EXTRA,
			ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := m.db.QueryContext(ctx, query, database, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	columns := []schema.Column{}
	for rows.Next() {
		var col schema.Column
		var nullable string
		var defaultValue sql.NullString
		var extra string

		if err := rows.Scan(&col.Name, &col.Type, &nullable, &defaultValue, &extra, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		extra = strings.ToLower(extra)
		col.Nullable = nullable == "YES"
		if defaultValue.Valid {
			value := defaultValue.String
			// Expression defaults are reported without their parentheses
			if strings.Contains(extra, "default_generated") && !strings.HasPrefix(strings.ToUpper(value), "CURRENT_TIMESTAMP") {
				value = "(" + value + ")"
			}
			col.DefaultValue = &value
		}
		col.AutoIncrement = strings.Contains(extra, "auto_increment")
		dialect.Describe(m.dialect, &col)

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (m *MySQL) showCreateTable(ctx context.Context, tableName string) (string, error) {
	var name, definition string
	query := "SHOW CREATE TABLE " + m.dialect.Wrap(tableName, true)
	if err := m.db.QueryRowContext(ctx, query).Scan(&name, &definition); err != nil {
		return "", fmt.Errorf("failed to get table definition: %w", err)
	}
	return autoIncrementOption.ReplaceAllString(definition, ""), nil
}

func (m *MySQL) getTriggers(ctx context.Context, tableName string) (map[string]*schema.Trigger, error) {
	query := "SHOW TRIGGERS LIKE " + m.dialect.Quote(tableName, true)
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get triggers: %w", err)
	}
	defer rows.Close()

	triggers := make(map[string]*schema.Trigger)
	for rows.Next() {
		row, err := scanRowMap(rows)
		if err != nil {
			return nil, err
		}
		if row["table"] != tableName {
			continue
		}
		triggers[row["trigger"]] = &schema.Trigger{
			Name:   row["trigger"],
			Table:  tableName,
			Timing: strings.ToUpper(row["timing"]),
			Event:  strings.ToUpper(row["event"]),
			Body:   row["statement"],
		}
	}

	return triggers, rows.Err()
}

// GetProcedures retrieves stored procedures and functions with their
// creation statements
func (m *MySQL) GetProcedures(ctx context.Context) (map[string]*schema.Procedure, error) {
	name, err := m.schemaName(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ROUTINE_NAME, ROUTINE_TYPE
		FROM information_schema.ROUTINES
		WHERE ROUTINE_SCHEMA = ?
		ORDER BY ROUTINE_NAME
	`
	rows, err := m.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get routines: %w", err)
	}

	var routines []schema.Procedure
	for rows.Next() {
		var proc schema.Procedure
		if err := rows.Scan(&proc.Name, &proc.Type); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan routine: %w", err)
		}
		routines = append(routines, proc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get routines: %w", err)
	}

	procedures := make(map[string]*schema.Procedure, len(routines))
	for i := range routines {
		proc := routines[i]
		definition, err := m.showCreateRoutine(ctx, proc.Type, proc.Name)
		if err != nil {
			return nil, err
		}
		proc.Definition = definition
		procedures[proc.Name] = &proc
	}
	return procedures, nil
}

func (m *MySQL) showCreateRoutine(ctx context.Context, routineType, name string) (string, error) {
	kind := strings.ToUpper(routineType)
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf("SHOW CREATE %s %s", kind, m.dialect.Wrap(name, false)))
	if err != nil {
		return "", fmt.Errorf("failed to get %s definition: %w", strings.ToLower(kind), err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s %s not found", strings.ToLower(kind), name)
	}
	row, err := scanRowMap(rows)
	if err != nil {
		return "", err
	}
	return definerClause.ReplaceAllString(row["create "+strings.ToLower(kind)], ""), nil
}

// GetEvents retrieves scheduled events
func (m *MySQL) GetEvents(ctx context.Context) (map[string]*schema.Event, error) {
	name, err := m.schemaName(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT
			EVENT_NAME,
			EVENT_TYPE,
			EXECUTE_AT,
			INTERVAL_VALUE,
			INTERVAL_FIELD,
			STARTS,
			ENDS,
			ON_COMPLETION,
			STATUS,
			EVENT_DEFINITION,
			EVENT_COMMENT
		FROM information_schema.EVENTS
		WHERE EVENT_SCHEMA = ?
		ORDER BY EVENT_NAME
	`
	rows, err := m.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := make(map[string]*schema.Event)
	for rows.Next() {
		var ev schema.Event
		var eventType, executeAt, intervalValue, intervalField, starts, ends sql.NullString
		var comment sql.NullString

		if err := rows.Scan(&ev.Name, &eventType, &executeAt, &intervalValue, &intervalField,
			&starts, &ends, &ev.Completion, &ev.Status, &ev.Body, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if eventType.String == "ONE TIME" {
			ev.Schedule = "AT " + m.dialect.Quote(executeAt.String, false)
		} else {
			ev.Schedule = fmt.Sprintf("EVERY %s %s", strings.Trim(intervalValue.String, "'"), intervalField.String)
			if starts.Valid {
				ev.Schedule += " STARTS " + m.dialect.Quote(starts.String, false)
			}
			if ends.Valid {
				ev.Schedule += " ENDS " + m.dialect.Quote(ends.String, false)
			}
		}
		ev.Comment = comment.String
		events[ev.Name] = &ev
	}

	return events, rows.Err()
}

// GetViews retrieves view definitions
func (m *MySQL) GetViews(ctx context.Context) (map[string]*schema.View, error) {
	name, err := m.schemaName(ctx)
	if err != nil {
		return nil, err
	}
	query := "SELECT TABLE_NAME, VIEW_DEFINITION FROM information_schema.VIEWS WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME"
	rows, err := m.db.QueryContext(ctx, query, name)
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
		views[view.Name] = &view
	}

	return views, rows.Err()
}
