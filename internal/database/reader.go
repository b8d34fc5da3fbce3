package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

// Catalog reads the structure of one database engine
type Catalog interface {
	DatabaseMeta(ctx context.Context) (schema.Meta, error)
	GetAllTables(ctx context.Context) ([]string, error)
	GetTableSchema(ctx context.Context, tableName string) (*schema.Table, error)
	GetProcedures(ctx context.Context) (map[string]*schema.Procedure, error)
	GetEvents(ctx context.Context) (map[string]*schema.Event, error)
	GetViews(ctx context.Context) (map[string]*schema.View, error)
}

// IntrospectionError is returned when the live structure cannot be read
type IntrospectionError struct {
	Object string
	Err    error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Object, e.Err)
}

func (e *IntrospectionError) Unwrap() error {
	return e.Err
}

// Reader builds snapshots of a live database. Snapshots are cached until
// Reset is called.
type Reader struct {
	db      *sql.DB
	dialect dialect.Dialect
	catalog Catalog
	logger  *logrus.Logger
	pattern *regexp.Regexp
	cached  *schema.Snapshot
}

// NewReader creates a reader over db using catalog for introspection
func NewReader(db *sql.DB, d dialect.Dialect, catalog Catalog, logger *logrus.Logger) *Reader {
	return &Reader{
		db:      db,
		dialect: d,
		catalog: catalog,
		logger:  logger,
	}
}

// Reader returns a snapshot reader for the connection
func (c *Connection) Reader(logger *logrus.Logger) *Reader {
	return NewReader(c.DB, c.Dialect, c.Catalog, logger)
}

// Dialect returns the dialect of the read database
func (r *Reader) Dialect() dialect.Dialect {
	return r.dialect
}

// SetInfoTablePattern sets the regular expression selecting the tables whose
// rows are captured. An empty pattern captures no rows.
func (r *Reader) SetInfoTablePattern(pattern string) error {
	re, err := schema.CompileInfoTablePattern(pattern)
	if err != nil {
		return err
	}
	r.pattern = re
	r.Reset()
	return nil
}

// Tracks reports whether the rows of table are captured
func (r *Reader) Tracks(table string) bool {
	return r.pattern != nil && r.pattern.MatchString(table)
}

// Reset drops the cached snapshot
func (r *Reader) Reset() {
	r.cached = nil
}

// Read returns the structure of the live database
func (r *Reader) Read(ctx context.Context) (*schema.Snapshot, error) {
	if r.cached != nil {
		return r.cached, nil
	}

	start := time.Now()
	snap := schema.NewSnapshot()

	meta, err := r.catalog.DatabaseMeta(ctx)
	if err != nil {
		return nil, &IntrospectionError{Object: "database meta", Err: err}
	}
	snap.Meta = meta

	tables, err := r.catalog.GetAllTables(ctx)
	if err != nil {
		return nil, &IntrospectionError{Object: "tables", Err: err}
	}

	for _, name := range tables {
		table, err := r.catalog.GetTableSchema(ctx, name)
		if err != nil {
			return nil, &IntrospectionError{Object: "table " + name, Err: err}
		}
		snap.Tables[name] = table

		if !r.Tracks(name) {
			continue
		}
		data, err := GetTableData(ctx, r.db, r.dialect, table)
		if err != nil {
			return nil, &IntrospectionError{Object: "rows of " + name, Err: err}
		}
		snap.Data[name] = data
	}

	if snap.Procedures, err = r.catalog.GetProcedures(ctx); err != nil {
		return nil, &IntrospectionError{Object: "procedures", Err: err}
	}
	if snap.Events, err = r.catalog.GetEvents(ctx); err != nil {
		return nil, &IntrospectionError{Object: "events", Err: err}
	}
	if snap.Views, err = r.catalog.GetViews(ctx); err != nil {
		return nil, &IntrospectionError{Object: "views", Err: err}
	}
	snap.Normalize()

	r.logger.WithFields(logrus.Fields{
		"driver":   meta.Driver,
		"database": meta.Database,
		"tables":   len(snap.Tables),
		"data":     len(snap.Data),
		"elapsed":  time.Since(start).String(),
	}).Debug("Read live schema")

	r.cached = snap
	return snap, nil
}

// GetTableData retrieves all rows of a table ordered by its primary key, or
// by every column when it has none
func GetTableData(ctx context.Context, db *sql.DB, d dialect.Dialect, table *schema.Table) (*schema.TableData, error) {
	fields := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		fields[i] = col.Name
	}
	data := &schema.TableData{Fields: fields, Rows: [][]*string{}}
	if len(fields) == 0 {
		return data, nil
	}

	order := fields
	if pk := table.PrimaryKey(); pk != nil && len(pk.Columns) > 0 {
		order = pk.ColumnNames()
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		dialect.WrapList(d, fields), d.Wrap(table.Name, true), dialect.WrapList(d, order))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get table data: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]interface{}, len(fields))
		valuePtrs := make([]interface{}, len(fields))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]*string, len(fields))
		for i, val := range values {
			row[i] = normalizeValue(val)
		}
		data.Rows = append(data.Rows, row)
	}

	return data, rows.Err()
}

// normalizeValue converts a driver value to its text form
func normalizeValue(val interface{}) *string {
	var s string
	switch v := val.(type) {
	case nil:
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	case time.Time:
		s = v.Format(time.RFC3339Nano)
	default:
		s = fmt.Sprint(v)
	}
	return &s
}

// collectNames scans a single string column
func collectNames(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// scanRowMap scans the current row into a map keyed by lower-cased column
// name. It is used for SHOW statements whose column sets vary by version.
func scanRowMap(rows *sql.Rows) (map[string]string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	values := make([]sql.NullString, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	row := make(map[string]string, len(columns))
	for i, col := range columns {
		row[strings.ToLower(col)] = values[i].String
	}
	return row, nil
}
