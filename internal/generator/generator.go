// Package generator turns a change set into the ordered statements that
// apply it to a live database.
package generator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/diff"
)

// ErrUnsupported is returned when a change cannot be expressed in the
// target dialect
var ErrUnsupported = errors.New("unsupported operation")

// UnsupportedError names the change a dialect cannot apply
type UnsupportedError struct {
	Dialect string
	Op      string
	Class   string
	Table   string
	Name    string
}

func (e *UnsupportedError) Error() string {
	target := strings.Trim(e.Table+"."+e.Name, ".")
	return fmt.Sprintf("%s does not support %s of %s %s", e.Dialect, e.Op, e.Class, target)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

// Statement is one SQL statement of a plan
type Statement struct {
	SQL   string
	Class string
	// DDL is set for statements that change the structure. Some engines
	// commit them implicitly.
	DDL bool
}

// DefaultChunkSize is the number of rows per bulk INSERT
const DefaultChunkSize = 500

// Generator renders change sets for one dialect
type Generator struct {
	dialect   dialect.Dialect
	caps      dialect.Capabilities
	chunkSize int
}

// New creates a generator for d
func New(d dialect.Dialect) *Generator {
	return &Generator{
		dialect:   d,
		caps:      d.Capabilities(),
		chunkSize: DefaultChunkSize,
	}
}

// SetChunkSize sets the number of rows per bulk INSERT
func (g *Generator) SetChunkSize(n int) {
	if n > 0 {
		g.chunkSize = n
	}
}

// plan collects statements while rendering
type plan struct {
	statements []Statement
}

func (p *plan) ddl(class string, sql ...string) {
	for _, s := range sql {
		p.statements = append(p.statements, Statement{SQL: s, Class: class, DDL: true})
	}
}

func (p *plan) dml(class string, sql ...string) {
	for _, s := range sql {
		p.statements = append(p.statements, Statement{SQL: s, Class: class})
	}
}

// Plan returns the statements applying cs in execution order. Changes the
// dialect cannot express are rejected before any statement is returned.
func (g *Generator) Plan(cs *diff.ChangeSet) ([]Statement, error) {
	p := &plan{}

	// Inserted containers
	for _, key := range diff.SortedKeys(cs.Insert.Procedures) {
		if err := g.generateCreateProcedure(p, cs.Insert.Procedures[key]); err != nil {
			return nil, err
		}
	}
	if err := g.generateCreateTables(p, cs.Insert.Tables); err != nil {
		return nil, err
	}
	for _, name := range diff.SortedKeys(cs.Insert.Events) {
		if err := g.generateCreateEvent(p, cs.Insert.Events[name]); err != nil {
			return nil, err
		}
	}

	// Views may depend on anything below, so every changed view is dropped
	// first and created last
	for _, name := range diff.SortedKeys(cs.Delete.Views) {
		p.ddl(diff.ClassViews, g.generateDropView(name))
	}
	for _, name := range diff.SortedKeys(cs.Update.Views) {
		p.ddl(diff.ClassViews, g.generateDropView(name))
	}

	// Deleted containers
	for _, name := range diff.SortedKeys(cs.Delete.Events) {
		if err := g.generateDropEvent(p, name); err != nil {
			return nil, err
		}
	}
	for _, name := range g.sortTables(cs.Delete.Tables, true) {
		p.ddl(diff.ClassTables, g.generateDropTable(name))
	}
	for _, key := range diff.SortedKeys(cs.Delete.Procedures) {
		if err := g.generateDropProcedure(p, cs.Delete.Procedures[key]); err != nil {
			return nil, err
		}
	}

	// Nested inserts, then nested deletes in reverse dependency order
	if err := g.generateNestedInserts(p, &cs.Insert); err != nil {
		return nil, err
	}
	if err := g.generateNestedDeletes(p, &cs.Delete); err != nil {
		return nil, err
	}

	// Updates
	for _, name := range diff.SortedKeys(cs.Update.Tables) {
		if err := g.generateAlterTable(p, cs.Update.Tables[name]); err != nil {
			return nil, err
		}
	}
	if err := g.generateNestedUpdates(p, &cs.Update); err != nil {
		return nil, err
	}
	for _, key := range diff.SortedKeys(cs.Update.Procedures) {
		rec := cs.Update.Procedures[key]
		if err := g.generateDropProcedure(p, rec); err != nil {
			return nil, err
		}
		if err := g.generateCreateProcedure(p, rec); err != nil {
			return nil, err
		}
	}
	for _, name := range diff.SortedKeys(cs.Update.Events) {
		if err := g.generateDropEvent(p, name); err != nil {
			return nil, err
		}
		if err := g.generateCreateEvent(p, cs.Update.Events[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range diff.SortedKeys(cs.Insert.Views) {
		p.ddl(diff.ClassViews, g.generateCreateView(cs.Insert.Views[name]))
	}
	for _, name := range diff.SortedKeys(cs.Update.Views) {
		p.ddl(diff.ClassViews, g.generateCreateView(cs.Update.Views[name]))
	}

	// Data
	for _, name := range diff.SortedKeys(cs.Delete.Data) {
		p.dml(diff.ClassData, g.generateDeleteRows(name))
	}
	for _, name := range diff.SortedKeys(cs.Insert.Data) {
		g.generateReplaceRows(p, cs.Insert.Data[name])
	}
	for _, name := range diff.SortedKeys(cs.Update.Data) {
		g.generateReplaceRows(p, cs.Update.Data[name])
	}

	return p.statements, nil
}

func (g *Generator) generateNestedInserts(p *plan, c *diff.Changes) error {
	for _, tbl := range diff.SortedKeys(c.Columns) {
		for _, name := range diff.SortedKeys(c.Columns[tbl]) {
			p.ddl(diff.ClassColumns, g.generateAddColumn(c.Columns[tbl][name]))
		}
	}
	for _, tbl := range diff.SortedKeys(c.Indexes) {
		for _, name := range diff.SortedKeys(c.Indexes[tbl]) {
			sql, err := g.generateCreateIndex(c.Indexes[tbl][name])
			if err != nil {
				return err
			}
			p.ddl(diff.ClassIndexes, sql...)
		}
	}
	for _, tbl := range diff.SortedKeys(c.Constraints) {
		for _, name := range diff.SortedKeys(c.Constraints[tbl]) {
			sql, err := g.generateAddForeignKey(c.Constraints[tbl][name])
			if err != nil {
				return err
			}
			p.ddl(diff.ClassConstraints, sql)
		}
	}
	for _, tbl := range diff.SortedKeys(c.Triggers) {
		for _, name := range diff.SortedKeys(c.Triggers[tbl]) {
			p.ddl(diff.ClassTriggers, g.generateCreateTrigger(c.Triggers[tbl][name]))
		}
	}
	return nil
}

func (g *Generator) generateNestedDeletes(p *plan, c *diff.Changes) error {
	for _, tbl := range diff.SortedKeys(c.Triggers) {
		for _, name := range diff.SortedKeys(c.Triggers[tbl]) {
			p.ddl(diff.ClassTriggers, g.generateDropTrigger(c.Triggers[tbl][name]))
		}
	}
	for _, tbl := range diff.SortedKeys(c.Constraints) {
		for _, name := range diff.SortedKeys(c.Constraints[tbl]) {
			sql, err := g.generateDropForeignKey(c.Constraints[tbl][name])
			if err != nil {
				return err
			}
			p.ddl(diff.ClassConstraints, sql)
		}
	}
	for _, tbl := range diff.SortedKeys(c.Indexes) {
		for _, name := range diff.SortedKeys(c.Indexes[tbl]) {
			sql, err := g.generateDropIndex(c.Indexes[tbl][name])
			if err != nil {
				return err
			}
			p.ddl(diff.ClassIndexes, sql)
		}
	}
	for _, tbl := range diff.SortedKeys(c.Columns) {
		for _, name := range diff.SortedKeys(c.Columns[tbl]) {
			p.ddl(diff.ClassColumns, g.generateDropColumn(c.Columns[tbl][name]))
		}
	}
	return nil
}

// generateNestedUpdates issues native alters where the dialect has them and
// falls back to drop then create otherwise
func (g *Generator) generateNestedUpdates(p *plan, c *diff.Changes) error {
	for _, tbl := range diff.SortedKeys(c.Columns) {
		for _, name := range diff.SortedKeys(c.Columns[tbl]) {
			sql, err := g.generateModifyColumn(c.Columns[tbl][name])
			if err != nil {
				return err
			}
			p.ddl(diff.ClassColumns, sql...)
		}
	}
	for _, tbl := range diff.SortedKeys(c.Indexes) {
		for _, name := range diff.SortedKeys(c.Indexes[tbl]) {
			rec := c.Indexes[tbl][name]
			drop, err := g.generateDropIndex(rec)
			if err != nil {
				return err
			}
			create, err := g.generateCreateIndex(rec)
			if err != nil {
				return err
			}
			p.ddl(diff.ClassIndexes, drop)
			p.ddl(diff.ClassIndexes, create...)
		}
	}
	for _, tbl := range diff.SortedKeys(c.Constraints) {
		for _, name := range diff.SortedKeys(c.Constraints[tbl]) {
			rec := c.Constraints[tbl][name]
			drop, err := g.generateDropForeignKey(rec)
			if err != nil {
				return err
			}
			add, err := g.generateAddForeignKey(rec)
			if err != nil {
				return err
			}
			p.ddl(diff.ClassConstraints, drop, add)
		}
	}
	for _, tbl := range diff.SortedKeys(c.Triggers) {
		for _, name := range diff.SortedKeys(c.Triggers[tbl]) {
			rec := c.Triggers[tbl][name]
			p.ddl(diff.ClassTriggers, g.generateDropTrigger(rec), g.generateCreateTrigger(rec))
		}
	}
	return nil
}

// ForeignKeyChecks returns the statement enabling or disabling foreign key
// enforcement for the current session
func (g *Generator) ForeignKeyChecks(enabled bool) string {
	switch g.dialect.Name() {
	case dialect.NamePostgres:
		if enabled {
			return "SET session_replication_role = DEFAULT"
		}
		return "SET session_replication_role = replica"
	case dialect.NameSQLite:
		if enabled {
			return "PRAGMA foreign_keys = ON"
		}
		return "PRAGMA foreign_keys = OFF"
	default:
		if enabled {
			return "SET FOREIGN_KEY_CHECKS = 1"
		}
		return "SET FOREIGN_KEY_CHECKS = 0"
	}
}

// ForeignKeyChecksQuery returns the query reading the foreign key enforcement
// of the current session
func (g *Generator) ForeignKeyChecksQuery() string {
	switch g.dialect.Name() {
	case dialect.NamePostgres:
		return "SHOW session_replication_role"
	case dialect.NameSQLite:
		return "PRAGMA foreign_keys"
	default:
		return "SELECT @@SESSION.foreign_key_checks"
	}
}

// ForeignKeyChecksEnabled interprets the value read by ForeignKeyChecksQuery
func (g *Generator) ForeignKeyChecksEnabled(value string) bool {
	if g.is(dialect.NamePostgres) {
		return value != "replica"
	}
	return value != "0"
}

func (g *Generator) unsupported(op, class, table, name string) error {
	return &UnsupportedError{Dialect: g.dialect.Name(), Op: op, Class: class, Table: table, Name: name}
}
