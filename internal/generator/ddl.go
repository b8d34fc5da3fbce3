package generator

import (
	"fmt"
	"strings"

	"github.com/yourbasic/graph"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/diff"
	"github.com/koba/schemasync/internal/schema"
)

func (g *Generator) is(name string) bool {
	return g.dialect.Name() == name
}

func (g *Generator) table(name string) string {
	return g.dialect.Wrap(name, true)
}

func (g *Generator) ident(name string) string {
	return g.dialect.Wrap(name, false)
}

// sortTables orders tables so that referenced tables come before the tables
// referencing them, or after them when reverse is set. Cycles fall back to
// name order since foreign key checks are off while applying.
func (g *Generator) sortTables(tables map[string]*diff.TableRecord, reverse bool) []string {
	names := diff.SortedKeys(tables)
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	deps := graph.New(len(names))
	for i, name := range names {
		t := tables[name].Table
		if t == nil {
			continue
		}
		for _, fkName := range diff.SortedKeys(t.Constraints) {
			if j, ok := index[t.Constraints[fkName].ReferencedTable]; ok && j != i {
				deps.Add(j, i)
			}
		}
	}

	ordered := names
	if order, ok := graph.TopSort(deps); ok {
		ordered = make([]string, len(order))
		for i, v := range order {
			ordered[i] = names[v]
		}
	}
	if reverse {
		reversed := make([]string, len(ordered))
		for i, name := range ordered {
			reversed[len(ordered)-1-i] = name
		}
		return reversed
	}
	return ordered
}

// generateCreateTables creates inserted tables with their triggers. A
// captured definition is replayed as is; otherwise the statement is rendered
// from the descriptor. PostgreSQL foreign keys are added once every table
// exists.
func (g *Generator) generateCreateTables(p *plan, tables map[string]*diff.TableRecord) error {
	var foreignKeys []string

	for _, name := range g.sortTables(tables, false) {
		rec := tables[name]
		if rec.Definition != "" && !g.is(dialect.NamePostgres) {
			p.ddl(diff.ClassTables, rec.Definition)
			// SQLite keeps CREATE INDEX statements apart from the table
			if g.is(dialect.NameSQLite) && rec.Table != nil {
				for i := range rec.Table.Indexes {
					if idx := &rec.Table.Indexes[i]; !idx.Primary {
						create, err := g.generateCreateIndex(g.indexRecord(name, idx))
						if err != nil {
							return err
						}
						p.ddl(diff.ClassIndexes, create...)
					}
				}
			}
		} else {
			if rec.Table == nil {
				return fmt.Errorf("failed to create table %s: no definition", name)
			}
			create, after, fks, err := g.generateCreateTable(rec.Table)
			if err != nil {
				return err
			}
			p.ddl(diff.ClassTables, create)
			p.ddl(diff.ClassIndexes, after...)
			foreignKeys = append(foreignKeys, fks...)
		}

		for _, trg := range rec.Triggers {
			p.ddl(diff.ClassTriggers, g.generateCreateTrigger(trg))
		}
	}

	p.ddl(diff.ClassConstraints, foreignKeys...)
	return nil
}

// generateCreateTable renders CREATE TABLE for t. It returns the statements
// to run right after it and the foreign keys to add once all tables exist.
func (g *Generator) generateCreateTable(t *schema.Table) (string, []string, []string, error) {
	var parts, after, fks []string

	pk := t.PrimaryKey()
	inlinePK := false
	for _, col := range t.Columns {
		def := g.ident(col.Name) + " " + g.dialect.ColumnDefinition(col)
		if g.is(dialect.NameSQLite) && col.AutoIncrement && pk != nil && len(pk.Columns) == 1 && pk.Columns[0].Name == col.Name {
			def += " PRIMARY KEY AUTOINCREMENT"
			inlinePK = true
		}
		parts = append(parts, def)
	}

	if pk != nil && !inlinePK {
		cols := dialect.WrapIndexColumns(g.dialect, pk.Columns)
		if g.is(dialect.NamePostgres) {
			parts = append(parts, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", g.ident(pk.Name), cols))
		} else {
			parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", cols))
		}
	}

	for i := range t.Indexes {
		idx := &t.Indexes[i]
		if idx.Primary {
			continue
		}
		rec := g.indexRecord(t.Name, idx)
		if g.is(dialect.NameMySQL) {
			parts = append(parts, g.mysqlIndexClause(rec, "KEY"))
			continue
		}
		create, err := g.generateCreateIndex(rec)
		if err != nil {
			return "", nil, nil, err
		}
		after = append(after, create...)
	}

	for _, name := range diff.SortedKeys(t.Constraints) {
		rec := g.constraintRecord(t.Name, t.Constraints[name])
		if g.is(dialect.NamePostgres) {
			fks = append(fks, fmt.Sprintf("ALTER TABLE %s ADD %s", g.table(t.Name), g.foreignKeyClause(rec)))
			continue
		}
		parts = append(parts, g.foreignKeyClause(rec))
	}

	create := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", g.table(t.Name), strings.Join(parts, ",\n  "))

	switch g.dialect.Name() {
	case dialect.NameMySQL:
		if opts := g.mysqlTableOptions(t.Meta, false); opts != "" {
			create += " " + opts
		}
	case dialect.NamePostgres:
		if t.Meta.Options != "" {
			create += fmt.Sprintf(" WITH (%s)", t.Meta.Options)
		}
		if t.Meta.Comment != "" {
			after = append(after, fmt.Sprintf("COMMENT ON TABLE %s IS %s", g.table(t.Name), g.dialect.Quote(t.Meta.Comment, false)))
		}
	case dialect.NameSQLite:
		if t.Meta.Options != "" {
			create += " " + t.Meta.Options
		}
	}

	return create, after, fks, nil
}

func (g *Generator) generateDropTable(name string) string {
	if g.is(dialect.NamePostgres) {
		return fmt.Sprintf("DROP TABLE %s CASCADE", g.table(name))
	}
	return fmt.Sprintf("DROP TABLE %s", g.table(name))
}

// generateAlterTable applies a table meta change
func (g *Generator) generateAlterTable(p *plan, rec *diff.TableRecord) error {
	if !g.caps.AlterTableOptions {
		return g.unsupported("alter", diff.ClassTables, "", rec.Name)
	}

	if g.is(dialect.NamePostgres) {
		comment := "NULL"
		if rec.Meta.Comment != "" {
			comment = g.dialect.Quote(rec.Meta.Comment, false)
		}
		p.ddl(diff.ClassTables, fmt.Sprintf("COMMENT ON TABLE %s IS %s", g.table(rec.Name), comment))
		if rec.Meta.Options != "" {
			p.ddl(diff.ClassTables, fmt.Sprintf("ALTER TABLE %s SET (%s)", g.table(rec.Name), rec.Meta.Options))
		}
		return nil
	}

	p.ddl(diff.ClassTables, fmt.Sprintf("ALTER TABLE %s %s", g.table(rec.Name), g.mysqlTableOptions(rec.Meta, true)))
	return nil
}

// mysqlTableOptions renders ENGINE, COLLATE, COMMENT and the key=value
// create options of a table. An alter always carries the comment so that a
// removed comment is cleared.
func (g *Generator) mysqlTableOptions(meta schema.TableMeta, alter bool) string {
	var opts []string
	if meta.Engine != "" {
		opts = append(opts, "ENGINE="+meta.Engine)
	}
	if meta.Collation != "" {
		opts = append(opts, "COLLATE="+meta.Collation)
	}
	if meta.Comment != "" || alter {
		opts = append(opts, "COMMENT="+g.dialect.Quote(meta.Comment, false))
	}
	for _, opt := range strings.Fields(meta.Options) {
		// CREATE_OPTIONS also lists flags such as "partitioned"
		if strings.Contains(opt, "=") {
			opts = append(opts, opt)
		}
	}
	return strings.Join(opts, " ")
}

func (g *Generator) generateAddColumn(rec *diff.ColumnRecord) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", g.table(rec.Table), g.ident(rec.Name), rec.Definition)
}

// generateRebuildColumn drops and re-adds a column. Indexes covering it
// would block the drop, so they are dropped first and created afterwards.
func (g *Generator) generateRebuildColumn(rec *diff.ColumnRecord) ([]string, error) {
	var before, after []string
	for _, idx := range rec.Indexes {
		if idx.Class == "PRIMARY" {
			return nil, g.unsupported("alter", diff.ClassColumns, rec.Table, rec.Name)
		}
		drop, err := g.generateDropIndex(idx)
		if err != nil {
			return nil, err
		}
		create, err := g.generateCreateIndex(idx)
		if err != nil {
			return nil, err
		}
		before = append(before, drop)
		after = append(after, create...)
	}

	statements := append(before, g.generateDropColumn(rec), g.generateAddColumn(rec))
	return append(statements, after...), nil
}

func (g *Generator) generateDropColumn(rec *diff.ColumnRecord) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", g.table(rec.Table), g.ident(rec.Name))
}

// generateModifyColumn alters a column in place, renaming it first when the
// record carries an old name. Dialects without ALTER COLUMN rebuild the
// column.
func (g *Generator) generateModifyColumn(rec *diff.ColumnRecord) ([]string, error) {
	if rec.OldName != "" && !g.caps.RenameColumn {
		return nil, g.unsupported("rename", diff.ClassColumns, rec.Table, rec.OldName)
	}
	if !g.caps.AlterColumn {
		return g.generateRebuildColumn(rec)
	}

	tableName := g.table(rec.Table)
	if !g.is(dialect.NamePostgres) {
		if rec.OldName != "" {
			return []string{fmt.Sprintf("ALTER TABLE %s CHANGE COLUMN %s %s %s",
				tableName, g.ident(rec.OldName), g.ident(rec.Name), rec.Definition)}, nil
		}
		return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s", tableName, g.ident(rec.Name), rec.Definition)}, nil
	}

	if rec.Column == nil {
		return nil, fmt.Errorf("failed to alter column %s.%s: missing column descriptor", rec.Table, rec.Name)
	}

	var statements []string
	if rec.OldName != "" {
		statements = append(statements, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			tableName, g.ident(rec.OldName), g.ident(rec.Name)))
	}

	col := rec.Column
	name := g.ident(col.Name)
	nativeType := dialect.NormalizeType(col.Type)
	actions := []string{fmt.Sprintf("ALTER COLUMN %s TYPE %s USING %s::%s", name, nativeType, name, nativeType)}
	if col.Nullable {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", name))
	} else {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", name))
	}
	if col.DefaultValue != nil {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", name, *col.DefaultValue))
	} else {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", name))
	}
	statements = append(statements, fmt.Sprintf("ALTER TABLE %s %s", tableName, strings.Join(actions, ", ")))

	return statements, nil
}

func (g *Generator) indexRecord(table string, idx *schema.Index) *diff.IndexRecord {
	return &diff.IndexRecord{
		Table:   table,
		Name:    idx.Name,
		Class:   diff.IndexClass(idx),
		Type:    idx.Method,
		Columns: dialect.WrapIndexColumns(g.dialect, idx.Columns),
		Comment: idx.Comment,
		Index:   idx,
	}
}

// mysqlIndexClause renders an index for ALTER TABLE ADD or a CREATE TABLE
// body, keyword being INDEX or KEY respectively
func (g *Generator) mysqlIndexClause(rec *diff.IndexRecord, keyword string) string {
	var clause string
	switch rec.Class {
	case "INDEX":
		clause = fmt.Sprintf("%s %s (%s)", keyword, g.ident(rec.Name), rec.Columns)
	default:
		clause = fmt.Sprintf("%s %s %s (%s)", rec.Class, keyword, g.ident(rec.Name), rec.Columns)
	}
	if method := strings.ToUpper(rec.Type); (method == "BTREE" || method == "HASH") && (rec.Class == "INDEX" || rec.Class == "UNIQUE") {
		clause += " USING " + method
	}
	if rec.Comment != "" {
		clause += " COMMENT " + g.dialect.Quote(rec.Comment, false)
	}
	return clause
}

func (g *Generator) generateCreateIndex(rec *diff.IndexRecord) ([]string, error) {
	tableName := g.table(rec.Table)

	if rec.Class == "PRIMARY" {
		switch g.dialect.Name() {
		case dialect.NameMySQL:
			return []string{fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", tableName, rec.Columns)}, nil
		case dialect.NamePostgres:
			return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)", tableName, g.ident(rec.Name), rec.Columns)}, nil
		}
		return nil, g.unsupported("add", diff.ClassIndexes, rec.Table, rec.Name)
	}

	unique := ""
	if rec.Class == "UNIQUE" {
		unique = "UNIQUE "
	}

	switch g.dialect.Name() {
	case dialect.NameMySQL:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD %s", tableName, g.mysqlIndexClause(rec, "INDEX"))}, nil
	case dialect.NamePostgres:
		method := ""
		if rec.Type != "" {
			method = " USING " + strings.ToLower(rec.Type)
		}
		statements := []string{fmt.Sprintf("CREATE %sINDEX %s ON %s%s (%s)", unique, g.ident(rec.Name), tableName, method, rec.Columns)}
		if rec.Comment != "" {
			statements = append(statements, fmt.Sprintf("COMMENT ON INDEX %s IS %s", g.table(rec.Name), g.dialect.Quote(rec.Comment, false)))
		}
		return statements, nil
	}
	return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, g.ident(rec.Name), tableName, rec.Columns)}, nil
}

func (g *Generator) generateDropIndex(rec *diff.IndexRecord) (string, error) {
	tableName := g.table(rec.Table)

	switch g.dialect.Name() {
	case dialect.NameMySQL:
		if rec.Class == "PRIMARY" {
			return fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", tableName), nil
		}
		return fmt.Sprintf("DROP INDEX %s ON %s", g.ident(rec.Name), tableName), nil
	case dialect.NamePostgres:
		if rec.Class == "PRIMARY" {
			return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", tableName, g.ident(rec.Name)), nil
		}
		return fmt.Sprintf("DROP INDEX %s", g.table(rec.Name)), nil
	}

	if rec.Class == "PRIMARY" {
		return "", g.unsupported("drop", diff.ClassIndexes, rec.Table, rec.Name)
	}
	return fmt.Sprintf("DROP INDEX %s", g.ident(rec.Name)), nil
}

func (g *Generator) constraintRecord(table string, fk *schema.ForeignKey) *diff.ConstraintRecord {
	return &diff.ConstraintRecord{
		Table:      table,
		Name:       fk.Name,
		Keys:       dialect.WrapList(g.dialect, fk.Columns),
		RefTable:   fk.ReferencedTable,
		Links:      dialect.WrapList(g.dialect, fk.ReferencedColumns),
		OnDelete:   fk.OnDelete,
		OnUpdate:   fk.OnUpdate,
		ForeignKey: fk,
	}
}

func (g *Generator) foreignKeyClause(rec *diff.ConstraintRecord) string {
	clause := fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		g.ident(rec.Name),
		rec.Keys,
		g.table(rec.RefTable),
		rec.Links,
	)
	if rec.OnDelete != "" {
		clause += " ON DELETE " + rec.OnDelete
	}
	if rec.OnUpdate != "" {
		clause += " ON UPDATE " + rec.OnUpdate
	}
	return clause
}

func (g *Generator) generateAddForeignKey(rec *diff.ConstraintRecord) (string, error) {
	if !g.caps.AddForeignKey {
		return "", g.unsupported("add", diff.ClassConstraints, rec.Table, rec.Name)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD %s", g.table(rec.Table), g.foreignKeyClause(rec)), nil
}

func (g *Generator) generateDropForeignKey(rec *diff.ConstraintRecord) (string, error) {
	if !g.caps.DropForeignKey {
		return "", g.unsupported("drop", diff.ClassConstraints, rec.Table, rec.Name)
	}
	if g.is(dialect.NamePostgres) {
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", g.table(rec.Table), g.ident(rec.Name)), nil
	}
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", g.table(rec.Table), g.ident(rec.Name)), nil
}

func (g *Generator) generateCreateTrigger(rec *diff.TriggerRecord) string {
	forEach := "FOR EACH ROW "
	if strings.HasPrefix(strings.ToUpper(rec.Body), "FOR EACH") {
		forEach = ""
	}
	return fmt.Sprintf("CREATE TRIGGER %s %s %s ON %s %s%s",
		g.ident(rec.Name),
		rec.Time,
		rec.Event,
		g.table(rec.Table),
		forEach,
		rec.Body,
	)
}

func (g *Generator) generateDropTrigger(rec *diff.TriggerRecord) string {
	if g.is(dialect.NamePostgres) {
		return fmt.Sprintf("DROP TRIGGER %s ON %s", g.ident(rec.Name), g.table(rec.Table))
	}
	return fmt.Sprintf("DROP TRIGGER %s", g.ident(rec.Name))
}

// generateCreateProcedure replays the captured CREATE statement
func (g *Generator) generateCreateProcedure(p *plan, rec *diff.ProcedureRecord) error {
	if g.is(dialect.NameSQLite) {
		return g.unsupported("create", diff.ClassProcedures, "", rec.Name)
	}
	p.ddl(diff.ClassProcedures, rec.Definition)
	return nil
}

func (g *Generator) generateDropProcedure(p *plan, rec *diff.ProcedureRecord) error {
	switch g.dialect.Name() {
	case dialect.NameMySQL:
		p.ddl(diff.ClassProcedures, fmt.Sprintf("DROP %s %s", rec.Type, g.ident(rec.Name)))
	case dialect.NamePostgres:
		p.ddl(diff.ClassProcedures, fmt.Sprintf("DROP %s %s(%s)", rec.Type, g.table(rec.Name), rec.Signature))
	default:
		return g.unsupported("drop", diff.ClassProcedures, "", rec.Name)
	}
	return nil
}

var eventStatus = map[string]string{
	"ENABLED":            "ENABLE",
	"DISABLED":           "DISABLE",
	"SLAVESIDE_DISABLED": "DISABLE ON SLAVE",
}

func (g *Generator) generateCreateEvent(p *plan, rec *diff.EventRecord) error {
	if !g.is(dialect.NameMySQL) {
		return g.unsupported("create", diff.ClassEvents, "", rec.Name)
	}

	stmt := fmt.Sprintf("CREATE EVENT %s ON SCHEDULE %s", g.ident(rec.Name), rec.Schedule)
	if rec.Completion != "" {
		stmt += " ON COMPLETION " + rec.Completion
	}
	if status, ok := eventStatus[strings.ToUpper(rec.Status)]; ok {
		stmt += " " + status
	}
	if rec.Comment != "" {
		stmt += " COMMENT " + g.dialect.Quote(rec.Comment, false)
	}
	p.ddl(diff.ClassEvents, stmt+" DO "+rec.Body)
	return nil
}

func (g *Generator) generateDropEvent(p *plan, name string) error {
	if !g.is(dialect.NameMySQL) {
		return g.unsupported("drop", diff.ClassEvents, "", name)
	}
	p.ddl(diff.ClassEvents, fmt.Sprintf("DROP EVENT %s", g.ident(name)))
	return nil
}

func (g *Generator) generateCreateView(rec *diff.ViewRecord) string {
	definition := strings.TrimSuffix(strings.TrimSpace(rec.Definition), ";")
	return fmt.Sprintf("CREATE VIEW %s AS %s", g.table(rec.Name), definition)
}

func (g *Generator) generateDropView(name string) string {
	return fmt.Sprintf("DROP VIEW %s", g.table(name))
}
