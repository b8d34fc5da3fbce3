package generator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/diff"
	"github.com/koba/schemasync/internal/schema"
)

func usersTable() *schema.Table {
	t := schema.NewTable("users")
	t.Columns = []schema.Column{
		{Name: "id", Type: "int", Portable: schema.TypeInt, AutoIncrement: true, Position: 1},
		{Name: "name", Type: "varchar(64)", Portable: schema.TypeString, MaxLength: 64, Position: 2},
	}
	t.Indexes = []schema.Index{
		{Name: "users_pkey", Columns: []schema.IndexColumn{{Name: "id"}}, Unique: true, Primary: true},
	}
	return t
}

func ordersTable() *schema.Table {
	t := schema.NewTable("orders")
	t.Columns = []schema.Column{
		{Name: "id", Type: "int", Portable: schema.TypeInt, Position: 1},
		{Name: "user_id", Type: "int", Portable: schema.TypeInt, Position: 2},
	}
	t.Indexes = []schema.Index{
		{Name: "orders_pkey", Columns: []schema.IndexColumn{{Name: "id"}}, Unique: true, Primary: true},
		{Name: "idx_user", Columns: []schema.IndexColumn{{Name: "user_id"}}, Method: "BTREE"},
	}
	t.Constraints["fk_orders_users"] = &schema.ForeignKey{
		Name:              "fk_orders_users",
		Columns:           []string{"user_id"},
		ReferencedTable:   "users",
		ReferencedColumns: []string{"id"},
		OnDelete:          "CASCADE",
		OnUpdate:          "RESTRICT",
	}
	return t
}

func snapshotOf(tables ...*schema.Table) *schema.Snapshot {
	snap := schema.NewSnapshot()
	for _, t := range tables {
		snap.Tables[t.Name] = t
	}
	return snap
}

func planSQL(t *testing.T, d dialect.Dialect, current, target *schema.Snapshot) []string {
	t.Helper()
	statements, err := New(d).Plan(diff.New(d).Compare(current, target))
	require.NoError(t, err)
	return sqlOf(statements)
}

func sqlOf(statements []Statement) []string {
	sql := make([]string, len(statements))
	for i, s := range statements {
		sql[i] = s.SQL
	}
	return sql
}

func TestPlanEmpty(t *testing.T) {
	statements, err := New(dialect.NewMySQL()).Plan(diff.NewChangeSet())
	require.NoError(t, err)
	assert.Empty(t, statements)
}

func TestPlanAddNullableColumn(t *testing.T) {
	target := usersTable()
	target.Columns = append(target.Columns, schema.Column{
		Name: "email", Type: "varchar(255)", Portable: schema.TypeString, Nullable: true, MaxLength: 255, Position: 3,
	})

	sql := planSQL(t, dialect.NewMySQL(), snapshotOf(usersTable()), snapshotOf(target))
	assert.Equal(t, []string{"ALTER TABLE `users` ADD COLUMN `email` VARCHAR(255) NULL"}, sql)
}

func TestPlanDropForeignKey(t *testing.T) {
	target := ordersTable()
	delete(target.Constraints, "fk_orders_users")

	sql := planSQL(t, dialect.NewMySQL(), snapshotOf(usersTable(), ordersTable()), snapshotOf(usersTable(), target))
	assert.Equal(t, []string{"ALTER TABLE `orders` DROP FOREIGN KEY `fk_orders_users`"}, sql)

	sql = planSQL(t, dialect.NewPostgres("public"), snapshotOf(usersTable(), ordersTable()), snapshotOf(usersTable(), target))
	assert.Equal(t, []string{`ALTER TABLE "public"."orders" DROP CONSTRAINT "fk_orders_users"`}, sql)
}

func TestPlanCreateTablesInDependencyOrder(t *testing.T) {
	orders := ordersTable()
	orders.Triggers["trg_orders"] = &schema.Trigger{
		Name: "trg_orders", Table: "orders", Timing: "BEFORE", Event: "INSERT", Body: "EXECUTE FUNCTION stamp()",
	}

	sql := planSQL(t, dialect.NewPostgres("public"), schema.NewSnapshot(), snapshotOf(orders, usersTable()))
	require.Len(t, sql, 5)
	assert.Equal(t, "CREATE TABLE \"public\".\"users\" (\n"+
		"  \"id\" SERIAL NOT NULL,\n"+
		"  \"name\" VARCHAR(64) NOT NULL,\n"+
		"  CONSTRAINT \"users_pkey\" PRIMARY KEY (\"id\")\n"+
		")", sql[0])
	assert.Contains(t, sql[1], `CREATE TABLE "public"."orders"`)
	assert.NotContains(t, sql[1], "FOREIGN KEY")
	assert.Equal(t, `CREATE INDEX "idx_user" ON "public"."orders" USING btree ("user_id")`, sql[2])
	assert.Equal(t, `CREATE TRIGGER "trg_orders" BEFORE INSERT ON "public"."orders" FOR EACH ROW EXECUTE FUNCTION stamp()`, sql[3])
	assert.Equal(t, `ALTER TABLE "public"."orders" ADD CONSTRAINT "fk_orders_users" FOREIGN KEY ("user_id") `+
		`REFERENCES "public"."users" ("id") ON DELETE CASCADE ON UPDATE RESTRICT`, sql[4])
}

func TestPlanReplaysCapturedDefinition(t *testing.T) {
	users := usersTable()
	users.Definition = `CREATE TABLE "users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" TEXT NOT NULL)`
	users.Indexes = append(users.Indexes, schema.Index{Name: "idx_name", Columns: []schema.IndexColumn{{Name: "name"}}, Unique: true})

	sql := planSQL(t, dialect.NewSQLite(), schema.NewSnapshot(), snapshotOf(users))
	assert.Equal(t, []string{
		users.Definition,
		`CREATE UNIQUE INDEX "idx_name" ON "users" ("name")`,
	}, sql)
}

func TestPlanDropTablesInReverseOrder(t *testing.T) {
	sql := planSQL(t, dialect.NewMySQL(), snapshotOf(usersTable(), ordersTable()), schema.NewSnapshot())
	assert.Equal(t, []string{"DROP TABLE `orders`", "DROP TABLE `users`"}, sql)

	sql = planSQL(t, dialect.NewPostgres("app"), snapshotOf(usersTable()), schema.NewSnapshot())
	assert.Equal(t, []string{`DROP TABLE "app"."users" CASCADE`}, sql)
}

func TestPlanModifyColumn(t *testing.T) {
	target := usersTable()
	target.Columns[1].Type = "varchar(128)"
	target.Columns[1].Nullable = true
	target.Columns[1].DefaultValue = schema.Str("'anon'")

	sql := planSQL(t, dialect.NewMySQL(), snapshotOf(usersTable()), snapshotOf(target))
	assert.Equal(t, []string{"ALTER TABLE `users` MODIFY COLUMN `name` VARCHAR(128) NULL DEFAULT 'anon'"}, sql)

	sql = planSQL(t, dialect.NewPostgres("public"), snapshotOf(usersTable()), snapshotOf(target))
	assert.Equal(t, []string{`ALTER TABLE "public"."users" ALTER COLUMN "name" TYPE VARCHAR(128) USING "name"::VARCHAR(128), ` +
		`ALTER COLUMN "name" DROP NOT NULL, ALTER COLUMN "name" SET DEFAULT 'anon'`}, sql)

	// SQLite has no ALTER COLUMN
	sql = planSQL(t, dialect.NewSQLite(), snapshotOf(usersTable()), snapshotOf(target))
	assert.Equal(t, []string{
		`ALTER TABLE "users" DROP COLUMN "name"`,
		`ALTER TABLE "users" ADD COLUMN "name" VARCHAR(128) NULL DEFAULT 'anon'`,
	}, sql)
}

func TestPlanSQLiteRebuildsIndexedColumn(t *testing.T) {
	current := usersTable()
	current.Indexes = append(current.Indexes,
		schema.Index{Name: "idx_name", Columns: []schema.IndexColumn{{Name: "name"}}},
		schema.Index{Name: "idx_stale", Columns: []schema.IndexColumn{{Name: "name"}}},
	)
	target := usersTable()
	target.Columns[1].Type = "varchar(128)"
	target.Indexes = append(target.Indexes,
		schema.Index{Name: "idx_name", Columns: []schema.IndexColumn{{Name: "name"}}},
		schema.Index{Name: "idx_name_id", Columns: []schema.IndexColumn{{Name: "name"}, {Name: "id"}}, Unique: true},
	)

	sql := planSQL(t, dialect.NewSQLite(), snapshotOf(current), snapshotOf(target))
	assert.Equal(t, []string{
		`CREATE UNIQUE INDEX "idx_name_id" ON "users" ("name", "id")`,
		`DROP INDEX "idx_stale"`,
		`DROP INDEX "idx_name"`,
		`DROP INDEX "idx_name_id"`,
		`ALTER TABLE "users" DROP COLUMN "name"`,
		`ALTER TABLE "users" ADD COLUMN "name" VARCHAR(128) NOT NULL`,
		`CREATE INDEX "idx_name" ON "users" ("name")`,
		`CREATE UNIQUE INDEX "idx_name_id" ON "users" ("name", "id")`,
	}, sql)

	// Dialects with ALTER COLUMN leave the indexes alone
	sql = planSQL(t, dialect.NewMySQL(), snapshotOf(current), snapshotOf(target))
	assert.NotContains(t, sql, "DROP INDEX `idx_name` ON `users`")
}

func TestPlanRenameColumn(t *testing.T) {
	cs := diff.NewChangeSet()
	cs.Update.Columns["users"] = map[string]*diff.ColumnRecord{
		"full_name": {Table: "users", Name: "full_name", OldName: "name", Definition: "VARCHAR(64) NOT NULL"},
	}

	statements, err := New(dialect.NewMySQL()).Plan(cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE `users` CHANGE COLUMN `name` `full_name` VARCHAR(64) NOT NULL"}, sqlOf(statements))
}

func TestPlanIndexUpdate(t *testing.T) {
	target := ordersTable()
	target.Indexes[1].Unique = true

	sql := planSQL(t, dialect.NewMySQL(), snapshotOf(usersTable(), ordersTable()), snapshotOf(usersTable(), target))
	assert.Equal(t, []string{
		"DROP INDEX `idx_user` ON `orders`",
		"ALTER TABLE `orders` ADD UNIQUE INDEX `idx_user` (`user_id`) USING BTREE",
	}, sql)
}

func TestPlanTableMeta(t *testing.T) {
	current := usersTable()
	current.Meta = schema.TableMeta{Engine: "InnoDB", Comment: "people"}
	target := usersTable()
	target.Meta = schema.TableMeta{Engine: "MyISAM"}

	sql := planSQL(t, dialect.NewMySQL(), snapshotOf(current), snapshotOf(target))
	assert.Equal(t, []string{"ALTER TABLE `users` ENGINE=MyISAM COMMENT=''"}, sql)

	target.Meta = schema.TableMeta{Comment: "people", Options: "fillfactor=70"}
	sql = planSQL(t, dialect.NewPostgres("public"), snapshotOf(usersTable()), snapshotOf(target))
	assert.Equal(t, []string{
		`COMMENT ON TABLE "public"."users" IS 'people'`,
		`ALTER TABLE "public"."users" SET (fillfactor=70)`,
	}, sql)
}

func TestPlanRoutinesAndViews(t *testing.T) {
	current := snapshotOf(usersTable())
	current.Procedures["cleanup"] = &schema.Procedure{Name: "cleanup", Type: "PROCEDURE", Definition: "CREATE PROCEDURE `cleanup`() BEGIN END"}
	current.Views["v_users"] = &schema.View{Name: "v_users", Definition: "select `id` from `users`"}

	target := snapshotOf(usersTable())
	target.Procedures["cleanup"] = &schema.Procedure{Name: "cleanup", Type: "PROCEDURE", Definition: "CREATE PROCEDURE `cleanup`() BEGIN SELECT 1; END"}
	target.Views["v_users"] = &schema.View{Name: "v_users", Definition: "select `id`, `name` from `users`"}
	target.Events["nightly"] = &schema.Event{Name: "nightly", Schedule: "EVERY 1 DAY", Completion: "NOT PRESERVE", Status: "ENABLED", Body: "CALL cleanup()"}

	sql := planSQL(t, dialect.NewMySQL(), current, target)
	assert.Equal(t, []string{
		"CREATE EVENT `nightly` ON SCHEDULE EVERY 1 DAY ON COMPLETION NOT PRESERVE ENABLE DO CALL cleanup()",
		"DROP VIEW `v_users`",
		"DROP PROCEDURE `cleanup`",
		"CREATE PROCEDURE `cleanup`() BEGIN SELECT 1; END",
		"CREATE VIEW `v_users` AS select `id`, `name` from `users`",
	}, sql)
}

func TestPlanDataChunks(t *testing.T) {
	current := snapshotOf(usersTable())
	current.Data["users"] = &schema.TableData{Fields: []string{"id", "name"}}
	target := snapshotOf(usersTable())
	target.Data["users"] = &schema.TableData{
		Fields: []string{"id", "name"},
		Rows: [][]*string{
			{schema.Str("1"), schema.Str("Ann")},
			{schema.Str("2"), schema.Str("O'Brien")},
			{schema.Str("3"), nil},
		},
	}

	d := dialect.NewSQLite()
	g := New(d)
	g.SetChunkSize(2)
	statements, err := g.Plan(diff.New(d).Compare(current, target))
	require.NoError(t, err)

	assert.Equal(t, []string{
		`DELETE FROM "users"`,
		"INSERT INTO \"users\" (\"id\", \"name\") VALUES\n  ('1', 'Ann'),\n  ('2', 'O''Brien')",
		"INSERT INTO \"users\" (\"id\", \"name\") VALUES\n  ('3', NULL)",
	}, sqlOf(statements))
	for _, s := range statements {
		assert.False(t, s.DDL)
		assert.Equal(t, diff.ClassData, s.Class)
	}
}

func TestPlanSQLiteUnsupported(t *testing.T) {
	withoutFK := ordersTable()
	delete(withoutFK.Constraints, "fk_orders_users")
	d := dialect.NewSQLite()

	rename := diff.NewChangeSet()
	rename.Update.Columns["users"] = map[string]*diff.ColumnRecord{
		"full_name": {Table: "users", Name: "full_name", OldName: "name", Definition: "TEXT NULL"},
	}
	meta := usersTable()
	meta.Meta.Options = "STRICT"
	widerKey := usersTable()
	widerKey.Columns[0].Type = "bigint"

	tests := []struct {
		name string
		cs   *diff.ChangeSet
		op   string
	}{
		{"add foreign key", diff.New(d).Compare(snapshotOf(usersTable(), withoutFK), snapshotOf(usersTable(), ordersTable())), "add"},
		{"drop foreign key", diff.New(d).Compare(snapshotOf(usersTable(), ordersTable()), snapshotOf(usersTable(), withoutFK)), "drop"},
		{"rename column", rename, "rename"},
		{"alter table options", diff.New(d).Compare(snapshotOf(usersTable()), snapshotOf(meta)), "alter"},
		{"alter primary key column", diff.New(d).Compare(snapshotOf(usersTable()), snapshotOf(widerKey)), "alter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statements, err := New(d).Plan(tt.cs)
			require.Error(t, err)
			assert.Nil(t, statements)
			assert.True(t, errors.Is(err, ErrUnsupported))

			var unsupported *UnsupportedError
			require.True(t, errors.As(err, &unsupported))
			assert.Equal(t, tt.op, unsupported.Op)
			assert.Equal(t, dialect.NameSQLite, unsupported.Dialect)
		})
	}
}

func TestUnsupportedErrorMessage(t *testing.T) {
	err := &UnsupportedError{Dialect: "sqlite", Op: "rename", Class: diff.ClassColumns, Table: "users", Name: "name"}
	assert.Equal(t, "sqlite does not support rename of columns users.name", err.Error())

	err = &UnsupportedError{Dialect: "pgsql", Op: "create", Class: diff.ClassEvents, Name: "nightly"}
	assert.Equal(t, "pgsql does not support create of events nightly", err.Error())
}

func TestPlanEventsOnPostgres(t *testing.T) {
	target := schema.NewSnapshot()
	target.Events["nightly"] = &schema.Event{Name: "nightly", Schedule: "EVERY 1 DAY"}
	d := dialect.NewPostgres("public")

	_, err := New(d).Plan(diff.New(d).Compare(schema.NewSnapshot(), target))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestForeignKeyChecks(t *testing.T) {
	tests := []struct {
		dialect dialect.Dialect
		off, on string
	}{
		{dialect.NewMySQL(), "SET FOREIGN_KEY_CHECKS = 0", "SET FOREIGN_KEY_CHECKS = 1"},
		{dialect.NewPostgres("public"), "SET session_replication_role = replica", "SET session_replication_role = DEFAULT"},
		{dialect.NewSQLite(), "PRAGMA foreign_keys = OFF", "PRAGMA foreign_keys = ON"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name(), func(t *testing.T) {
			g := New(tt.dialect)
			assert.Equal(t, tt.off, g.ForeignKeyChecks(false))
			assert.Equal(t, tt.on, g.ForeignKeyChecks(true))
		})
	}
}

func TestForeignKeyChecksEnabled(t *testing.T) {
	mysql := New(dialect.NewMySQL())
	assert.Equal(t, "SELECT @@SESSION.foreign_key_checks", mysql.ForeignKeyChecksQuery())
	assert.True(t, mysql.ForeignKeyChecksEnabled("1"))
	assert.False(t, mysql.ForeignKeyChecksEnabled("0"))

	sqlite := New(dialect.NewSQLite())
	assert.Equal(t, "PRAGMA foreign_keys", sqlite.ForeignKeyChecksQuery())
	assert.False(t, sqlite.ForeignKeyChecksEnabled("0"))

	pg := New(dialect.NewPostgres("public"))
	assert.Equal(t, "SHOW session_replication_role", pg.ForeignKeyChecksQuery())
	assert.True(t, pg.ForeignKeyChecksEnabled("origin"))
	assert.False(t, pg.ForeignKeyChecksEnabled("replica"))
}
