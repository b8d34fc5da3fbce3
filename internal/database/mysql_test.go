package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

const usersDefinition = "CREATE TABLE `users` (\n" +
	"  `id` int NOT NULL AUTO_INCREMENT,\n" +
	"  `email` varchar(255) DEFAULT NULL,\n" +
	"  `team_id` int NOT NULL,\n" +
	"  PRIMARY KEY (`id`),\n" +
	"  KEY `idx_team` (`team_id`),\n" +
	"  CONSTRAINT `fk_users_team` FOREIGN KEY (`team_id`) REFERENCES `teams` (`id`) ON DELETE CASCADE\n" +
	") ENGINE=InnoDB AUTO_INCREMENT=42 DEFAULT CHARSET=utf8mb4"

func expectMySQLRead(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DATABASE()")).
		WillReturnRows(sqlmock.NewRows([]string{"DATABASE()"}).AddRow("app"))
	mock.ExpectQuery("FROM information_schema.SCHEMATA").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"DEFAULT_CHARACTER_SET_NAME", "DEFAULT_COLLATION_NAME"}).
			AddRow("utf8mb4", "utf8mb4_0900_ai_ci"))
	mock.ExpectQuery("TABLE_TYPE = 'BASE TABLE'").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("users"))

	mock.ExpectQuery("SELECT ENGINE, TABLE_COLLATION").
		WithArgs("app", "users").
		WillReturnRows(sqlmock.NewRows([]string{"ENGINE", "TABLE_COLLATION", "TABLE_COMMENT", "CREATE_OPTIONS"}).
			AddRow("InnoDB", "utf8mb4_0900_ai_ci", "", ""))
	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("app", "users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "EXTRA", "ORDINAL_POSITION"}).
			AddRow("id", "int", "NO", nil, "auto_increment", 1).
			AddRow("email", "varchar(255)", "YES", nil, "", 2).
			AddRow("team_id", "int", "NO", nil, "", 3))
	mock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE TABLE `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("users", usersDefinition))
	mock.ExpectQuery(regexp.QuoteMeta("SHOW TRIGGERS LIKE 'users'")).
		WillReturnRows(sqlmock.NewRows([]string{"Trigger", "Event", "Table", "Statement", "Timing"}).
			AddRow("trg_users", "INSERT", "users", "SET NEW.email = LOWER(NEW.email)", "BEFORE"))

	mock.ExpectQuery("FROM information_schema.ROUTINES").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"ROUTINE_NAME", "ROUTINE_TYPE"}).AddRow("cleanup", "PROCEDURE"))
	mock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE PROCEDURE `cleanup`")).
		WillReturnRows(sqlmock.NewRows([]string{"Procedure", "sql_mode", "Create Procedure"}).
			AddRow("cleanup", "", "CREATE DEFINER=`root`@`%` PROCEDURE `cleanup`()\nBEGIN DELETE FROM users; END"))
	mock.ExpectQuery("FROM information_schema.EVENTS").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"EVENT_NAME", "EVENT_TYPE", "EXECUTE_AT", "INTERVAL_VALUE", "INTERVAL_FIELD",
			"STARTS", "ENDS", "ON_COMPLETION", "STATUS", "EVENT_DEFINITION", "EVENT_COMMENT"}).
			AddRow("nightly", "RECURRING", nil, "1", "DAY", nil, nil, "NOT PRESERVE", "ENABLED", "CALL cleanup()", ""))
	mock.ExpectQuery("FROM information_schema.VIEWS").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "VIEW_DEFINITION"}).
			AddRow("emails", "select `email` from `users`"))
}

func TestMySQLReader(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, _ := test.NewNullLogger()
	d := dialect.NewMySQL()
	reader := NewReader(db, d, NewMySQL(db, d), logger)

	expectMySQLRead(mock)
	snap, err := reader.Read(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "mysql", snap.Meta.Driver)
	assert.Equal(t, "app", snap.Meta.Database)
	assert.Equal(t, "utf8mb4", snap.Meta.Charset)

	users := snap.Tables["users"]
	require.NotNil(t, users)
	assert.Equal(t, "InnoDB", users.Meta.Engine)
	assert.NotContains(t, users.Definition, "AUTO_INCREMENT=42")
	require.Len(t, users.Columns, 3)
	assert.True(t, users.Columns[0].AutoIncrement)
	assert.True(t, users.Columns[1].Nullable)
	assert.Nil(t, users.Columns[1].DefaultValue)
	assert.Equal(t, 255, users.Columns[1].MaxLength)

	require.NotNil(t, users.PrimaryKey())
	assert.Equal(t, []string{"id"}, users.PrimaryKey().ColumnNames())
	require.NotNil(t, users.Index("idx_team"))

	fk := users.Constraints["fk_users_team"]
	require.NotNil(t, fk)
	assert.Equal(t, "teams", fk.ReferencedTable)
	assert.Equal(t, "CASCADE", fk.OnDelete)
	assert.Equal(t, "RESTRICT", fk.OnUpdate)

	trg := users.Triggers["trg_users"]
	require.NotNil(t, trg)
	assert.Equal(t, "BEFORE", trg.Timing)
	assert.Equal(t, "INSERT", trg.Event)

	proc := snap.Procedures["cleanup"]
	require.NotNil(t, proc)
	assert.Equal(t, "PROCEDURE", proc.Type)
	assert.Equal(t, "CREATE PROCEDURE `cleanup`()\nBEGIN DELETE FROM users; END", proc.Definition)

	ev := snap.Events["nightly"]
	require.NotNil(t, ev)
	assert.Equal(t, "EVERY 1 DAY", ev.Schedule)
	assert.Equal(t, "NOT PRESERVE", ev.Completion)

	assert.Equal(t, "select `email` from `users`", snap.Views["emails"].Definition)
	assert.Empty(t, snap.Data)

	// cached until reset
	again, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, again)
}

func TestMySQLReaderData(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, _ := test.NewNullLogger()
	d := dialect.NewMySQL()
	reader := NewReader(db, d, NewMySQL(db, d), logger)
	require.NoError(t, reader.SetInfoTablePattern("^users$"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DATABASE()")).
		WillReturnRows(sqlmock.NewRows([]string{"DATABASE()"}).AddRow("app"))
	mock.ExpectQuery("FROM information_schema.SCHEMATA").
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow("utf8mb4", "utf8mb4_bin"))
	mock.ExpectQuery("TABLE_TYPE = 'BASE TABLE'").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("users"))
	mock.ExpectQuery("SELECT ENGINE, TABLE_COLLATION").
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d"}).AddRow("InnoDB", "", "", ""))
	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "EXTRA", "ORDINAL_POSITION"}).
			AddRow("id", "int", "NO", nil, "", 1).
			AddRow("email", "varchar(255)", "YES", nil, "", 2))
	mock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE TABLE `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("users", "CREATE TABLE `users` (\n  `id` int NOT NULL,\n  `email` varchar(255),\n  PRIMARY KEY (`id`)\n)"))
	mock.ExpectQuery(regexp.QuoteMeta("SHOW TRIGGERS LIKE 'users'")).
		WillReturnRows(sqlmock.NewRows([]string{"Trigger", "Event", "Table", "Statement", "Timing"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `email` FROM `users` ORDER BY `id`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(1), []byte("a@example.com")).
			AddRow(int64(2), nil))
	mock.ExpectQuery("FROM information_schema.ROUTINES").
		WillReturnRows(sqlmock.NewRows([]string{"ROUTINE_NAME", "ROUTINE_TYPE"}))
	mock.ExpectQuery("FROM information_schema.EVENTS").
		WillReturnRows(sqlmock.NewRows([]string{"EVENT_NAME", "EVENT_TYPE", "EXECUTE_AT", "INTERVAL_VALUE", "INTERVAL_FIELD",
			"STARTS", "ENDS", "ON_COMPLETION", "STATUS", "EVENT_DEFINITION", "EVENT_COMMENT"}))
	mock.ExpectQuery("FROM information_schema.VIEWS").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "VIEW_DEFINITION"}))

	snap, err := reader.Read(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	data := snap.Data["users"]
	require.NotNil(t, data)
	assert.Equal(t, []string{"id", "email"}, data.Fields)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "1", *data.Rows[0][0])
	assert.Equal(t, "a@example.com", *data.Rows[0][1])
	assert.Nil(t, data.Rows[1][1])
}

func TestMySQLReaderIntrospectionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, _ := test.NewNullLogger()
	d := dialect.NewMySQL()
	reader := NewReader(db, d, NewMySQL(db, d), logger)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DATABASE()")).WillReturnError(errors.New("connection refused"))

	_, err = reader.Read(context.Background())
	var introspection *IntrospectionError
	require.ErrorAs(t, err, &introspection)
	assert.Equal(t, "database meta", introspection.Object)
}

func TestSetInfoTablePattern(t *testing.T) {
	reader := NewReader(nil, dialect.NewMySQL(), nil, nil)

	assert.False(t, reader.Tracks("users"))
	require.NoError(t, reader.SetInfoTablePattern("^(countries|currencies)$"))
	assert.True(t, reader.Tracks("countries"))
	assert.False(t, reader.Tracks("users"))

	assert.ErrorIs(t, reader.SetInfoTablePattern("("), schema.ErrInvalidPattern)
}
