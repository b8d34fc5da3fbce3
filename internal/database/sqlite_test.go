package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sqliteFixture = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT NOT NULL DEFAULT 'x', name VARCHAR(40))`,
	`CREATE UNIQUE INDEX idx_users_email ON users (email)`,
	`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL, title TEXT, CONSTRAINT fk_posts_users FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE)`,
	`CREATE TRIGGER trg_posts AFTER INSERT ON posts BEGIN UPDATE users SET name = name WHERE id = NEW.user_id; END`,
	`CREATE VIEW post_titles AS SELECT title FROM posts`,
	`INSERT INTO users (email, name) VALUES ('a@example.com', 'A'), ('b@example.com', NULL)`,
}

func openSQLite(t *testing.T, statements ...string) *Connection {
	t.Helper()
	logger, _ := test.NewNullLogger()

	config, err := ParseDescriptor("sqlite:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	conn, err := Open(context.Background(), config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	for _, stmt := range statements {
		_, err := conn.DB.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return conn
}

func TestSQLiteReader(t *testing.T) {
	conn := openSQLite(t, sqliteFixture...)
	logger, _ := test.NewNullLogger()

	reader := conn.Reader(logger)
	require.NoError(t, reader.SetInfoTablePattern("^users$"))

	snap, err := reader.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", snap.Meta.Driver)
	assert.Equal(t, "test.db", snap.Meta.Database)
	assert.Equal(t, "UTF-8", snap.Meta.Charset)

	require.Len(t, snap.Tables, 2)
	users := snap.Tables["users"]
	require.NotNil(t, users)

	require.Len(t, users.Columns, 3)
	assert.True(t, users.Columns[0].AutoIncrement)
	assert.False(t, users.Columns[1].Nullable)
	require.NotNil(t, users.Columns[1].DefaultValue)
	assert.Equal(t, "'x'", *users.Columns[1].DefaultValue)
	assert.True(t, users.Columns[2].Nullable)
	assert.Equal(t, 40, users.Columns[2].MaxLength)

	require.NotNil(t, users.PrimaryKey())
	assert.Equal(t, []string{"id"}, users.PrimaryKey().ColumnNames())
	idx := users.Index("idx_users_email")
	require.NotNil(t, idx)
	assert.True(t, idx.Unique)
	assert.Equal(t, []string{"email"}, idx.ColumnNames())

	posts := snap.Tables["posts"]
	require.NotNil(t, posts)
	fk := posts.Constraints["fk_posts_users"]
	require.NotNil(t, fk)
	assert.Equal(t, []string{"user_id"}, fk.Columns)
	assert.Equal(t, "users", fk.ReferencedTable)
	assert.Equal(t, "CASCADE", fk.OnDelete)
	assert.Equal(t, "RESTRICT", fk.OnUpdate)

	trg := posts.Triggers["trg_posts"]
	require.NotNil(t, trg)
	assert.Equal(t, "AFTER", trg.Timing)
	assert.Equal(t, "INSERT", trg.Event)
	assert.Equal(t, "BEGIN UPDATE users SET name = name WHERE id = NEW.user_id; END", trg.Body)

	require.NotNil(t, snap.Views["post_titles"])
	assert.Equal(t, "SELECT title FROM posts", snap.Views["post_titles"].Definition)
	assert.Empty(t, snap.Procedures)
	assert.Empty(t, snap.Events)

	require.Len(t, snap.Data, 1)
	data := snap.Data["users"]
	assert.Equal(t, []string{"id", "email", "name"}, data.Fields)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "1", *data.Rows[0][0])
	assert.Equal(t, "a@example.com", *data.Rows[0][1])
	assert.Equal(t, "A", *data.Rows[0][2])
	assert.Nil(t, data.Rows[1][2])
}

func TestSQLiteReaderReset(t *testing.T) {
	conn := openSQLite(t, sqliteFixture...)
	logger, _ := test.NewNullLogger()
	reader := conn.Reader(logger)

	first, err := reader.Read(context.Background())
	require.NoError(t, err)

	_, err = conn.DB.Exec(`CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT)`)
	require.NoError(t, err)

	cached, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, cached.Tables, "tags")
	assert.Same(t, first, cached)

	reader.Reset()
	fresh, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, fresh.Tables, "tags")
}
