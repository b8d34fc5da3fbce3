package vault

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/schemasync/internal/schema"
)

func sampleSnapshot() *schema.Snapshot {
	snap := schema.NewSnapshot()
	snap.Meta = schema.Meta{Driver: "mysql", Database: "app", Charset: "utf8mb4"}

	countries := schema.NewTable("countries")
	countries.Columns = []schema.Column{
		{Name: "code", Type: "char(2)", Portable: schema.TypeString, MaxLength: 2, Position: 1},
		{Name: "name", Type: "varchar(64)", Portable: schema.TypeString, Nullable: true, MaxLength: 64, Position: 2},
	}
	countries.Indexes = []schema.Index{
		{Name: "PRIMARY", Columns: []schema.IndexColumn{{Name: "code"}}, Unique: true, Primary: true},
	}
	snap.Tables["countries"] = countries

	logs := schema.NewTable("logs")
	logs.Columns = []schema.Column{
		{Name: "id", Type: "int", Portable: schema.TypeInt, AutoIncrement: true, Position: 1},
		{Name: "country", Type: "char(2)", Portable: schema.TypeString, MaxLength: 2, Position: 2},
	}
	logs.Constraints["fk_logs_country"] = &schema.ForeignKey{
		Name:              "fk_logs_country",
		Columns:           []string{"country"},
		ReferencedTable:   "countries",
		ReferencedColumns: []string{"code"},
		OnDelete:          "CASCADE",
		OnUpdate:          "RESTRICT",
	}
	snap.Tables["logs"] = logs

	snap.Views["v_countries"] = &schema.View{Name: "v_countries", Definition: "SELECT code FROM countries"}
	snap.Data["countries"] = &schema.TableData{
		Fields: []string{"code", "name"},
		Rows:   [][]*string{{schema.Str("fr"), schema.Str("France")}, {schema.Str("xx"), nil}},
	}
	snap.Data["logs"] = &schema.TableData{
		Fields: []string{"id", "country"},
		Rows:   [][]*string{{schema.Str("1"), schema.Str("fr")}},
	}
	return snap
}

func TestReadMissingVault(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v := New(filepath.Join(t.TempDir(), "missing.vault"), logger)

	snap, err := v.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Tables)
	assert.NotNil(t, snap.Data)
}

func TestRoundTrip(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "nested", "schema.vault")
	v := New(path, logger)
	require.NoError(t, v.SetInfoTablePattern("^countries$"))

	original := sampleSnapshot()
	require.NoError(t, v.Write(original))

	loaded, err := v.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, original.Meta, loaded.Meta)
	assert.Equal(t, original.Tables, loaded.Tables)
	assert.Equal(t, original.Views, loaded.Views)
	assert.Equal(t, original.Data["countries"], loaded.Data["countries"])
	assert.NotContains(t, loaded.Data, "logs")
}

func TestReadStripsDataWithoutPattern(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v := New(filepath.Join(t.TempDir(), "schema.vault"), logger)
	require.NoError(t, v.Write(sampleSnapshot()))

	loaded, err := v.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded.Tables, 2)
	assert.Empty(t, loaded.Data)
}

func TestWriteResetsCache(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v := New(filepath.Join(t.TempDir(), "schema.vault"), logger)

	empty, err := v.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, empty.Tables)

	require.NoError(t, v.Write(sampleSnapshot()))

	loaded, err := v.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded.Tables, 2)
}

func TestEncodeIsDeterministic(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, Encode(&first, sampleSnapshot()))
	require.NoError(t, Encode(&second, sampleSnapshot()))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestReadCorruptVault(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "schema.vault")
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))

	_, err := New(path, logger).Read(context.Background())
	assert.Error(t, err)
}

func TestEncodeKeepsBinaryValues(t *testing.T) {
	original := sampleSnapshot()
	original.Data["countries"].Rows = append(original.Data["countries"].Rows,
		[]*string{schema.Str("\xff\x00\xfea"), schema.Str("Zürich")})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, original))
	decoded, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, original.Data, decoded.Data)
}
