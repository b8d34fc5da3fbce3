package diff

import (
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

// compareData emits a full row set replacement for every information table
// whose rows differ. Tables are compared only when both sides track them;
// a table created by this change set gets its rows inserted.
func (df *Differ) compareData(cs *ChangeSet, current, target *schema.Snapshot) {
	for _, name := range SortedKeys(target.Data) {
		tgt := target.Data[name]
		if _, ok := target.Tables[name]; !ok {
			continue
		}

		if _, exists := current.Tables[name]; !exists {
			if len(tgt.Rows) > 0 {
				cs.Insert.Data[name] = df.dataRecord(name, tgt)
			}
			continue
		}

		cur, tracked := current.Data[name]
		if !tracked {
			continue
		}
		if !cmp.Equal(cur, tgt, equateEmpty) {
			cs.Update.Data[name] = df.dataRecord(name, tgt)
		}
	}
}

func (df *Differ) dataRecord(table string, data *schema.TableData) *DataRecord {
	rec := &DataRecord{
		Table:  table,
		Fields: data.Fields,
		Values: make([]string, len(data.Rows)),
	}
	for i, row := range data.Rows {
		literals := make([]string, len(row))
		for j, value := range row {
			literals[j] = dialect.QuoteNullable(df.dialect, value)
		}
		rec.Values[i] = "(" + strings.Join(literals, ", ") + ")"
	}
	return rec
}
