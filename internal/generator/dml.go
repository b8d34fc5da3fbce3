package generator

import (
	"fmt"
	"strings"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/diff"
)

func (g *Generator) generateDeleteRows(tableName string) string {
	return fmt.Sprintf("DELETE FROM %s", g.table(tableName))
}

// generateReplaceRows replaces the whole row set of a table. Rows are
// inserted in chunks of the generator's chunk size.
func (g *Generator) generateReplaceRows(p *plan, rec *diff.DataRecord) {
	p.dml(diff.ClassData, g.generateDeleteRows(rec.Table))

	for start := 0; start < len(rec.Values); start += g.chunkSize {
		end := start + g.chunkSize
		if end > len(rec.Values) {
			end = len(rec.Values)
		}
		p.dml(diff.ClassData, g.generateInsert(rec.Table, rec.Fields, rec.Values[start:end]))
	}
}

func (g *Generator) generateInsert(tableName string, fields, tuples []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES\n  %s",
		g.table(tableName),
		dialect.WrapList(g.dialect, fields),
		strings.Join(tuples, ",\n  "),
	)
}
