package diff

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

// columnOptions compares columns ignoring their position and the keyword
// case of their native type
var columnOptions = cmp.Options{
	cmpopts.IgnoreFields(schema.Column{}, "Position"),
	equateEmpty,
	cmp.FilterPath(func(p cmp.Path) bool {
		sf, ok := p.Last().(cmp.StructField)
		return ok && sf.Name() == "Type"
	}, cmp.Comparer(func(a, b string) bool {
		return dialect.NormalizeType(a) == dialect.NormalizeType(b)
	})),
}

func (df *Differ) compareColumns(cs *ChangeSet, cur, tgt *schema.Table) {
	oldColumns := make(map[string]*schema.Column)
	for i := range cur.Columns {
		oldColumns[cur.Columns[i].Name] = &cur.Columns[i]
	}

	newColumns := make(map[string]*schema.Column)
	for i := range tgt.Columns {
		newColumns[tgt.Columns[i].Name] = &tgt.Columns[i]
	}

	for _, name := range unionKeys(oldColumns, newColumns) {
		oldCol, inCurrent := oldColumns[name]
		newCol, inTarget := newColumns[name]
		switch {
		case !inCurrent:
			nest(cs.Insert.Columns, tgt.Name, name, df.columnRecord(tgt.Name, newCol))
		case !inTarget:
			nest(cs.Delete.Columns, cur.Name, name, df.columnRecord(cur.Name, oldCol))
		case !cmp.Equal(*oldCol, *newCol, columnOptions):
			nest(cs.Update.Columns, tgt.Name, name, df.columnRecord(tgt.Name, newCol))
		}
	}
}

func (df *Differ) columnRecord(table string, col *schema.Column) *ColumnRecord {
	return &ColumnRecord{
		Table:      table,
		Name:       col.Name,
		Definition: df.dialect.ColumnDefinition(*col),
		Column:     col,
	}
}

func (df *Differ) compareIndexes(cs *ChangeSet, cur, tgt *schema.Table) {
	oldIndexes := make(map[string]*schema.Index)
	for i := range cur.Indexes {
		oldIndexes[cur.Indexes[i].Name] = &cur.Indexes[i]
	}

	newIndexes := make(map[string]*schema.Index)
	for i := range tgt.Indexes {
		newIndexes[tgt.Indexes[i].Name] = &tgt.Indexes[i]
	}

	for _, name := range unionKeys(oldIndexes, newIndexes) {
		oldIdx, inCurrent := oldIndexes[name]
		newIdx, inTarget := newIndexes[name]
		switch {
		case !inCurrent:
			nest(cs.Insert.Indexes, tgt.Name, name, df.indexRecord(tgt.Name, newIdx))
		case !inTarget:
			nest(cs.Delete.Indexes, cur.Name, name, df.indexRecord(cur.Name, oldIdx))
		case !cmp.Equal(*oldIdx, *newIdx, equateEmpty):
			nest(cs.Update.Indexes, tgt.Name, name, df.indexRecord(tgt.Name, newIdx))
		}
	}
}

func (df *Differ) indexRecord(table string, idx *schema.Index) *IndexRecord {
	return &IndexRecord{
		Table:   table,
		Name:    idx.Name,
		Class:   IndexClass(idx),
		Type:    idx.Method,
		Columns: dialect.WrapIndexColumns(df.dialect, idx.Columns),
		Comment: idx.Comment,
		Index:   idx,
	}
}

// IndexClass returns PRIMARY, UNIQUE, FULLTEXT, SPATIAL or INDEX
func IndexClass(idx *schema.Index) string {
	switch {
	case idx.Primary:
		return "PRIMARY"
	case idx.Kind != "":
		return idx.Kind
	case idx.Unique:
		return "UNIQUE"
	}
	return "INDEX"
}

// attachCoveringIndexes lists on each updated column the indexes that cover
// it at the time the column is altered. Dialects that rebuild the column need
// them dropped and created again around the rebuild.
func (df *Differ) attachCoveringIndexes(cs *ChangeSet, cur, tgt *schema.Table) {
	updates := cs.Update.Columns[tgt.Name]
	if len(updates) == 0 {
		return
	}
	inserted := cs.Insert.Indexes[tgt.Name]

	for _, name := range SortedKeys(updates) {
		rec := updates[name]
		for i := range tgt.Indexes {
			idx := &tgt.Indexes[i]
			live := cur.Index(idx.Name)
			if _, ok := inserted[idx.Name]; ok {
				live = idx
			}
			if live == nil || !live.Covers(name) {
				continue
			}
			rec.Indexes = append(rec.Indexes, df.indexRecord(tgt.Name, idx))
		}
	}
}

func (df *Differ) compareConstraints(cs *ChangeSet, cur, tgt *schema.Table) {
	for _, name := range unionKeys(cur.Constraints, tgt.Constraints) {
		oldFK, inCurrent := cur.Constraints[name]
		newFK, inTarget := tgt.Constraints[name]
		switch {
		case !inCurrent:
			nest(cs.Insert.Constraints, tgt.Name, name, df.constraintRecord(tgt.Name, newFK))
		case !inTarget:
			nest(cs.Delete.Constraints, cur.Name, name, df.constraintRecord(cur.Name, oldFK))
		case !cmp.Equal(oldFK, newFK, equateEmpty):
			nest(cs.Update.Constraints, tgt.Name, name, df.constraintRecord(tgt.Name, newFK))
		}
	}
}

func (df *Differ) constraintRecord(table string, fk *schema.ForeignKey) *ConstraintRecord {
	return &ConstraintRecord{
		Table:      table,
		Name:       fk.Name,
		Keys:       dialect.WrapList(df.dialect, fk.Columns),
		RefTable:   fk.ReferencedTable,
		Links:      dialect.WrapList(df.dialect, fk.ReferencedColumns),
		OnDelete:   fk.OnDelete,
		OnUpdate:   fk.OnUpdate,
		ForeignKey: fk,
	}
}

func (df *Differ) compareTriggers(cs *ChangeSet, cur, tgt *schema.Table) {
	for _, name := range unionKeys(cur.Triggers, tgt.Triggers) {
		oldTrg, inCurrent := cur.Triggers[name]
		newTrg, inTarget := tgt.Triggers[name]
		switch {
		case !inCurrent:
			nest(cs.Insert.Triggers, tgt.Name, name, triggerRecord(tgt.Name, newTrg))
		case !inTarget:
			nest(cs.Delete.Triggers, cur.Name, name, triggerRecord(cur.Name, oldTrg))
		case !cmp.Equal(oldTrg, newTrg):
			nest(cs.Update.Triggers, tgt.Name, name, triggerRecord(tgt.Name, newTrg))
		}
	}
}

func triggerRecord(table string, trg *schema.Trigger) *TriggerRecord {
	return &TriggerRecord{
		Table: table,
		Name:  trg.Name,
		Time:  trg.Timing,
		Event: trg.Event,
		Body:  trg.Body,
	}
}
