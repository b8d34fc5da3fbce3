// Package diff computes the change set turning one schema snapshot into
// another.
package diff

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/koba/schemasync/internal/dialect"
	"github.com/koba/schemasync/internal/schema"
)

// Differ compares snapshots of one dialect. The dialect renders the
// definitions carried by the records.
type Differ struct {
	dialect dialect.Dialect
}

// New creates a differ rendering records for d
func New(d dialect.Dialect) *Differ {
	return &Differ{dialect: d}
}

var equateEmpty = cmpopts.EquateEmpty()

// Compare returns the changes turning current into target
func (df *Differ) Compare(current, target *schema.Snapshot) *ChangeSet {
	cs := NewChangeSet()

	for _, name := range unionKeys(current.Tables, target.Tables) {
		cur, inCurrent := current.Tables[name]
		tgt, inTarget := target.Tables[name]

		if !inCurrent {
			// Table added in target
			cs.Insert.Tables[name] = df.tableRecord(tgt)
			continue
		}

		if !inTarget {
			// Table removed in target
			cs.Delete.Tables[name] = df.tableRecord(cur)
			continue
		}

		// A meta change takes precedence over the table's nested changes
		if !cmp.Equal(cur.Meta, tgt.Meta) {
			cs.Update.Tables[name] = df.tableRecord(tgt)
			cs.Deferred = append(cs.Deferred, name)
			continue
		}

		df.compareNested(cs, cur, tgt)
	}

	df.compareProcedures(cs, current.Procedures, target.Procedures)
	df.compareEvents(cs, current.Events, target.Events)
	df.compareViews(cs, current.Views, target.Views)
	df.compareData(cs, current, target)

	return cs
}

// FollowUp returns the nested changes of the tables cs deferred, as a
// comparison would report them once the meta updates of cs are applied
func (df *Differ) FollowUp(cs *ChangeSet, current, target *schema.Snapshot) *ChangeSet {
	next := NewChangeSet()
	for _, name := range cs.Deferred {
		cur, tgt := current.Tables[name], target.Tables[name]
		if cur == nil || tgt == nil {
			continue
		}
		df.compareNested(next, cur, tgt)
	}
	return next
}

func (df *Differ) compareNested(cs *ChangeSet, cur, tgt *schema.Table) {
	df.compareColumns(cs, cur, tgt)
	df.compareIndexes(cs, cur, tgt)
	df.attachCoveringIndexes(cs, cur, tgt)
	df.compareConstraints(cs, cur, tgt)
	df.compareTriggers(cs, cur, tgt)
}

func (df *Differ) tableRecord(t *schema.Table) *TableRecord {
	rec := &TableRecord{
		Name:       t.Name,
		Definition: t.Definition,
		Meta:       t.Meta,
		Table:      t,
	}
	for _, name := range SortedKeys(t.Triggers) {
		rec.Triggers = append(rec.Triggers, triggerRecord(t.Name, t.Triggers[name]))
	}
	return rec
}

func (df *Differ) compareProcedures(cs *ChangeSet, current, target map[string]*schema.Procedure) {
	for _, key := range unionKeys(current, target) {
		cur, inCurrent := current[key]
		tgt, inTarget := target[key]
		switch {
		case !inCurrent:
			cs.Insert.Procedures[key] = procedureRecord(tgt)
		case !inTarget:
			cs.Delete.Procedures[key] = procedureRecord(cur)
		case !cmp.Equal(cur, tgt):
			cs.Update.Procedures[key] = procedureRecord(tgt)
		}
	}
}

func procedureRecord(p *schema.Procedure) *ProcedureRecord {
	return &ProcedureRecord{
		Type:       p.Type,
		Name:       p.Name,
		Signature:  p.Signature,
		Definition: p.Definition,
	}
}

func (df *Differ) compareEvents(cs *ChangeSet, current, target map[string]*schema.Event) {
	for _, name := range unionKeys(current, target) {
		cur, inCurrent := current[name]
		tgt, inTarget := target[name]
		switch {
		case !inCurrent:
			cs.Insert.Events[name] = eventRecord(tgt)
		case !inTarget:
			cs.Delete.Events[name] = eventRecord(cur)
		case !cmp.Equal(cur, tgt):
			cs.Update.Events[name] = eventRecord(tgt)
		}
	}
}

func eventRecord(e *schema.Event) *EventRecord {
	return &EventRecord{
		Name:       e.Name,
		Schedule:   e.Schedule,
		Completion: e.Completion,
		Status:     e.Status,
		Body:       e.Body,
		Comment:    e.Comment,
	}
}

func (df *Differ) compareViews(cs *ChangeSet, current, target map[string]*schema.View) {
	for _, name := range unionKeys(current, target) {
		cur, inCurrent := current[name]
		tgt, inTarget := target[name]
		switch {
		case !inCurrent:
			cs.Insert.Views[name] = &ViewRecord{Name: tgt.Name, Definition: tgt.Definition}
		case !inTarget:
			cs.Delete.Views[name] = &ViewRecord{Name: cur.Name, Definition: cur.Definition}
		case cur.Definition != tgt.Definition:
			cs.Update.Views[name] = &ViewRecord{Name: tgt.Name, Definition: tgt.Definition}
		}
	}
}

// unionKeys returns the sorted keys present in a or b
func unionKeys[T any](a, b map[string]T) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
