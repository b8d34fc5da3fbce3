package diff

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Display prints the change set as a table of changes followed by
// per-class counts
func Display(w io.Writer, cs *ChangeSet) {
	if cs.Empty() {
		_, _ = fmt.Fprintln(w, "No differences found.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Action", "Class", "Table", "Name", "Detail"})

	for _, kind := range []struct {
		action  string
		changes *Changes
	}{
		{"insert", &cs.Insert},
		{"update", &cs.Update},
		{"delete", &cs.Delete},
	} {
		for _, row := range changeRows(kind.changes) {
			t.AppendRow(append(table.Row{kind.action}, row...))
		}
	}
	t.Render()

	s := table.NewWriter()
	s.SetOutputMirror(w)
	s.SetStyle(table.StyleLight)
	s.AppendHeader(table.Row{"Class", "Insert", "Update", "Delete"})
	for _, c := range cs.Summary() {
		s.AppendRow(table.Row{c.Class, c.Insert, c.Update, c.Delete})
	}
	s.Render()

	if len(cs.Deferred) > 0 {
		_, _ = fmt.Fprintf(w, "Deferred to a follow-up pass: %v\n", cs.Deferred)
	}
}

// changeRows lists the records of c as class, table, name, detail rows
func changeRows(c *Changes) []table.Row {
	var rows []table.Row

	for _, name := range SortedKeys(c.Tables) {
		rec := c.Tables[name]
		detail := rec.Meta.Engine
		if rec.Table != nil {
			detail = fmt.Sprintf("%d columns", len(rec.Table.Columns))
		}
		rows = append(rows, table.Row{ClassTables, name, "", detail})
	}
	for _, tbl := range SortedKeys(c.Columns) {
		for _, name := range SortedKeys(c.Columns[tbl]) {
			rows = append(rows, table.Row{ClassColumns, tbl, name, c.Columns[tbl][name].Definition})
		}
	}
	for _, tbl := range SortedKeys(c.Indexes) {
		for _, name := range SortedKeys(c.Indexes[tbl]) {
			rec := c.Indexes[tbl][name]
			rows = append(rows, table.Row{ClassIndexes, tbl, name, rec.Class + " (" + rec.Columns + ")"})
		}
	}
	for _, tbl := range SortedKeys(c.Constraints) {
		for _, name := range SortedKeys(c.Constraints[tbl]) {
			rec := c.Constraints[tbl][name]
			rows = append(rows, table.Row{ClassConstraints, tbl, name, fmt.Sprintf("(%s) -> %s (%s)", rec.Keys, rec.RefTable, rec.Links)})
		}
	}
	for _, tbl := range SortedKeys(c.Triggers) {
		for _, name := range SortedKeys(c.Triggers[tbl]) {
			rec := c.Triggers[tbl][name]
			rows = append(rows, table.Row{ClassTriggers, tbl, name, rec.Time + " " + rec.Event})
		}
	}
	for _, key := range SortedKeys(c.Procedures) {
		rows = append(rows, table.Row{ClassProcedures, "", key, c.Procedures[key].Type})
	}
	for _, name := range SortedKeys(c.Events) {
		rows = append(rows, table.Row{ClassEvents, "", name, c.Events[name].Schedule})
	}
	for _, name := range SortedKeys(c.Views) {
		rows = append(rows, table.Row{ClassViews, "", name, ""})
	}
	for _, name := range SortedKeys(c.Data) {
		rows = append(rows, table.Row{ClassData, name, "", fmt.Sprintf("%d rows", len(c.Data[name].Values))})
	}

	return rows
}
