// Package createparse extracts keys, foreign keys and trigger parts from
// engine-native creation scripts (SHOW CREATE TABLE output, sqlite_master.sql).
package createparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/koba/schemasync/internal/schema"
)

// ErrNotCreate is returned when the text is not the expected CREATE statement
var ErrNotCreate = errors.New("not a CREATE statement")

// Result holds what could be extracted from a CREATE TABLE statement
type Result struct {
	Table       string
	ForeignKeys []schema.ForeignKey
	Indexes     []schema.Index
	// Options is the raw text following the column list
	Options string
}

// TriggerParts is a CREATE TRIGGER statement split into its clauses
type TriggerParts struct {
	Name   string
	Timing string
	Event  string
	Table  string
	Body   string
}

// ParseTable parses a CREATE TABLE statement
func ParseTable(text string) (*Result, error) {
	tokens := scan(text)
	if len(tokens) < 2 || !tokens[0].is("CREATE") {
		return nil, ErrNotCreate
	}

	result := &Result{}
	bodyAt := -1
	for i, tok := range tokens {
		if tok.kind == tokGroup {
			bodyAt = i
			break
		}
		if name, ok := tok.name(); ok && !isHeaderKeyword(tok) {
			result.Table = name
		}
	}
	if bodyAt < 0 || result.Table == "" {
		return nil, fmt.Errorf("%w: missing column list", ErrNotCreate)
	}

	body := tokens[bodyAt]
	result.Options = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[body.end:]), ";"))

	unnamed := 0
	for _, clause := range splitTopLevel(body.text) {
		toks := scan(clause)
		if len(toks) == 0 {
			continue
		}

		if fk, ok := parseForeignKeyClause(toks); ok {
			if fk.Name == "" {
				unnamed++
				fk.Name = fmt.Sprintf("%s_fk_%d", result.Table, unnamed)
			}
			result.ForeignKeys = append(result.ForeignKeys, *fk)
			continue
		}

		if idx, ok := parseKeyClause(toks); ok {
			result.Indexes = append(result.Indexes, *idx)
			continue
		}

		if fk, ok := parseInlineReference(toks); ok {
			if fk.Name == "" {
				unnamed++
				fk.Name = fmt.Sprintf("%s_fk_%d", result.Table, unnamed)
			}
			result.ForeignKeys = append(result.ForeignKeys, *fk)
		}
	}

	return result, nil
}

func isHeaderKeyword(tok token) bool {
	if tok.kind != tokWord {
		return false
	}
	switch strings.ToUpper(tok.text) {
	case "CREATE", "TEMP", "TEMPORARY", "TABLE", "IF", "NOT", "EXISTS", "VIEW", "TRIGGER":
		return true
	}
	return false
}

// parseForeignKeyClause matches
// [CONSTRAINT <name>] FOREIGN KEY (<cols>) REFERENCES <table>(<cols>) [actions]
func parseForeignKeyClause(toks []token) (*schema.ForeignKey, bool) {
	fk := &schema.ForeignKey{}
	i := 0
	if toks[0].is("CONSTRAINT") {
		if len(toks) < 2 {
			return nil, false
		}
		if name, ok := toks[1].name(); ok && !toks[1].is("FOREIGN") {
			fk.Name = name
			i = 2
		} else {
			i = 1
		}
	}
	if i+2 >= len(toks) || !toks[i].is("FOREIGN") || !toks[i+1].is("KEY") {
		return nil, false
	}
	i += 2
	// MySQL allows an index name between FOREIGN KEY and the column list
	if toks[i].kind != tokGroup {
		i++
	}
	if i >= len(toks) || toks[i].kind != tokGroup {
		return nil, false
	}
	fk.Columns = columnNames(toks[i].text)
	if !parseReferences(toks[i+1:], fk) {
		return nil, false
	}
	return fk, true
}

// parseInlineReference matches a column definition carrying
// [CONSTRAINT <name>] REFERENCES <table>[(<cols>)]
func parseInlineReference(toks []token) (*schema.ForeignKey, bool) {
	column, ok := toks[0].name()
	if !ok {
		return nil, false
	}
	for i := 1; i < len(toks); i++ {
		if !toks[i].is("REFERENCES") {
			continue
		}
		fk := &schema.ForeignKey{Columns: []string{column}}
		if i >= 3 && toks[i-2].is("CONSTRAINT") {
			fk.Name, _ = toks[i-1].name()
		}
		if !parseReferences(toks[i:], fk) {
			return nil, false
		}
		return fk, true
	}
	return nil, false
}

// parseReferences reads REFERENCES <table>[(<cols>)] followed by ON DELETE /
// ON UPDATE actions. Missing actions default to RESTRICT.
func parseReferences(toks []token, fk *schema.ForeignKey) bool {
	if len(toks) < 2 || !toks[0].is("REFERENCES") {
		return false
	}
	i := 1
	for i < len(toks) {
		name, ok := toks[i].name()
		if !ok {
			break
		}
		fk.ReferencedTable = name
		i++
		if i < len(toks) && toks[i].kind == tokPunct && toks[i].text == "." {
			i++
			continue
		}
		break
	}
	if fk.ReferencedTable == "" {
		return false
	}
	if i < len(toks) && toks[i].kind == tokGroup {
		fk.ReferencedColumns = columnNames(toks[i].text)
		i++
	}

	fk.OnDelete, fk.OnUpdate = schema.DefaultAction, schema.DefaultAction
	for i+1 < len(toks) {
		if !toks[i].is("ON") {
			i++
			continue
		}
		target := strings.ToUpper(toks[i+1].text)
		action, next := readAction(toks, i+2)
		switch target {
		case "DELETE":
			fk.OnDelete = action
		case "UPDATE":
			fk.OnUpdate = action
		}
		i = next
	}
	return true
}

func readAction(toks []token, i int) (string, int) {
	if i >= len(toks) {
		return schema.DefaultAction, i
	}
	first := strings.ToUpper(toks[i].text)
	if (first == "SET" || first == "NO") && i+1 < len(toks) {
		return first + " " + strings.ToUpper(toks[i+1].text), i + 2
	}
	return first, i + 1
}

// parseKeyClause matches [PRIMARY|UNIQUE|FULLTEXT|SPATIAL] KEY <name> (<cols>)
// with optional USING and COMMENT options.
func parseKeyClause(toks []token) (*schema.Index, bool) {
	idx := &schema.Index{}
	i := 0
	if toks[0].is("CONSTRAINT") {
		// named PRIMARY KEY / UNIQUE constraints
		if len(toks) < 3 {
			return nil, false
		}
		i = 2
	}
	if i >= len(toks) {
		return nil, false
	}

	switch {
	case toks[i].is("PRIMARY"):
		idx.Primary, idx.Unique, idx.Name = true, true, "PRIMARY"
		i++
	case toks[i].is("UNIQUE"):
		idx.Unique = true
		i++
	case toks[i].is("FULLTEXT"), toks[i].is("SPATIAL"):
		idx.Kind = strings.ToUpper(toks[i].text)
		i++
	}
	if i >= len(toks) {
		return nil, false
	}
	if toks[i].is("KEY") || toks[i].is("INDEX") {
		i++
	} else if !idx.Unique || idx.Primary {
		return nil, false
	}

	if i < len(toks) && toks[i].kind != tokGroup && !toks[i].is("USING") {
		name, ok := toks[i].name()
		if !ok {
			return nil, false
		}
		idx.Name = name
		i++
	}
	if idx.Name == "" && toks[0].is("CONSTRAINT") {
		idx.Name, _ = toks[1].name()
	}

	for ; i < len(toks); i++ {
		switch {
		case toks[i].kind == tokGroup && idx.Columns == nil:
			idx.Columns = indexColumns(toks[i].text)
		case toks[i].is("USING") && i+1 < len(toks):
			idx.Method = strings.ToUpper(toks[i+1].text)
			i++
		case toks[i].is("COMMENT") && i+1 < len(toks) && toks[i+1].kind == tokString:
			idx.Comment = toks[i+1].text
			i++
		}
	}
	if idx.Columns == nil || idx.Name == "" {
		return nil, false
	}
	return idx, true
}

func columnNames(list string) []string {
	var names []string
	for _, col := range indexColumns(list) {
		names = append(names, col.Name)
	}
	return names
}

func indexColumns(list string) []schema.IndexColumn {
	var cols []schema.IndexColumn
	for _, part := range splitTopLevel(list) {
		toks := scan(part)
		if len(toks) == 0 {
			continue
		}
		name, ok := toks[0].name()
		if !ok {
			continue
		}
		col := schema.IndexColumn{Name: name}
		if len(toks) > 1 && toks[1].kind == tokGroup {
			col.Length, _ = strconv.Atoi(strings.TrimSpace(toks[1].text))
		}
		cols = append(cols, col)
	}
	return cols
}

// ParseTrigger parses a CREATE TRIGGER statement. Everything after the
// FOR EACH ROW clause (or the table name) is returned as the body.
func ParseTrigger(text string) (*TriggerParts, error) {
	toks := scan(text)
	if len(toks) < 2 || !toks[0].is("CREATE") {
		return nil, ErrNotCreate
	}

	i := 1
	for i < len(toks) && isHeaderKeyword(toks[i]) {
		i++
	}
	if i >= len(toks) {
		return nil, fmt.Errorf("%w: missing trigger name", ErrNotCreate)
	}
	parts := &TriggerParts{Timing: "BEFORE"}
	parts.Name, _ = toks[i].name()
	i++
	if i+1 < len(toks) && toks[i].kind == tokPunct && toks[i].text == "." {
		parts.Name, _ = toks[i+1].name()
		i += 2
	}

	switch {
	case i < len(toks) && (toks[i].is("BEFORE") || toks[i].is("AFTER")):
		parts.Timing = strings.ToUpper(toks[i].text)
		i++
	case i+1 < len(toks) && toks[i].is("INSTEAD") && toks[i+1].is("OF"):
		parts.Timing = "INSTEAD OF"
		i += 2
	}

	eventStart := i
	for i < len(toks) && !toks[i].is("ON") {
		i++
	}
	if i+1 >= len(toks) || eventStart >= len(toks) {
		return nil, fmt.Errorf("%w: missing trigger table", ErrNotCreate)
	}
	event := strings.Fields(text[toks[eventStart].start:toks[i].start])
	if len(event) == 0 {
		return nil, fmt.Errorf("%w: missing trigger event", ErrNotCreate)
	}
	event[0] = strings.ToUpper(event[0])
	parts.Event = strings.Join(event, " ")
	parts.Table, _ = toks[i+1].name()
	i += 2
	if i+1 < len(toks) && toks[i].kind == tokPunct && toks[i].text == "." {
		parts.Table, _ = toks[i+1].name()
		i += 2
	}

	if i+2 < len(toks) && toks[i].is("FOR") && toks[i+1].is("EACH") && toks[i+2].is("ROW") {
		i += 3
	}
	if i >= len(toks) {
		return nil, fmt.Errorf("%w: missing trigger body", ErrNotCreate)
	}
	parts.Body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[toks[i].start:]), ";"))
	return parts, nil
}

// ViewBody returns the query of a CREATE VIEW statement
func ViewBody(text string) (string, error) {
	toks := scan(text)
	if len(toks) < 2 || !toks[0].is("CREATE") {
		return "", ErrNotCreate
	}
	for i, tok := range toks {
		if tok.is("AS") && i+1 < len(toks) {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[toks[i+1].start:]), ";")), nil
		}
	}
	return "", fmt.Errorf("%w: missing AS clause", ErrNotCreate)
}
