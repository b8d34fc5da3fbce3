package diff

import (
	"sort"

	"github.com/koba/schemasync/internal/schema"
)

// Entity classes of a change set
const (
	ClassTables      = "tables"
	ClassColumns     = "columns"
	ClassIndexes     = "indexes"
	ClassConstraints = "constraints"
	ClassTriggers    = "triggers"
	ClassProcedures  = "procedures"
	ClassEvents      = "events"
	ClassViews       = "views"
	ClassData        = "data"
)

// Classes lists the entity classes in application order
var Classes = []string{
	ClassTables, ClassColumns, ClassIndexes, ClassConstraints, ClassTriggers,
	ClassProcedures, ClassEvents, ClassViews, ClassData,
}

// TableRecord describes a table to create, drop or alter
type TableRecord struct {
	Name       string           `json:"tbl_name"`
	Definition string           `json:"tbl_definition,omitempty"`
	Triggers   []*TriggerRecord `json:"triggers,omitempty"`
	Meta       schema.TableMeta `json:"meta"`
	Table      *schema.Table    `json:"-"`
}

// ColumnRecord describes a column change. OldName is set on updates that
// rename the column.
type ColumnRecord struct {
	Table      string         `json:"tbl_name"`
	Name       string         `json:"column_name"`
	Definition string         `json:"column_definition"`
	OldName    string         `json:"old_name,omitempty"`
	Column     *schema.Column `json:"-"`
	// Indexes covering the column once nested inserts and deletes have
	// run, in their target form
	Indexes []*IndexRecord `json:"-"`
}

// IndexRecord describes an index change
type IndexRecord struct {
	Table   string        `json:"tbl_name"`
	Name    string        `json:"index_name"`
	Class   string        `json:"index_class"`
	Type    string        `json:"index_type,omitempty"`
	Columns string        `json:"index_columns"`
	Comment string        `json:"comment_value,omitempty"`
	Index   *schema.Index `json:"-"`
}

// ConstraintRecord describes a foreign key change
type ConstraintRecord struct {
	Table      string             `json:"tbl_name"`
	Name       string             `json:"fk_name"`
	Keys       string             `json:"fk_keys"`
	RefTable   string             `json:"fk_table"`
	Links      string             `json:"fk_links"`
	OnDelete   string             `json:"fk_delete"`
	OnUpdate   string             `json:"fk_update"`
	ForeignKey *schema.ForeignKey `json:"-"`
}

// TriggerRecord describes a trigger change
type TriggerRecord struct {
	Table string `json:"tbl_name"`
	Name  string `json:"trigger_name"`
	Time  string `json:"trigger_time"`
	Event string `json:"trigger_event"`
	Body  string `json:"trigger_body"`
}

// ProcedureRecord describes a stored routine change
type ProcedureRecord struct {
	Type       string `json:"sp_type"`
	Name       string `json:"sp_name"`
	Signature  string `json:"sp_signature,omitempty"`
	Definition string `json:"sp_definition"`
}

// EventRecord describes a scheduled event change
type EventRecord struct {
	Name       string `json:"event_name"`
	Schedule   string `json:"event_schedule"`
	Completion string `json:"event_completion"`
	Status     string `json:"event_status"`
	Body       string `json:"event_body"`
	Comment    string `json:"comment_value,omitempty"`
}

// ViewRecord describes a view change
type ViewRecord struct {
	Name       string `json:"view_name"`
	Definition string `json:"view_definition"`
}

// DataRecord holds the complete row set of an information table. Values are
// rendered literal tuples ready for a bulk INSERT.
type DataRecord struct {
	Table  string   `json:"tbl_name"`
	Fields []string `json:"fields"`
	Values []string `json:"values"`
}

// Changes holds the records of one change kind keyed by class. Nested
// classes are keyed by table name, then by entity name.
type Changes struct {
	Tables      map[string]*TableRecord                 `json:"tables"`
	Columns     map[string]map[string]*ColumnRecord     `json:"columns"`
	Indexes     map[string]map[string]*IndexRecord      `json:"indexes"`
	Constraints map[string]map[string]*ConstraintRecord `json:"constraints"`
	Triggers    map[string]map[string]*TriggerRecord    `json:"triggers"`
	Procedures  map[string]*ProcedureRecord             `json:"procedures"`
	Events      map[string]*EventRecord                 `json:"events"`
	Views       map[string]*ViewRecord                  `json:"views"`
	Data        map[string]*DataRecord                  `json:"data"`
}

func newChanges() Changes {
	return Changes{
		Tables:      make(map[string]*TableRecord),
		Columns:     make(map[string]map[string]*ColumnRecord),
		Indexes:     make(map[string]map[string]*IndexRecord),
		Constraints: make(map[string]map[string]*ConstraintRecord),
		Triggers:    make(map[string]map[string]*TriggerRecord),
		Procedures:  make(map[string]*ProcedureRecord),
		Events:      make(map[string]*EventRecord),
		Views:       make(map[string]*ViewRecord),
		Data:        make(map[string]*DataRecord),
	}
}

// Count returns the number of records of class
func (c *Changes) Count(class string) int {
	switch class {
	case ClassTables:
		return len(c.Tables)
	case ClassColumns:
		return countNested(c.Columns)
	case ClassIndexes:
		return countNested(c.Indexes)
	case ClassConstraints:
		return countNested(c.Constraints)
	case ClassTriggers:
		return countNested(c.Triggers)
	case ClassProcedures:
		return len(c.Procedures)
	case ClassEvents:
		return len(c.Events)
	case ClassViews:
		return len(c.Views)
	case ClassData:
		return len(c.Data)
	}
	return 0
}

// Total returns the number of records of all classes
func (c *Changes) Total() int {
	total := 0
	for _, class := range Classes {
		total += c.Count(class)
	}
	return total
}

func countNested[T any](m map[string]map[string]T) int {
	n := 0
	for _, entries := range m {
		n += len(entries)
	}
	return n
}

// nest stores value under table and name, creating the table entry
func nest[T any](m map[string]map[string]T, table, name string, value T) {
	entries, ok := m[table]
	if !ok {
		entries = make(map[string]T)
		m[table] = entries
	}
	entries[name] = value
}

// ChangeSet is the structural delta between two snapshots
type ChangeSet struct {
	Insert Changes `json:"insert"`
	Update Changes `json:"update"`
	Delete Changes `json:"delete"`
	// Deferred lists tables whose nested changes were suppressed by a table
	// meta update. They are picked up by a follow-up pass.
	Deferred []string `json:"deferred,omitempty"`
}

// NewChangeSet creates an empty change set
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		Insert: newChanges(),
		Update: newChanges(),
		Delete: newChanges(),
	}
}

// Empty reports whether the change set carries no change
func (cs *ChangeSet) Empty() bool {
	return cs.Insert.Total() == 0 && cs.Update.Total() == 0 && cs.Delete.Total() == 0
}

// ClassSummary counts the changes of one class
type ClassSummary struct {
	Class  string `json:"class"`
	Insert int    `json:"insert"`
	Update int    `json:"update"`
	Delete int    `json:"delete"`
}

// Summary returns per-class counts for the classes that have changes
func (cs *ChangeSet) Summary() []ClassSummary {
	var summary []ClassSummary
	for _, class := range Classes {
		s := ClassSummary{
			Class:  class,
			Insert: cs.Insert.Count(class),
			Update: cs.Update.Count(class),
			Delete: cs.Delete.Count(class),
		}
		if s.Insert+s.Update+s.Delete > 0 {
			summary = append(summary, s)
		}
	}
	return summary
}

// SortedKeys returns the keys of m in ascending order
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
