package schema

// PortableType is the dialect-independent classification of a column type
type PortableType string

const (
	TypeInt    PortableType = "int"
	TypeFloat  PortableType = "float"
	TypeBool   PortableType = "bool"
	TypeString PortableType = "string"
)

// DefaultAction is used for ON DELETE / ON UPDATE when a foreign key omits it
const DefaultAction = "RESTRICT"

// Meta identifies the database a snapshot was taken from
type Meta struct {
	Driver    string `json:"driver"`
	Database  string `json:"database"`
	Charset   string `json:"charset,omitempty"`
	Collation string `json:"collation,omitempty"`
}

// Column represents a database column
type Column struct {
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	Portable      PortableType `json:"portable"`
	Nullable      bool         `json:"nullable"`
	DefaultValue  *string      `json:"default_value,omitempty"`
	AutoIncrement bool         `json:"auto_increment"`
	Unsigned      bool         `json:"unsigned,omitempty"`
	MaxLength     int          `json:"max_length,omitempty"`
	Precision     int          `json:"precision,omitempty"`
	Scale         int          `json:"scale,omitempty"`
	Values        []string     `json:"values,omitempty"`
	Position      int          `json:"position"`
}

// IndexColumn is one column of an index, optionally with a prefix length
type IndexColumn struct {
	Name   string `json:"name"`
	Length int    `json:"length,omitempty"`
}

// Index represents a database index
type Index struct {
	Name    string        `json:"name"`
	Columns []IndexColumn `json:"columns"`
	Unique  bool          `json:"unique"`
	Primary bool          `json:"primary"`
	Kind    string        `json:"kind,omitempty"`   // FULLTEXT, SPATIAL
	Method  string        `json:"method,omitempty"` // e.g., BTREE, HASH
	Comment string        `json:"comment,omitempty"`
}

// Covers reports whether column is one of the indexed columns
func (i *Index) Covers(column string) bool {
	for _, col := range i.Columns {
		if col.Name == column {
			return true
		}
	}
	return false
}

// ColumnNames returns the names of the indexed columns
func (i *Index) ColumnNames() []string {
	names := make([]string, len(i.Columns))
	for n, col := range i.Columns {
		names[n] = col.Name
	}
	return names
}

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnDelete          string   `json:"on_delete"` // CASCADE, SET NULL, etc.
	OnUpdate          string   `json:"on_update"`
}

// Trigger represents a table trigger
type Trigger struct {
	Name   string `json:"name"`
	Table  string `json:"table"`
	Timing string `json:"timing"` // BEFORE, AFTER, INSTEAD OF
	Event  string `json:"event"`  // INSERT, UPDATE, DELETE
	Body   string `json:"body"`
}

// TableMeta holds table-level options
type TableMeta struct {
	Engine    string `json:"engine,omitempty"`
	Collation string `json:"collation,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Options   string `json:"options,omitempty"`
}

// Table represents a complete table structure
type Table struct {
	Name        string                 `json:"name"`
	Meta        TableMeta              `json:"meta"`
	Definition  string                 `json:"definition,omitempty"`
	Columns     []Column               `json:"columns"`
	Indexes     []Index                `json:"indexes"`
	Constraints map[string]*ForeignKey `json:"constraints"`
	Triggers    map[string]*Trigger    `json:"triggers"`
}

// NewTable creates an empty table with initialised collections
func NewTable(name string) *Table {
	return &Table{
		Name:        name,
		Columns:     []Column{},
		Indexes:     []Index{},
		Constraints: make(map[string]*ForeignKey),
		Triggers:    make(map[string]*Trigger),
	}
}

// Column returns the named column or nil
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Index returns the named index or nil
func (t *Table) Index(name string) *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	return nil
}

// PrimaryKey returns the primary key index or nil
func (t *Table) PrimaryKey() *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Primary {
			return &t.Indexes[i]
		}
	}
	return nil
}

// Procedure represents a stored procedure or function
type Procedure struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // PROCEDURE or FUNCTION
	Signature  string `json:"signature,omitempty"`
	Definition string `json:"definition"`
}

// Event represents a scheduled event
type Event struct {
	Name       string `json:"name"`
	Schedule   string `json:"schedule"`
	Completion string `json:"completion"`
	Status     string `json:"status"`
	Body       string `json:"body"`
	Comment    string `json:"comment,omitempty"`
}

// View represents a view
type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Snapshot is the normalized structure of a whole database
type Snapshot struct {
	Meta       Meta                  `json:"meta"`
	Tables     map[string]*Table     `json:"tables"`
	Procedures map[string]*Procedure `json:"procedures"`
	Events     map[string]*Event     `json:"events"`
	Views      map[string]*View      `json:"views"`
	Data       map[string]*TableData `json:"data"`
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Tables:     make(map[string]*Table),
		Procedures: make(map[string]*Procedure),
		Events:     make(map[string]*Event),
		Views:      make(map[string]*View),
		Data:       make(map[string]*TableData),
	}
}

// Normalize replaces nil collections with empty ones
func (s *Snapshot) Normalize() {
	if s.Tables == nil {
		s.Tables = make(map[string]*Table)
	}
	if s.Procedures == nil {
		s.Procedures = make(map[string]*Procedure)
	}
	if s.Events == nil {
		s.Events = make(map[string]*Event)
	}
	if s.Views == nil {
		s.Views = make(map[string]*View)
	}
	if s.Data == nil {
		s.Data = make(map[string]*TableData)
	}
	for _, t := range s.Tables {
		if t.Columns == nil {
			t.Columns = []Column{}
		}
		if t.Indexes == nil {
			t.Indexes = []Index{}
		}
		if t.Constraints == nil {
			t.Constraints = make(map[string]*ForeignKey)
		}
		if t.Triggers == nil {
			t.Triggers = make(map[string]*Trigger)
		}
	}
}

// Str returns a pointer to s, used for nullable values
func Str(s string) *string {
	return &s
}
