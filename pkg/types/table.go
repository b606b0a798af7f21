package types

type ColumnKind int

const (
	Text ColumnKind = iota
	Integer
	Real
	Timestamp
)

// SQLType returns the SQLite column affinity for the kind.
func (k ColumnKind) SQLType() string {
	switch k {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	case Timestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

type Column struct {
	Name string
	Kind ColumnKind
}

// Row holds one value per table column. A nil value is written as NULL.
type Row []interface{}

// Table is the unit every sink and the store accept. Tables are always
// written whole.
type Table struct {
	Name    string
	Columns []Column
	Rows    []Row
}

func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Record returns row i as a column name to value map.
func (t Table) Record(i int) map[string]interface{} {
	rec := make(map[string]interface{}, len(t.Columns))
	for j, c := range t.Columns {
		if j < len(t.Rows[i]) {
			rec[c.Name] = t.Rows[i][j]
		} else {
			rec[c.Name] = nil
		}
	}
	return rec
}

// NullString maps the empty string to nil so it is stored as NULL.
func NullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func NullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
