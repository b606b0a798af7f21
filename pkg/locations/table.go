package locations

import (
	"stacktrends/pkg/types"
)

// Table lays entries out as the locations table: the location, the
// consensus country and one column with the raw answer of each provider.
func Table(name string, entries []types.LocationEntry, providers []string) types.Table {
	columns := []types.Column{
		{Name: "location", Kind: types.Text},
		{Name: "country", Kind: types.Text},
	}
	for _, p := range providers {
		columns = append(columns, types.Column{Name: p, Kind: types.Text})
	}

	rows := make([]types.Row, 0, len(entries))
	for _, e := range entries {
		row := types.Row{e.Location, types.NullString(e.Country)}
		for _, p := range providers {
			c, _ := e.CandidateFor(p)
			row = append(row, types.NullString(c))
		}
		rows = append(rows, row)
	}
	return types.Table{Name: name, Columns: columns, Rows: rows}
}

// FromTable is the inverse of Table. It is used to resume an interrupted
// resolution from the stored locations table.
func FromTable(table types.Table, providers []string) map[string]types.LocationEntry {
	index := make(map[string]int, len(table.Columns))
	for i, c := range table.Columns {
		index[c.Name] = i
	}

	entries := make(map[string]types.LocationEntry, len(table.Rows))
	for _, row := range table.Rows {
		location := stringAt(row, index, "location")
		if location == "" {
			continue
		}
		entry := types.LocationEntry{Location: location, Country: stringAt(row, index, "country")}
		for _, p := range providers {
			entry.Candidates = append(entry.Candidates, types.Candidate{Provider: p, Country: stringAt(row, index, p)})
		}
		entries[location] = entry
	}
	return entries
}

func stringAt(row types.Row, index map[string]int, column string) string {
	i, ok := index[column]
	if !ok || i >= len(row) {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
