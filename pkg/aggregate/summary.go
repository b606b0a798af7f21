package aggregate

import (
	"sort"

	"github.com/pkg/errors"

	"stacktrends/pkg/types"
)

type Dimension string

const (
	Tag     Dimension = "tag"
	Country Dimension = "country"
	Period  Dimension = "period"
)

// Summary describes a count table: the dimensions rows are grouped by, the
// granularity of the period dimension and the marginal frequencies are
// normalised over. An empty FreqBy normalises over the grand total.
type Summary struct {
	GroupBy []Dimension
	Period  Granularity
	FreqBy  []Dimension
}

func (s Summary) has(d Dimension) bool {
	return contains(s.GroupBy, d)
}

func (s Summary) validate() error {
	if len(s.GroupBy) == 0 {
		return errors.New("summary has no grouping dimension")
	}
	seen := make(map[Dimension]bool, len(s.GroupBy))
	for _, d := range s.GroupBy {
		switch d {
		case Tag, Country, Period:
		default:
			return errors.Errorf("unknown dimension %q", d)
		}
		if seen[d] {
			return errors.Errorf("dimension %q grouped twice", d)
		}
		seen[d] = true
	}
	if s.has(Period) {
		if _, err := ParseGranularity(string(s.Period)); err != nil {
			return err
		}
	}
	for _, d := range s.FreqBy {
		if !seen[d] {
			return errors.Errorf("frequency dimension %q is not grouped", d)
		}
	}
	return nil
}

// Count groups rows by the summary's dimensions and counts each group. Rows
// without a country are skipped when grouping by country. The result is
// sorted by key in GroupBy order.
func Count(rows []types.ExplodedPostTag, s Summary) ([]types.CountRow, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	counts := make(map[types.CountRow]int)
	for _, r := range rows {
		var key types.CountRow
		if s.has(Tag) {
			key.Tag = r.Tag
		}
		if s.has(Country) {
			if r.Country == "" {
				continue
			}
			key.Country = r.Country
		}
		if s.has(Period) {
			key.Period = s.Period.Label(r.CreatedAt)
		}
		counts[key]++
	}

	out := make([]types.CountRow, 0, len(counts))
	for key, n := range counts {
		key.Count = n
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i], out[j], s.GroupBy)
	})
	return out, nil
}

// Frequencies sets each row's frequency to its share of the total count of
// the rows sharing its freqBy dimensions.
func Frequencies(rows []types.CountRow, freqBy []Dimension) {
	totals := make(map[types.CountRow]int)
	for _, r := range rows {
		totals[marginal(r, freqBy)] += r.Count
	}
	for i := range rows {
		if total := totals[marginal(rows[i], freqBy)]; total > 0 {
			rows[i].Frequency = float64(rows[i].Count) / float64(total)
		}
	}
}

// Compute runs Count followed by Frequencies.
func Compute(rows []types.ExplodedPostTag, s Summary) ([]types.CountRow, error) {
	out, err := Count(rows, s)
	if err != nil {
		return nil, err
	}
	Frequencies(out, s.FreqBy)
	return out, nil
}

// Worldwide labels rows of a summary that is not grouped by country so they
// can be appended to the matching country table.
func Worldwide(rows []types.CountRow, label string) []types.CountRow {
	out := make([]types.CountRow, len(rows))
	for i, r := range rows {
		r.Country = label
		out[i] = r
	}
	return out
}

// Table lays rows out with one column per grouping dimension followed by
// count and frequency.
func (s Summary) Table(name string, rows []types.CountRow) types.Table {
	table := types.Table{Name: name}
	for _, d := range s.GroupBy {
		table.Columns = append(table.Columns, types.Column{Name: string(d), Kind: types.Text})
	}
	table.Columns = append(table.Columns,
		types.Column{Name: "count", Kind: types.Integer},
		types.Column{Name: "frequency", Kind: types.Real},
	)

	table.Rows = make([]types.Row, 0, len(rows))
	for _, r := range rows {
		row := make(types.Row, 0, len(table.Columns))
		for _, d := range s.GroupBy {
			row = append(row, value(r, d))
		}
		row = append(row, r.Count, r.Frequency)
		table.Rows = append(table.Rows, row)
	}
	return table
}

func marginal(r types.CountRow, by []Dimension) types.CountRow {
	var key types.CountRow
	for _, d := range by {
		switch d {
		case Tag:
			key.Tag = r.Tag
		case Country:
			key.Country = r.Country
		case Period:
			key.Period = r.Period
		}
	}
	return key
}

func value(r types.CountRow, d Dimension) string {
	switch d {
	case Tag:
		return r.Tag
	case Country:
		return r.Country
	case Period:
		return r.Period
	}
	return ""
}

func less(a, b types.CountRow, order []Dimension) bool {
	for _, d := range order {
		if va, vb := value(a, d), value(b, d); va != vb {
			return va < vb
		}
	}
	return false
}

func contains(dims []Dimension, d Dimension) bool {
	for _, x := range dims {
		if x == d {
			return true
		}
	}
	return false
}
