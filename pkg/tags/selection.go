package tags

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"stacktrends/pkg/types"
)

// Other replaces every tag that is not selected.
const Other = "Other"

// Selection maps raw tags to their display names. Only selected tags are
// kept; everything else collapses into Other.
type Selection struct {
	names map[string]string
}

func NewSelection(names map[string]string) *Selection {
	return &Selection{names: names}
}

// LoadSelection reads a selected-tags CSV file.
func LoadSelection(path string) (*Selection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open selected tags")
	}
	defer f.Close()
	return ReadSelection(f)
}

// ReadSelection parses CSV with a header naming the raw tag column
// ("raw_tag" or "tag"), the display name column ("canonical_name" or
// "newname") and a "selected" column holding a boolean or 0/1.
func ReadSelection(r io.Reader) (*Selection, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read selected tags header")
	}
	rawCol, nameCol, selectedCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "raw_tag", "tag":
			rawCol = i
		case "canonical_name", "newname":
			nameCol = i
		case "selected":
			selectedCol = i
		}
	}
	if rawCol < 0 || nameCol < 0 || selectedCol < 0 {
		return nil, errors.Errorf("selected tags header %v lacks raw tag, name or selected column", header)
	}

	names := make(map[string]string)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read selected tags line %d", line)
		}
		selected, err := strconv.ParseBool(strings.TrimSpace(record[selectedCol]))
		if err != nil {
			return nil, errors.Wrapf(err, "selected tags line %d", line)
		}
		if !selected {
			continue
		}
		name := strings.TrimSpace(record[nameCol])
		if name == "" {
			name = strings.TrimSpace(record[rawCol])
		}
		names[strings.TrimSpace(record[rawCol])] = name
	}
	return &Selection{names: names}, nil
}

// Name returns the display name of tag, or Other.
func (s *Selection) Name(tag string) string {
	if name, ok := s.names[tag]; ok {
		return name
	}
	return Other
}

// Rename returns a copy of rows with each tag replaced by its display name.
func (s *Selection) Rename(rows []types.ExplodedPostTag) []types.ExplodedPostTag {
	out := make([]types.ExplodedPostTag, len(rows))
	for i, r := range rows {
		r.Tag = s.Name(r.Tag)
		out[i] = r
	}
	return out
}

// Names lists the distinct display names sorted case-insensitively.
func (s *Selection) Names() []string {
	names := make([]string, 0, len(s.names))
	for _, name := range s.names {
		names = append(names, name)
	}
	return sortNames(names)
}

// Names lists the distinct tags of rows sorted case-insensitively.
func Names(rows []types.ExplodedPostTag) []string {
	var names []string
	for _, r := range rows {
		names = append(names, r.Tag)
	}
	return sortNames(names)
}

// NamesTable lays a tag list out as the tags table.
func NamesTable(name string, names []string) types.Table {
	table := types.Table{
		Name:    name,
		Columns: []types.Column{{Name: "tag", Kind: types.Text}},
		Rows:    make([]types.Row, 0, len(names)),
	}
	for _, n := range names {
		table.Rows = append(table.Rows, types.Row{n})
	}
	return table
}

func sortNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i]), strings.ToLower(out[j])
		if a != b {
			return a < b
		}
		return out[i] < out[j]
	})
	return out
}
