package aggregate

import (
	"sort"

	"stacktrends/pkg/types"
)

type tagPair struct {
	first, second string
}

// CoOccurrence counts, for every ordered pair of tags, the users that used
// both, and derives the probability that a user of the first tag also used
// the second. Self pairs are included and always have probability 1.
//
// Rows are first reduced to distinct (user, tag) pairs; every user then
// contributes k*k pairs for their k distinct tags, so the cost is the sum of
// k*k over users rather than linear in the number of rows. Rows without a
// user are ignored.
func CoOccurrence(rows []types.ExplodedPostTag) []types.TagPairCount {
	userTags := make(map[int64][]string)
	seen := make(map[int64]map[string]struct{})
	for _, r := range rows {
		if r.UserID == nil {
			continue
		}
		user := *r.UserID
		tags, ok := seen[user]
		if !ok {
			tags = make(map[string]struct{})
			seen[user] = tags
		}
		if _, ok := tags[r.Tag]; ok {
			continue
		}
		tags[r.Tag] = struct{}{}
		userTags[user] = append(userTags[user], r.Tag)
	}

	users := make(map[string]int)
	both := make(map[tagPair]int)
	for _, tags := range userTags {
		for _, a := range tags {
			users[a]++
			for _, b := range tags {
				both[tagPair{a, b}]++
			}
		}
	}

	out := make([]types.TagPairCount, 0, len(both))
	for pair, n := range both {
		first := users[pair.first]
		out = append(out, types.TagPairCount{
			Tag1:        pair.first,
			Tag2:        pair.second,
			Both:        n,
			First:       first,
			Probability: float64(n) / float64(first),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag1 != out[j].Tag1 {
			return out[i].Tag1 < out[j].Tag1
		}
		return out[i].Tag2 < out[j].Tag2
	})
	return out
}

func PairsTable(name string, pairs []types.TagPairCount) types.Table {
	table := types.Table{
		Name: name,
		Columns: []types.Column{
			{Name: "tag1", Kind: types.Text},
			{Name: "tag2", Kind: types.Text},
			{Name: "both", Kind: types.Integer},
			{Name: "first", Kind: types.Integer},
			{Name: "probability", Kind: types.Real},
		},
		Rows: make([]types.Row, 0, len(pairs)),
	}
	for _, p := range pairs {
		table.Rows = append(table.Rows, types.Row{p.Tag1, p.Tag2, p.Both, p.First, p.Probability})
	}
	return table
}
