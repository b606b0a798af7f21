package aggregate

import (
	"sort"

	"stacktrends/pkg/country"
	"stacktrends/pkg/types"
)

// Thresholds a country has to reach to get its own rows.
type Thresholds struct {
	MinUsers int
	MinPosts int
}

// Countries counts the users located in each country and the posts they
// own, and returns the countries reaching both thresholds sorted by code.
func Countries(users []types.User, posts []types.Post, t Thresholds) []types.Country {
	userCountry := make(map[int64]string, len(users))
	userCounts := make(map[string]int)
	for _, u := range users {
		if u.Country == "" {
			continue
		}
		userCountry[u.ID] = u.Country
		userCounts[u.Country]++
	}

	postCounts := make(map[string]int)
	for _, p := range posts {
		if p.OwnerUserID == nil {
			continue
		}
		if c, ok := userCountry[*p.OwnerUserID]; ok {
			postCounts[c]++
		}
	}

	var out []types.Country
	for code, n := range userCounts {
		if n < t.MinUsers || postCounts[code] < t.MinPosts {
			continue
		}
		out = append(out, types.Country{
			Code:  code,
			Name:  country.Name(code),
			Users: n,
			Posts: postCounts[code],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// InCountries keeps the rows located in one of the given countries.
func InCountries(rows []types.ExplodedPostTag, countries []types.Country) []types.ExplodedPostTag {
	allowed := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		allowed[c.Code] = struct{}{}
	}
	var out []types.ExplodedPostTag
	for _, r := range rows {
		if _, ok := allowed[r.Country]; ok {
			out = append(out, r)
		}
	}
	return out
}

func CountriesTable(name string, countries []types.Country) types.Table {
	table := types.Table{
		Name: name,
		Columns: []types.Column{
			{Name: "country_code", Kind: types.Text},
			{Name: "display_name", Kind: types.Text},
			{Name: "user_count", Kind: types.Integer},
			{Name: "posts", Kind: types.Integer},
		},
		Rows: make([]types.Row, 0, len(countries)),
	}
	for _, c := range countries {
		table.Rows = append(table.Rows, types.Row{c.Code, c.Name, c.Users, c.Posts})
	}
	return table
}
