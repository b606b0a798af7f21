package tags

import (
	"strings"

	"stacktrends/pkg/types"
)

// Parse splits a packed tag string of the form "<tag1><tag2><tag3>" into
// its tags, keeping their order. Empty or malformed strings have no tags.
func Parse(packed string) []string {
	if len(packed) < 3 || packed[0] != '<' || packed[len(packed)-1] != '>' {
		return nil
	}
	parts := strings.Split(packed[1:len(packed)-1], "><")
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "<>") {
			return nil
		}
	}
	return parts
}

// QuestionTags parses the tags of every question. Questions without usable
// tags are left out.
func QuestionTags(posts []types.Post) map[int64][]string {
	out := make(map[int64][]string)
	for _, p := range posts {
		if p.Type != types.Question {
			continue
		}
		if tags := Parse(p.PackedTags); len(tags) > 0 {
			out[p.ID] = tags
		}
	}
	return out
}

// Propagate returns the effective tags of every post. Answers take the
// tags of their parent question from the finished questions map, so no
// post is read while it is being written. Posts without tags are absent.
func Propagate(posts []types.Post, questions map[int64][]string) map[int64][]string {
	out := make(map[int64][]string, len(posts))
	for _, p := range posts {
		switch p.Type {
		case types.Question:
			if tags, ok := questions[p.ID]; ok {
				out[p.ID] = tags
			}
		case types.Answer:
			if p.ParentID == nil {
				continue
			}
			if tags, ok := questions[*p.ParentID]; ok {
				out[p.ID] = tags
			}
		}
	}
	return out
}

// Explode emits one row per (post, tag). Rows carry the post's own
// timestamp and owner, and the owner's country when it is known.
func Explode(posts []types.Post, tags map[int64][]string, countries map[int64]string) []types.ExplodedPostTag {
	size := 0
	for _, t := range tags {
		size += len(t)
	}

	rows := make([]types.ExplodedPostTag, 0, size)
	for _, p := range posts {
		postTags, ok := tags[p.ID]
		if !ok {
			continue
		}
		var country string
		if p.OwnerUserID != nil {
			country = countries[*p.OwnerUserID]
		}
		for _, tag := range postTags {
			rows = append(rows, types.ExplodedPostTag{
				PostID:    p.ID,
				Tag:       tag,
				CreatedAt: p.CreatedAt,
				UserID:    p.OwnerUserID,
				Country:   country,
			})
		}
	}
	return rows
}

// Table lays the exploded rows out for storage.
func Table(name string, rows []types.ExplodedPostTag) types.Table {
	table := types.Table{
		Name: name,
		Columns: []types.Column{
			{Name: "post", Kind: types.Integer},
			{Name: "tag", Kind: types.Text},
			{Name: "date", Kind: types.Timestamp},
			{Name: "user", Kind: types.Integer},
			{Name: "country", Kind: types.Text},
		},
		Rows: make([]types.Row, 0, len(rows)),
	}
	for _, r := range rows {
		table.Rows = append(table.Rows, types.Row{r.PostID, r.Tag, r.CreatedAt, types.NullInt64(r.UserID), types.NullString(r.Country)})
	}
	return table
}
