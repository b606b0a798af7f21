package types

import "time"

type PostType int

const (
	Question PostType = 1
	Answer   PostType = 2
)

// User is a row of the imported users table. Country is empty until the
// user's location has been resolved.
type User struct {
	ID       int64
	Location string
	Country  string
}

type Post struct {
	ID          int64
	Type        PostType
	ParentID    *int64
	CreatedAt   time.Time
	OwnerUserID *int64
	PackedTags  string
}

// Candidate is the answer of a single geocoding provider for a location.
// An empty Country means the provider had no opinion.
type Candidate struct {
	Provider string
	Country  string
}

// LocationEntry is a distinct location string together with the consensus
// country and the raw per-provider answers it was derived from.
type LocationEntry struct {
	Location   string
	Country    string
	Candidates []Candidate
}

// CandidateFor returns the answer recorded for the named provider.
func (e LocationEntry) CandidateFor(provider string) (string, bool) {
	for _, c := range e.Candidates {
		if c.Provider == provider {
			return c.Country, true
		}
	}
	return "", false
}

type ExplodedPostTag struct {
	PostID    int64
	Tag       string
	CreatedAt time.Time
	UserID    *int64
	Country   string
}

// TagPairCount holds the number of users that used both Tag1 and Tag2 and
// the number of users that used Tag1 at all.
type TagPairCount struct {
	Tag1        string
	Tag2        string
	Both        int
	First       int
	Probability float64
}

// CountRow is one group of a summary table. Dimensions that are not part of
// the grouping are left empty.
type CountRow struct {
	Tag       string
	Country   string
	Period    string
	Count     int
	Frequency float64
}

type Country struct {
	Code  string
	Name  string
	Users int
	Posts int
}
