package aggregate

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Granularity is the width of the period dimension.
type Granularity string

const (
	Year  Granularity = "year"
	Month Granularity = "month"
)

var ErrUnsupportedGranularity = errors.New("unsupported period granularity")

// ParseGranularity accepts "year" and "month" in any case.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Year, Month:
		return g, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedGranularity, "%q", s)
	}
}

// Layout is the time layout period labels are rendered with.
func (g Granularity) Layout() string {
	switch g {
	case Year:
		return "2006"
	case Month:
		return "2006-01"
	default:
		return ""
	}
}

// Label renders the period t falls into, in UTC.
func (g Granularity) Label(t time.Time) string {
	return t.UTC().Format(g.Layout())
}
