package consensus

import (
	"context"

	"stacktrends/pkg/geocode"
	"stacktrends/pkg/types"
)

// Resolver asks every configured provider about a location and keeps the
// country a strict majority of them agrees on.
type Resolver struct {
	providers []geocode.Provider
}

func NewResolver(providers ...geocode.Provider) *Resolver {
	return &Resolver{providers: providers}
}

func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Resolve queries each provider once. Providers never fail the call: a
// failing provider is recorded as having no opinion.
func (r *Resolver) Resolve(ctx context.Context, location string) types.LocationEntry {
	entry := types.LocationEntry{
		Location:   location,
		Candidates: make([]types.Candidate, 0, len(r.providers)),
	}
	countries := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		c := p.Resolve(ctx, location)
		entry.Candidates = append(entry.Candidates, types.Candidate{Provider: p.Name(), Country: c})
		countries = append(countries, c)
	}
	entry.Country = Vote(countries, len(r.providers))
	return entry
}

// Vote returns the country named by more than half of the configured
// providers. Empty candidates are abstentions but still count towards the
// number of providers. Ties and pluralities below the majority yield "".
func Vote(candidates []string, providers int) string {
	counts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		if c != "" {
			counts[c]++
		}
	}

	var winner string
	best := 0
	tie := false
	for c, n := range counts {
		switch {
		case n > best:
			winner, best, tie = c, n, false
		case n == best:
			tie = true
		}
	}
	if tie || 2*best <= providers {
		return ""
	}
	return winner
}
