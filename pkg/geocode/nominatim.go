package geocode

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
)

const nominatimEndpoint = "https://nominatim.openstreetmap.org"

// countryZoom is the reverse geocoding detail level of country boundaries.
const countryZoom = "3"

// Nominatim forward-geocodes the location to a point and then reverse
// geocodes that point at country boundary level, so the answer is the
// administrative area containing the match rather than its address label.
type Nominatim struct {
	client *client
}

func NewNominatim(opts Options) *Nominatim {
	return &Nominatim{client: newClient("nominatim", nominatimEndpoint, opts)}
}

func (p *Nominatim) Name() string {
	return p.client.name
}

func (p *Nominatim) Resolve(ctx context.Context, location string) string {
	return p.client.resolve(ctx, location, p.lookup)
}

func (p *Nominatim) lookup(ctx context.Context, location string) (string, error) {
	lat, lon, err := p.search(ctx, location)
	if err != nil || lat == "" || lon == "" {
		return "", err
	}

	value, err := p.client.getJSON(ctx, "/reverse", url.Values{
		"lat":            {lat},
		"lon":            {lon},
		"format":         {"jsonv2"},
		"zoom":           {countryZoom},
		"addressdetails": {"1"},
	})
	if err != nil {
		return "", err
	}
	response, err := value.Object()
	if err != nil {
		return "", errors.Wrap(errMalformed, "nominatim reverse response is not an object")
	}
	code, err := response.GetString("address", "country_code")
	if err != nil {
		return "", nil
	}
	return code, nil
}

func (p *Nominatim) search(ctx context.Context, location string) (lat, lon string, err error) {
	value, err := p.client.getJSON(ctx, "/search", url.Values{
		"q":      {location},
		"format": {"jsonv2"},
		"limit":  {"1"},
	})
	if err != nil {
		return "", "", err
	}
	places, err := value.Array()
	if err != nil {
		return "", "", errors.Wrap(errMalformed, "nominatim search response is not an array")
	}
	if len(places) == 0 {
		return "", "", nil
	}
	place, err := places[0].Object()
	if err != nil {
		return "", "", errors.Wrap(errMalformed, "nominatim search result is not an object")
	}
	lat, _ = place.GetString("lat")
	lon, _ = place.GetString("lon")
	return lat, lon, nil
}
