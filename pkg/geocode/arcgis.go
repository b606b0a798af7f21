package geocode

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
)

const arcGISEndpoint = "https://geocode.arcgis.com/arcgis/rest/services/World/GeocodeServer"

// ArcGIS reads the country from the attributes of the best matching feature.
// The Country attribute is already alpha-3.
type ArcGIS struct {
	client *client
}

func NewArcGIS(opts Options) *ArcGIS {
	return &ArcGIS{client: newClient("arcgis", arcGISEndpoint, opts)}
}

func (p *ArcGIS) Name() string {
	return p.client.name
}

func (p *ArcGIS) Resolve(ctx context.Context, location string) string {
	return p.client.resolve(ctx, location, p.lookup)
}

func (p *ArcGIS) lookup(ctx context.Context, location string) (string, error) {
	query := url.Values{
		"text":         {location},
		"f":            {"json"},
		"maxLocations": {"1"},
		"outFields":    {"Country"},
	}
	if p.client.opts.APIKey != "" {
		query.Set("token", p.client.opts.APIKey)
	}

	value, err := p.client.getJSON(ctx, "/find", query)
	if err != nil {
		return "", err
	}
	response, err := value.Object()
	if err != nil {
		return "", errors.Wrap(errMalformed, "arcgis response is not an object")
	}

	// ArcGIS reports errors with HTTP 200 and an error object.
	if apiErr, err := response.GetObject("error"); err == nil {
		code, _ := apiErr.GetInt64("code")
		message, _ := apiErr.GetString("message")
		return "", &StatusError{Provider: p.client.name, Code: int(code), Message: message}
	}

	locations, err := response.GetObjectArray("locations")
	if err != nil || len(locations) == 0 {
		return "", nil
	}
	code, err := locations[0].GetString("feature", "attributes", "Country")
	if err != nil {
		return "", nil
	}
	return code, nil
}
