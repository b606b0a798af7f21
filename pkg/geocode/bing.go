package geocode

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
)

const bingEndpoint = "https://dev.virtualearth.net/REST/v1"

// Bing reads the alpha-2 code from the address of the first resource.
type Bing struct {
	client *client
}

func NewBing(opts Options) *Bing {
	return &Bing{client: newClient("bing", bingEndpoint, opts)}
}

func (p *Bing) Name() string {
	return p.client.name
}

func (p *Bing) Resolve(ctx context.Context, location string) string {
	return p.client.resolve(ctx, location, p.lookup)
}

func (p *Bing) lookup(ctx context.Context, location string) (string, error) {
	query := url.Values{
		"query":      {location},
		"key":        {p.client.opts.APIKey},
		"incl":       {"ciso2"},
		"maxResults": {"1"},
	}

	value, err := p.client.getJSON(ctx, "/Locations", query)
	if err != nil {
		return "", err
	}
	response, err := value.Object()
	if err != nil {
		return "", errors.Wrap(errMalformed, "bing response is not an object")
	}
	resourceSets, err := response.GetObjectArray("resourceSets")
	if err != nil || len(resourceSets) == 0 {
		return "", nil
	}
	resources, err := resourceSets[0].GetObjectArray("resources")
	if err != nil || len(resources) == 0 {
		return "", nil
	}
	code, err := resources[0].GetString("address", "countryRegionIso2")
	if err != nil {
		return "", nil
	}
	return code, nil
}
