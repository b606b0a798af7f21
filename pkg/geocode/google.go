package geocode

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

const googleEndpoint = "https://maps.googleapis.com/maps/api/geocode"

// Google scans the address components of the first result for the one
// typed "country".
type Google struct {
	client *client
}

func NewGoogle(opts Options) *Google {
	return &Google{client: newClient("google", googleEndpoint, opts)}
}

func (p *Google) Name() string {
	return p.client.name
}

func (p *Google) Resolve(ctx context.Context, location string) string {
	return p.client.resolve(ctx, location, p.lookup)
}

func (p *Google) lookup(ctx context.Context, location string) (string, error) {
	query := url.Values{"address": {location}}
	if p.client.opts.APIKey != "" {
		query.Set("key", p.client.opts.APIKey)
	}

	value, err := p.client.getJSON(ctx, "/json", query)
	if err != nil {
		return "", err
	}
	response, err := value.Object()
	if err != nil {
		return "", errors.Wrap(errMalformed, "google response is not an object")
	}

	status, _ := response.GetString("status")
	switch status {
	case "OK", "":
	case "ZERO_RESULTS":
		return "", nil
	default:
		message, _ := response.GetString("error_message")
		return "", &StatusError{Provider: p.client.name, Code: http.StatusOK, Message: status + " " + message}
	}

	results, err := response.GetObjectArray("results")
	if err != nil || len(results) == 0 {
		return "", nil
	}
	components, err := results[0].GetObjectArray("address_components")
	if err != nil {
		return "", nil
	}
	for _, component := range components {
		types, err := component.GetStringArray("types")
		if err != nil || !contains(types, "country") {
			continue
		}
		code, err := component.GetString("short_name")
		if err != nil {
			return "", nil
		}
		return code, nil
	}
	return "", nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
