package geocode

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stacktrends/pkg/country"
	"stacktrends/pkg/metrics"
)

// Provider resolves a free-text location to an ISO 3166-1 alpha-3 country
// code. An empty result means the provider has no opinion: it found nothing,
// returned something unusable, or failed.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, location string) string
}

type Options struct {
	Endpoint   string
	APIKey     string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond limits outgoing requests; zero means unlimited.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

const defaultTimeout = time.Second * 10

// errMalformed marks a response body that could not be parsed at all.
var errMalformed = errors.New("malformed response")

// StatusError is returned for non-200 responses and for provider level
// errors reported inside a 200 response.
type StatusError struct {
	Provider string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.Code)
}

// lookupFunc performs a single attempt and returns the raw country code of
// the best match in whatever scheme the provider uses, or "" for no match.
type lookupFunc func(ctx context.Context, location string) (string, error)

// client holds what every HTTP adapter shares: transport, limiter and the
// retry loop.
type client struct {
	name     string
	endpoint string
	opts     Options
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func newClient(name, defaultEndpoint string, opts Options) *client {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &client{
		name:     name,
		endpoint: opts.Endpoint,
		opts:     opts,
		http:     httpClient,
		logger:   logger.With(zap.String("provider", name)),
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

// resolve runs lookup at most MaxRetries+1 times. Only timeouts are retried;
// every other failure ends the loop and yields no opinion.
func (c *client) resolve(ctx context.Context, location string, lookup lookupFunc) string {
	var (
		code string
		err  error
	)
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		code, err = c.attempt(ctx, location, lookup)
		if err == nil || ctx.Err() != nil || !isTimeout(err) {
			break
		}
		c.logger.Debug("geocoder timed out",
			zap.String("location", location),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.opts.MaxRetries+1))
	}

	switch {
	case err == nil:
		result := country.Normalize(code)
		if result == "" {
			c.opts.Metrics.ProviderResult(c.name, metrics.OutcomeNone)
		} else {
			c.opts.Metrics.ProviderResult(c.name, metrics.OutcomeCountry)
		}
		return result
	case ctx.Err() != nil:
		return ""
	case errors.Is(err, errMalformed):
		c.logger.Debug("unparseable geocoder response", zap.String("location", location), zap.Error(err))
		c.opts.Metrics.ProviderResult(c.name, metrics.OutcomeNone)
	case isTimeout(err):
		c.logger.Warn("geocoder timed out, giving up", zap.String("location", location),
			zap.Int("attempts", c.opts.MaxRetries+1), zap.Error(err))
		c.opts.Metrics.ProviderResult(c.name, metrics.OutcomeTimeout)
	default:
		c.logger.Warn("geocoder failed", zap.String("location", location), zap.Error(err))
		c.opts.Metrics.ProviderResult(c.name, metrics.OutcomeError)
	}
	return ""
}

func (c *client) attempt(ctx context.Context, location string, lookup lookupFunc) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// Wait refuses up front when the next token lies past ctx's deadline.
				return "", errors.Wrap(context.DeadlineExceeded, err.Error())
			}
			return "", errors.Wrap(err, "rate limiter")
		}
	}
	c.opts.Metrics.ProviderAttempt(c.name)

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return lookup(ctx, location)
}

// getJSON issues a GET against path (relative to the endpoint) and parses
// the body leniently. Bodies that are not JSON yield errMalformed.
func (c *client) getJSON(ctx context.Context, path string, query url.Values) (*jason.Value, error) {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", c.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: c.name, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s response", c.name)
	}
	value, err := jason.NewValueFromBytes(body)
	if err != nil {
		return nil, errors.Wrap(errMalformed, err.Error())
	}
	return value, nil
}

// isTimeout reports whether err is a timeout-class failure worth retrying.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusRequestTimeout || statusErr.Code == http.StatusGatewayTimeout
	}
	return false
}
