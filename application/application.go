package application

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stacktrends/config"
	"stacktrends/pkg/aggregate"
	"stacktrends/pkg/consensus"
	"stacktrends/pkg/geocode"
	"stacktrends/pkg/locations"
	"stacktrends/pkg/metrics"
	"stacktrends/pkg/store"
	"stacktrends/pkg/tags"
	"stacktrends/pkg/types"
	"stacktrends/pkg/writers"
	"stacktrends/pkg/writers/elastic"
	"stacktrends/pkg/writers/file"
	"stacktrends/pkg/writers/kafka"
)

// Locations resolves the location of every user and stores the locations
// table. An interrupted run stores what it finished; with resolver.resume
// set the next run continues from there.
func Locations(ctx context.Context, settings *config.Settings, logger *zap.Logger) (err error) {
	st, err := store.Open(settings.Database.Filename, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	m := metrics.New()
	defer writeMetrics(settings, m, logger)

	providers := NewProviders(settings, nil, logger, m)
	return ResolveLocations(ctx, settings, st, providers, logger, m)
}

// Datasets builds every output table from the stored posts, users and
// locations and writes them to the store and the configured sinks.
func Datasets(ctx context.Context, settings *config.Settings, logger *zap.Logger) (err error) {
	st, err := store.Open(settings.Database.Filename, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	sinks, closeSinks, err := NewSinks(settings, st, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeSinks()) }()

	m := metrics.New()
	defer writeMetrics(settings, m, logger)

	return CreateDatasets(ctx, settings, st, sinks, logger, m)
}

// NewProviders builds the enabled geocoding providers in the order their
// answers are stored. A nil httpClient uses a default client.
func NewProviders(settings *config.Settings, httpClient *http.Client, logger *zap.Logger, m *metrics.Metrics) []geocode.Provider {
	var providers []geocode.Provider
	for _, name := range settings.EnabledProviders() {
		p := settings.Providers[name]
		opts := geocode.Options{
			Endpoint:          p.Endpoint,
			APIKey:            p.APIKey,
			UserAgent:         p.UserAgent,
			Timeout:           p.Timeout(),
			MaxRetries:        p.MaxRetries,
			RequestsPerSecond: p.RequestsPerSecond,
			HTTPClient:        httpClient,
			Logger:            logger,
			Metrics:           m,
		}
		switch name {
		case config.ArcGIS:
			providers = append(providers, geocode.NewArcGIS(opts))
		case config.Bing:
			providers = append(providers, geocode.NewBing(opts))
		case config.Google:
			providers = append(providers, geocode.NewGoogle(opts))
		case config.Nominatim:
			providers = append(providers, geocode.NewNominatim(opts))
		}
	}
	if len(providers) == 0 {
		logger.Warn("no geocoding provider enabled, every location will stay unresolved")
	}
	return providers
}

// NewSinks returns the store followed by every configured external sink,
// and a function closing the sinks that hold connections.
func NewSinks(settings *config.Settings, st *store.Store, logger *zap.Logger) ([]writers.Sink, func() error, error) {
	sinks := []writers.Sink{st}
	var closers []func() error

	if settings.Output.Dir != "" && len(settings.Output.Formats) > 0 {
		sinks = append(sinks, file.New(settings.Output.Dir, settings.Output.Formats))
	}
	if settings.Elastic.Enabled {
		es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: settings.Elastic.Addresses})
		if err != nil {
			return nil, nil, errors.Wrap(err, "error creating the elasticsearch client")
		}
		sinks = append(sinks, elastic.New(es, settings.Elastic.IndexPrefix, logger))
	}
	if settings.Kafka.Enabled {
		w := kafka.New(settings.Kafka.Brokers, settings.Kafka.TopicPrefix, logger)
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}

	closeAll := func() error {
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
		return err
	}
	return sinks, closeAll, nil
}

// ResolveLocations builds the locations table for the distinct locations of
// all users. The table is written even when ctx is cancelled half way.
func ResolveLocations(ctx context.Context, settings *config.Settings, st *store.Store, providers []geocode.Provider, logger *zap.Logger, m *metrics.Metrics) error {
	users, err := st.Users(ctx)
	if err != nil {
		return err
	}
	distinct := locations.Distinct(users)

	resolver := consensus.NewResolver(providers...)
	var known map[string]types.LocationEntry
	if settings.Resolver.Resume && st.HasTable(config.LocationsTable) {
		table, err := st.ReadTable(ctx, config.LocationsTable)
		if err != nil {
			return err
		}
		known = locations.FromTable(table, resolver.Providers())
		logger.Info("resuming location resolution", zap.Int("known", len(known)))
	}

	builder := &locations.Builder{
		Resolver:         resolver,
		Workers:          settings.Resolver.Workers,
		ProgressInterval: settings.Resolver.ProgressInterval,
		Logger:           logger,
		Metrics:          m,
	}
	entries, buildErr := builder.Build(ctx, distinct, known)

	table := locations.Table(config.LocationsTable, entries, resolver.Providers())
	if err := st.Write(context.WithoutCancel(ctx), table); err != nil {
		return multierr.Append(buildErr, err)
	}
	m.TableWritten(table.Name, len(table.Rows))
	logger.Info("locations table written", zap.Int("rows", len(table.Rows)))
	return buildErr
}

// CreateDatasets derives the post_tags, summary, pair and reference tables
// and writes each of them to every sink.
func CreateDatasets(ctx context.Context, settings *config.Settings, st *store.Store, sinks []writers.Sink, logger *zap.Logger, m *metrics.Metrics) error {
	periods := make([]aggregate.Granularity, 0, len(settings.Datasets.Periods))
	for _, p := range settings.Datasets.Periods {
		g, err := aggregate.ParseGranularity(p)
		if err != nil {
			return err
		}
		periods = append(periods, g)
	}

	var selection *tags.Selection
	if settings.Filters.SelectedTags != "" {
		var err error
		if selection, err = tags.LoadSelection(settings.Filters.SelectedTags); err != nil {
			return err
		}
	}

	if !st.HasTable(config.LocationsTable) {
		return errors.Errorf("table %s not found, resolve locations first", config.LocationsTable)
	}
	locationTable, err := st.ReadTable(ctx, config.LocationsTable)
	if err != nil {
		return err
	}
	users, err := st.Users(ctx)
	if err != nil {
		return err
	}
	posts, err := st.Posts(ctx)
	if err != nil {
		return err
	}

	userCountries := assignCountries(users, locations.FromTable(locationTable, nil))
	countries := aggregate.Countries(users, posts, aggregate.Thresholds{
		MinUsers: settings.Filters.MinUsersPerCountry,
		MinPosts: settings.Filters.MinPostsPerCountry,
	})
	logger.Info("countries selected", zap.Int("countries", len(countries)))

	rows := tags.Explode(posts, tags.Propagate(posts, tags.QuestionTags(posts)), userCountries)
	var names []string
	if selection != nil {
		rows = selection.Rename(rows)
		names = selection.Names()
	} else {
		names = tags.Names(rows)
	}
	logger.Info("posts exploded", zap.Int("posts", len(posts)), zap.Int("rows", len(rows)))

	tables, err := buildTables(rows, countries, names, periods)
	if err != nil {
		return err
	}
	tables = append([]types.Table{locationTable}, tables...)

	var writeErr error
	for _, table := range tables {
		if err := writers.WriteAll(ctx, sinks, table, logger, m); err != nil {
			writeErr = multierr.Append(writeErr, errors.Wrapf(err, "table %s", table.Name))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return writeErr
}

// assignCountries sets the country of every user from the locations table
// and returns the user to country map of the located users.
func assignCountries(users []types.User, known map[string]types.LocationEntry) map[int64]string {
	out := make(map[int64]string)
	for i := range users {
		entry, ok := known[strings.TrimSpace(users[i].Location)]
		if !ok || entry.Country == "" {
			continue
		}
		users[i].Country = entry.Country
		out[users[i].ID] = entry.Country
	}
	return out
}

func buildTables(rows []types.ExplodedPostTag, countries []types.Country, names []string, periods []aggregate.Granularity) ([]types.Table, error) {
	countryRows := aggregate.InCountries(rows, countries)

	tables := []types.Table{
		tags.Table(config.PostTagsTable, rows),
		tags.NamesTable(config.TagsTable, names),
		aggregate.CountriesTable(config.CountriesTable, countries),
	}

	tagSummary := aggregate.Summary{GroupBy: []aggregate.Dimension{aggregate.Tag}}
	countrySummary := aggregate.Summary{
		GroupBy: []aggregate.Dimension{aggregate.Country, aggregate.Tag},
		FreqBy:  []aggregate.Dimension{aggregate.Country},
	}
	tagTable, countryTable, err := summaryTables(rows, countryRows, tagSummary, countrySummary, config.TagTable, config.CountryTagTable)
	if err != nil {
		return nil, err
	}
	tables = append(tables, tagTable, countryTable)

	for _, period := range periods {
		tagSummary := aggregate.Summary{
			GroupBy: []aggregate.Dimension{aggregate.Tag, aggregate.Period},
			Period:  period,
			FreqBy:  []aggregate.Dimension{aggregate.Period},
		}
		countrySummary := aggregate.Summary{
			GroupBy: []aggregate.Dimension{aggregate.Country, aggregate.Tag, aggregate.Period},
			Period:  period,
			FreqBy:  []aggregate.Dimension{aggregate.Country, aggregate.Period},
		}
		tagTable, countryTable, err := summaryTables(rows, countryRows, tagSummary, countrySummary,
			fmt.Sprintf(config.TagPeriodTable, period), fmt.Sprintf(config.CountryTagPeriodTable, period))
		if err != nil {
			return nil, err
		}
		tables = append(tables, tagTable, countryTable)
	}

	tables = append(tables, aggregate.PairsTable(config.TagPairsTable, aggregate.CoOccurrence(rows)))
	return tables, nil
}

// summaryTables computes a worldwide summary and its per-country
// counterpart. The worldwide rows are appended to the country table under
// the worldwide country label.
func summaryTables(rows, countryRows []types.ExplodedPostTag, tagSummary, countrySummary aggregate.Summary, tagName, countryName string) (types.Table, types.Table, error) {
	tagCounts, err := aggregate.Compute(rows, tagSummary)
	if err != nil {
		return types.Table{}, types.Table{}, err
	}
	countryCounts, err := aggregate.Compute(countryRows, countrySummary)
	if err != nil {
		return types.Table{}, types.Table{}, err
	}
	countryCounts = append(countryCounts, aggregate.Worldwide(tagCounts, config.WorldwideCountry)...)
	return tagSummary.Table(tagName, tagCounts), countrySummary.Table(countryName, countryCounts), nil
}

func writeMetrics(settings *config.Settings, m *metrics.Metrics, logger *zap.Logger) {
	if err := m.WriteTextfile(settings.Metrics.Textfile); err != nil {
		logger.Error("failed to write metrics", zap.Error(err))
	}
}
