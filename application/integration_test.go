package application_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stacktrends/application"
	"stacktrends/config"
	"stacktrends/pkg/store"
	"stacktrends/pkg/types"
	"stacktrends/test/test_data"
)

const configTemplate = `
database:
  filename: %s
providers:
  arcgis:
    enabled: true
    endpoint: http://arcgis.test
  bing:
    enabled: true
    api_key: bing-key
    endpoint: http://bing.test
  google:
    enabled: true
    api_key: google-key
    endpoint: http://google.test
  nominatim:
    enabled: false
resolver:
  workers: 2
  resume: true
filters:
  min_users_per_country: 1
  min_posts_per_country: 1
datasets:
  periods: [year]
output:
  dir: %s
  formats: [csv]
`

func int64p(v int64) *int64 { return &v }

func at(year int, month time.Month) time.Time {
	return time.Date(year, month, 10, 8, 0, 0, 0, time.UTC)
}

func loadSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stacktrends.yaml")
	content := fmt.Sprintf(configTemplate, filepath.Join(dir, "stacktrends.db"), filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := config.Load(path)
	require.NoError(t, err)
	return settings
}

func seed(t *testing.T, settings *config.Settings, users []types.User, posts []types.Post) {
	t.Helper()
	st, err := store.Open(settings.Database.Filename, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Import(context.Background(), users, posts))
}

func readTable(t *testing.T, settings *config.Settings, name string) types.Table {
	t.Helper()
	st, err := store.Open(settings.Database.Filename, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()
	table, err := st.ReadTable(context.Background(), name)
	require.NoError(t, err)
	return table
}

// mockProviders answers every geocoder from the given tables, keyed by the
// queried location. Locations missing from a table have no match.
func mockProviders(t *testing.T, arcgis, bing, google map[string]string) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodGet, `=~^http://arcgis\.test/find`,
		func(req *http.Request) (*http.Response, error) {
			code, ok := arcgis[req.URL.Query().Get("text")]
			if !ok {
				return httpmock.NewStringResponse(200, `{"locations":[]}`), nil
			}
			return httpmock.NewStringResponse(200, fmt.Sprintf(`{"locations":[{"feature":{"attributes":{"Country":%q}}}]}`, code)), nil
		})
	httpmock.RegisterResponder(http.MethodGet, `=~^http://bing\.test/Locations`,
		func(req *http.Request) (*http.Response, error) {
			code, ok := bing[req.URL.Query().Get("query")]
			if !ok {
				return httpmock.NewStringResponse(200, `{"resourceSets":[{"resources":[]}]}`), nil
			}
			return httpmock.NewStringResponse(200, fmt.Sprintf(`{"resourceSets":[{"resources":[{"address":{"countryRegionIso2":%q}}]}]}`, code)), nil
		})
	httpmock.RegisterResponder(http.MethodGet, `=~^http://google\.test/json`,
		func(req *http.Request) (*http.Response, error) {
			code, ok := google[req.URL.Query().Get("address")]
			if !ok {
				return httpmock.NewStringResponse(200, `{"status":"ZERO_RESULTS","results":[]}`), nil
			}
			return httpmock.NewStringResponse(200, fmt.Sprintf(`{"status":"OK","results":[{"address_components":[{"short_name":%q,"types":["country","political"]}]}]}`, code)), nil
		})
}

func TestIntegration(t *testing.T) {
	settings := loadSettings(t)
	seed(t, settings,
		[]types.User{
			{ID: 1, Location: "Berlin"},
			{ID: 2, Location: "Paris"},
			{ID: 3, Location: "Springfield"},
			{ID: 4, Location: "12345"},
			{ID: 5, Location: "Berlin "},
			{ID: 6},
		},
		[]types.Post{
			{ID: 1, Type: types.Question, CreatedAt: at(2019, 1), OwnerUserID: int64p(1), PackedTags: "<go><sql>"},
			{ID: 2, Type: types.Answer, ParentID: int64p(1), CreatedAt: at(2020, 3), OwnerUserID: int64p(2)},
			{ID: 3, Type: types.Question, CreatedAt: at(2019, 5), OwnerUserID: int64p(3), PackedTags: "<go>"},
			{ID: 4, Type: types.Question, CreatedAt: at(2020, 6), OwnerUserID: int64p(5), PackedTags: "<rust>"},
			{ID: 5, Type: types.Answer, ParentID: int64p(4), CreatedAt: at(2020, 7), OwnerUserID: int64p(4)},
			{ID: 6, Type: types.Question, CreatedAt: at(2019, 2), PackedTags: "<sql>"},
		},
	)
	mockProviders(t,
		map[string]string{"Berlin": "DEU", "Paris": "FRA", "Springfield": "USA"},
		map[string]string{"Berlin": "DE", "Paris": "FR", "Springfield": "CA"},
		map[string]string{"Berlin": "DE", "Springfield": "AU"},
	)
	ctx := context.Background()

	require.NoError(t, application.Locations(ctx, settings, zap.NewNop()))
	assert.Equal(t, 9, httpmock.GetTotalCallCount(), "three usable locations, three providers")

	locations := readTable(t, settings, config.LocationsTable)
	assert.Equal(t, []string{"location", "country", "arcgis", "bing", "google"}, locations.ColumnNames())
	assert.Equal(t, []types.Row{
		{"Berlin", "DEU", "DEU", "DEU", "DEU"},
		{"Paris", "FRA", "FRA", "FRA", nil},
		{"Springfield", nil, "USA", "CAN", "AUS"},
		{"12345", nil, nil, nil, nil},
	}, locations.Rows)

	// resuming reuses every stored entry
	require.NoError(t, application.Locations(ctx, settings, zap.NewNop()))
	assert.Equal(t, 9, httpmock.GetTotalCallCount())

	require.NoError(t, application.Datasets(ctx, settings, zap.NewNop()))

	countries := readTable(t, settings, config.CountriesTable)
	assert.Equal(t, []string{"country_code", "display_name", "user_count", "posts"}, countries.ColumnNames())
	assert.Equal(t, []types.Row{
		{"DEU", "Germany", int64(2), int64(2)},
		{"FRA", "France", int64(1), int64(1)},
	}, countries.Rows)

	postTags := readTable(t, settings, config.PostTagsTable)
	assert.Len(t, postTags.Rows, 8)

	tag := readTable(t, settings, config.TagTable)
	assert.Equal(t, []types.Row{
		{"go", int64(3), 0.375},
		{"rust", int64(2), 0.25},
		{"sql", int64(3), 0.375},
	}, tag.Rows)

	countryTag := readTable(t, settings, config.CountryTagTable)
	assert.Equal(t, []types.Row{
		{"DEU", "go", int64(1), 1.0 / 3},
		{"DEU", "rust", int64(1), 1.0 / 3},
		{"DEU", "sql", int64(1), 1.0 / 3},
		{"FRA", "go", int64(1), 0.5},
		{"FRA", "sql", int64(1), 0.5},
		{"XXX", "go", int64(3), 0.375},
		{"XXX", "rust", int64(2), 0.25},
		{"XXX", "sql", int64(3), 0.375},
	}, countryTag.Rows)

	tagYear := readTable(t, settings, "tag_year")
	assert.Contains(t, tagYear.Rows, types.Row{"go", "2019", int64(2), 0.5})

	pairs := readTable(t, settings, config.TagPairsTable)
	assert.Contains(t, pairs.Rows, types.Row{"go", "sql", int64(2), int64(3), 2.0 / 3})
	assert.Contains(t, pairs.Rows, types.Row{"sql", "go", int64(2), int64(2), 1.0})
	assert.Contains(t, pairs.Rows, types.Row{"rust", "rust", int64(2), int64(2), 1.0})

	csv, err := os.ReadFile(filepath.Join(settings.Output.Dir, config.CountryTagTable+".csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "XXX,go,3,0.375\n")
	for _, name := range []string{"locations", "post_tags", "tags", "countries", "tag", "tag_year", "country_tag_year", "tag_pairs"} {
		assert.FileExists(t, filepath.Join(settings.Output.Dir, name+".csv"))
	}
}

func TestIntegration_RandomData(t *testing.T) {
	settings := loadSettings(t)
	settings.Datasets.Periods = []string{"year", "month"}

	st, err := store.Open(settings.Database.Filename, zap.NewNop())
	require.NoError(t, err)
	_, posts, err := test_data.CreateInStore(context.Background(), st, 300, 2000)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	everywhere := make(map[string]string)
	for _, location := range test_data.Locations {
		everywhere[strings.TrimSpace(location)] = "JP"
	}
	mockProviders(t, everywhere, everywhere, everywhere)
	ctx := context.Background()

	require.NoError(t, application.Locations(ctx, settings, zap.NewNop()))
	require.NoError(t, application.Datasets(ctx, settings, zap.NewNop()))

	questionTags := make(map[int64]int)
	for _, p := range posts {
		if p.Type == types.Question {
			questionTags[p.ID] = strings.Count(p.PackedTags, "<")
		}
	}
	expected := 0
	for _, p := range posts {
		switch p.Type {
		case types.Question:
			expected += questionTags[p.ID]
		case types.Answer:
			expected += questionTags[*p.ParentID]
		}
	}
	assert.Len(t, readTable(t, settings, config.PostTagsTable).Rows, expected)

	for _, name := range []string{"tag_month", "country_tag_month"} {
		assert.NotEmpty(t, readTable(t, settings, name).Rows, name)
	}
}
