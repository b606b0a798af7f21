package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"stacktrends/pkg/aggregate"
	"stacktrends/pkg/writers/file"
)

// Provider names
const (
	ArcGIS    = "arcgis"
	Bing      = "bing"
	Google    = "google"
	Nominatim = "nominatim"
)

// Output table names
const (
	LocationsTable        = "locations"
	PostTagsTable         = "post_tags"
	TagsTable             = "tags"
	CountriesTable        = "countries"
	TagTable              = "tag"
	TagPeriodTable        = "tag_%s"
	CountryTagTable       = "country_tag"
	CountryTagPeriodTable = "country_tag_%s"
	TagPairsTable         = "tag_pairs"
)

// WorldwideCountry labels worldwide rows in the country_tag table.
const WorldwideCountry = "XXX"

// Performance defaults
const (
	DefaultResolverWorkers  = 4
	DefaultProgressInterval = time.Second * 10
	DefaultProviderTimeout  = 10

	ElasticBulkBuffer = 3000
	KafkaBatchSize    = 1000
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ProviderNames lists every geocoding provider the resolver knows about, in
// the order their raw answers are stored.
var ProviderNames = []string{ArcGIS, Bing, Google, Nominatim}

type Settings struct {
	Debug     bool
	Database  DatabaseSettings
	Providers map[string]ProviderSettings
	Resolver  ResolverSettings
	Filters   FilterSettings
	Datasets  DatasetSettings
	Output    OutputSettings
	Elastic   ElasticSettings
	Kafka     KafkaSettings
	Metrics   MetricsSettings
}

type DatabaseSettings struct {
	Filename string
}

type ProviderSettings struct {
	Enabled           bool
	APIKey            string  `mapstructure:"api_key"`
	Endpoint          string
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    float64 `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

func (p ProviderSettings) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

type ResolverSettings struct {
	Workers          int
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	Resume           bool
}

type FilterSettings struct {
	SelectedTags       string `mapstructure:"selected_tags"`
	MinUsersPerCountry int    `mapstructure:"min_users_per_country"`
	MinPostsPerCountry int    `mapstructure:"min_posts_per_country"`
}

type DatasetSettings struct {
	Periods []string
}

type OutputSettings struct {
	Dir     string
	Formats []string
}

type ElasticSettings struct {
	Enabled     bool
	Addresses   []string
	IndexPrefix string `mapstructure:"index_prefix"`
}

type KafkaSettings struct {
	Enabled     bool
	Brokers     []string
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type MetricsSettings struct {
	Textfile string
}

// EnabledProviders returns the names of enabled providers in ProviderNames order.
func (s *Settings) EnabledProviders() []string {
	var names []string
	for _, name := range ProviderNames {
		if p, ok := s.Providers[name]; ok && p.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// Load reads the YAML configuration at path. Any configuration error is
// reported before the pipeline touches the network or the database.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stacktrends")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("STACKTRENDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Settings, error) {
	for _, key := range []string{"filters.min_users_per_country", "filters.min_posts_per_country"} {
		if !v.IsSet(key) {
			return nil, errors.Wrapf(ErrInvalidConfig, "missing required key %q", key)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := Validate(&settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.filename", "stacktrends.db")
	v.SetDefault("resolver.workers", DefaultResolverWorkers)
	v.SetDefault("resolver.progress_interval", DefaultProgressInterval)
	v.SetDefault("datasets.periods", []string{string(aggregate.Year), string(aggregate.Month)})
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.formats", []string{file.CSV, file.JSON})
	v.SetDefault("elastic.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elastic.index_prefix", "stacktrends")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "stacktrends")

	v.SetDefault("providers.arcgis.enabled", true)
	v.SetDefault("providers.nominatim.enabled", true)
	v.SetDefault("providers.nominatim.requests_per_second", 1)
	v.SetDefault("providers.nominatim.user_agent", "stacktrends")
	for _, name := range ProviderNames {
		v.SetDefault(fmt.Sprintf("providers.%s.timeout_seconds", name), DefaultProviderTimeout)
	}
}

// Validate checks the settings that can be verified without I/O.
func Validate(s *Settings) error {
	if s.Database.Filename == "" {
		return errors.Wrap(ErrInvalidConfig, "database.filename is empty")
	}
	if s.Resolver.Workers <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "resolver.workers must be positive, got %d", s.Resolver.Workers)
	}
	if s.Filters.MinUsersPerCountry < 0 || s.Filters.MinPostsPerCountry < 0 {
		return errors.Wrap(ErrInvalidConfig, "country thresholds must not be negative")
	}
	for _, period := range s.Datasets.Periods {
		if _, err := aggregate.ParseGranularity(period); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "datasets.periods: %v", err)
		}
	}
	for _, format := range s.Output.Formats {
		if format != file.CSV && format != file.JSON {
			return errors.Wrapf(ErrInvalidConfig, "unsupported output format %q", format)
		}
	}
	for name, p := range s.Providers {
		if !isKnownProvider(name) {
			return errors.Wrapf(ErrInvalidConfig, "unknown provider %q", name)
		}
		if !p.Enabled {
			continue
		}
		if p.MaxRetries < 0 {
			return errors.Wrapf(ErrInvalidConfig, "providers.%s.max_retries must not be negative", name)
		}
		if p.TimeoutSeconds <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "providers.%s.timeout_seconds must be positive", name)
		}
		if (name == Bing || name == Google) && p.APIKey == "" {
			return errors.Wrapf(ErrInvalidConfig, "providers.%s.api_key is required", name)
		}
	}
	return nil
}

func isKnownProvider(name string) bool {
	for _, known := range ProviderNames {
		if name == known {
			return true
		}
	}
	return false
}
