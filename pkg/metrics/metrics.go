package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Provider outcomes
const (
	OutcomeCountry = "country"
	OutcomeNone    = "none"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Location outcomes
const (
	LocationResolved   = "resolved"
	LocationUnresolved = "unresolved"
	LocationSkipped    = "skipped"
	LocationReused     = "reused"
)

// Metrics counts what a run did. A nil *Metrics is valid and records nothing,
// so components can be used without wiring a registry.
type Metrics struct {
	registry         *prometheus.Registry
	providerAttempts *prometheus.CounterVec
	providerResults  *prometheus.CounterVec
	locations        *prometheus.CounterVec
	tableRows        *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacktrends",
			Name:      "provider_attempts_total",
			Help:      "Requests sent to geocoding providers, retries included.",
		}, []string{"provider"}),
		providerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacktrends",
			Name:      "provider_results_total",
			Help:      "Final per-location answers of geocoding providers by outcome.",
		}, []string{"provider", "outcome"}),
		locations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacktrends",
			Name:      "locations_total",
			Help:      "Location strings processed by the table builder by outcome.",
		}, []string{"outcome"}),
		tableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stacktrends",
			Name:      "table_rows",
			Help:      "Rows in the last written version of each output table.",
		}, []string{"table"}),
	}
	m.registry.MustRegister(m.providerAttempts, m.providerResults, m.locations, m.tableRows)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ProviderAttempt(provider string) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider).Inc()
}

func (m *Metrics) ProviderResult(provider, outcome string) {
	if m == nil {
		return
	}
	m.providerResults.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Location(outcome string) {
	if m == nil {
		return
	}
	m.locations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TableWritten(table string, rows int) {
	if m == nil {
		return
	}
	m.tableRows.WithLabelValues(table).Set(float64(rows))
}

// WriteTextfile dumps the registry in the text exposition format, for
// pickup by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return errors.Wrap(prometheus.WriteToTextfile(path, m.registry), "failed to write metrics textfile")
}
