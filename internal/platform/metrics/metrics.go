// Package metrics provides the process-wide Prometheus registry facade.
// Unlike the teacher's global-singleton metrics package, every component
// here receives its *Metrics at construction time (see DESIGN NOTES in
// SPEC_FULL.md about avoiding &'static-style global reach-through).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the auction engine emits.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	ChainRPCTotal    *prometheus.CounterVec
	ChainRPCDuration *prometheus.HistogramVec

	DatabaseQueriesTotal  *prometheus.CounterVec
	DatabaseQueryDuration *prometheus.HistogramVec

	AuctionsBuilt        prometheus.Counter
	AuctionOrders        prometheus.Histogram
	CompetitionSolutions *prometheus.CounterVec
	CompetitionScore     *prometheus.HistogramVec
	SettlementsTracked   *prometheus.CounterVec
	BadSubjectUnsupportedTotal prometheus.Gauge

	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New registers every collector against registerer (pass
// prometheus.NewRegistry() in tests to avoid collisions across packages).
func New(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total", Help: "Total HTTP requests",
		}, []string{"service", "method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds", Help: "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"service", "method", "path"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight", Help: "Requests currently in flight",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total", Help: "Errors by kind",
		}, []string{"service", "kind", "operation"}),
		ChainRPCTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_rpc_calls_total", Help: "Chain RPC calls",
		}, []string{"service", "method", "status"}),
		ChainRPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "chain_rpc_duration_seconds", Help: "Chain RPC duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service", "method"}),
		DatabaseQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "database_queries_total", Help: "Database queries",
		}, []string{"service", "operation", "status"}),
		DatabaseQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "database_query_duration_seconds", Help: "Database query duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"service", "operation"}),
		AuctionsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auctions_built_total", Help: "Auctions built by the autopilot",
		}),
		AuctionOrders: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "auction_orders_count", Help: "Orders per built auction",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		CompetitionSolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_solutions_total", Help: "Solutions received per outcome",
		}, []string{"driver", "outcome"}),
		CompetitionScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "competition_winning_score", Help: "Winning solution score in native token",
			Buckets: prometheus.ExponentialBuckets(1e12, 4, 16),
		}, []string{"driver"}),
		SettlementsTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlements_tracked_total", Help: "Settlement events enriched by outcome",
		}, []string{"outcome"}),
		BadSubjectUnsupportedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bad_subject_unsupported_total", Help: "Currently Unsupported (solver, subject) pairs",
		}),
		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "service_uptime_seconds", Help: "Service uptime",
		}),
		ServiceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_info", Help: "Service build info",
		}, []string{"service", "version"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
			m.ErrorsTotal, m.ChainRPCTotal, m.ChainRPCDuration,
			m.DatabaseQueriesTotal, m.DatabaseQueryDuration,
			m.AuctionsBuilt, m.AuctionOrders, m.CompetitionSolutions,
			m.CompetitionScore, m.SettlementsTracked, m.BadSubjectUnsupportedTotal,
			m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "dev").Set(1)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(d.Seconds())
}

// RecordError records a typed error from the §7 taxonomy.
func (m *Metrics) RecordError(service, kind, operation string) {
	m.ErrorsTotal.WithLabelValues(service, kind, operation).Inc()
}

// RecordChainRPC records one RPC call's outcome and latency.
func (m *Metrics) RecordChainRPC(service, method, status string, d time.Duration) {
	m.ChainRPCTotal.WithLabelValues(service, method, status).Inc()
	m.ChainRPCDuration.WithLabelValues(service, method).Observe(d.Seconds())
}

// RecordDatabaseQuery records one query's outcome and latency.
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, d time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(d.Seconds())
}

// UpdateUptime refreshes the uptime gauge from a process start time.
func (m *Metrics) UpdateUptime(start time.Time) {
	m.ServiceUptime.Set(time.Since(start).Seconds())
}

// RecordAuctionBuild records one AuctionBuilder tick's outcome.
func (m *Metrics) RecordAuctionBuild(status string, d time.Duration) {
	if status == "ok" {
		m.AuctionsBuilt.Inc()
	}
}

// ObserveAuctionOrders records how many orders landed in a built auction.
func (m *Metrics) ObserveAuctionOrders(n int) {
	m.AuctionOrders.Observe(float64(n))
}

// RecordCompetitionOutcome records one driver's solve outcome.
func (m *Metrics) RecordCompetitionOutcome(driver, outcome string) {
	m.CompetitionSolutions.WithLabelValues(driver, outcome).Inc()
}

// RecordWinningScore records the winning solution's score.
func (m *Metrics) RecordWinningScore(driver string, score float64) {
	m.CompetitionScore.WithLabelValues(driver).Observe(score)
}

// RecordSettlementTracked records one settlement enrichment outcome.
func (m *Metrics) RecordSettlementTracked(outcome string) {
	m.SettlementsTracked.WithLabelValues(outcome).Inc()
}

// SetBadSubjectUnsupportedTotal updates the count of currently Unsupported subjects.
func (m *Metrics) SetBadSubjectUnsupportedTotal(n int) {
	m.BadSubjectUnsupportedTotal.Set(float64(n))
}
