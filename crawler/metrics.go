package crawler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal  *prometheus.CounterVec
	bytesFetchedTotal  *prometheus.CounterVec
	authBouncesTotal   *prometheus.CounterVec
	frontierDiscovered prometheus.Counter
	fetchDuration      *prometheus.HistogramVec

	metricsOnce sync.Once
)

// InitMetrics registers the crawl metrics collectors. Safe to call more
// than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_pages_fetched_total",
				Help: "Total fetch attempts, labeled by host and outcome.",
			},
			[]string{"host", "status"},
		)

		bytesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_bytes_fetched_total",
				Help: "Total body bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		authBouncesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_auth_bounces_total",
				Help: "Pages that redirected into an identity provider, labeled by redirect host.",
			},
			[]string{"redirect_host"},
		)

		frontierDiscovered = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tessera_frontier_discovered_total",
				Help: "Candidate URLs appended to the frontier.",
			},
		)

		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tessera_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by fetch mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		)
	})
}

func observeFetch(host string, status FetchStatus, bodyBytes int) {
	if pagesFetchedTotal == nil {
		return
	}
	pagesFetchedTotal.WithLabelValues(host, string(status)).Inc()
	if bodyBytes > 0 {
		bytesFetchedTotal.WithLabelValues(host).Add(float64(bodyBytes))
	}
}

func observeAuthBounce(redirectHost string) {
	if authBouncesTotal == nil {
		return
	}
	authBouncesTotal.WithLabelValues(redirectHost).Inc()
}

func observeDiscovered(n int) {
	if frontierDiscovered == nil {
		return
	}
	frontierDiscovered.Add(float64(n))
}

func observeFetchDuration(mode string, seconds float64) {
	if fetchDuration == nil {
		return
	}
	fetchDuration.WithLabelValues(mode).Observe(seconds)
}
