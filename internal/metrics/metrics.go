// Package metrics exposes prometheus counters for the redirect and click
// recording paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Shortens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shorten_requests_total",
		Help: "Total shorten requests.",
	})
	Redirects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_requests_total",
		Help: "Total redirect requests.",
	})
	CacheHit = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resolver_cache_hit_total",
		Help: "Redirect resolutions served from cache.",
	})
	CacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resolver_cache_miss_total",
		Help: "Redirect resolutions that went to the store.",
	})
	ClicksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clicks_dropped_total",
		Help: "Click events dropped, queue full or shutdown.",
	})
	ClicksRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clicks_recorded_total",
		Help: "Click events durably recorded.",
	})
	ClickBatchesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "click_batches_dropped_total",
		Help: "Click batches dropped after exhausting retries.",
	})
)

func init() {
	prometheus.MustRegister(
		Shortens, Redirects, CacheHit, CacheMiss,
		ClicksDropped, ClicksRecorded, ClickBatchesDropped,
	)
}

// Handler serves the prometheus scrape endpoint.
func Handler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
