// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package fetcher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsFetcher holds the Prometheus metrics for the download
// subsystem. Lazily initialized so a process that never calls
// DownloadAll never registers against the default registry.
type metricsFetcher struct {
	once sync.Once

	attempted prometheus.Counter
	succeeded prometheus.Counter
	failed    prometheus.Counter
	inFlight  prometheus.Gauge
	duration  prometheus.Histogram
}

var fetchMetrics metricsFetcher

func (m *metricsFetcher) init() {
	m.once.Do(func() {
		m.attempted = prometheus.NewCounter(prometheus.CounterOpts{Name: "prefetch_fetcher_downloads_attempted_total", Help: "Downloads attempted"})
		m.succeeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "prefetch_fetcher_downloads_succeeded_total", Help: "Downloads that wrote and verified their destination file"})
		m.failed = prometheus.NewCounter(prometheus.CounterOpts{Name: "prefetch_fetcher_downloads_failed_total", Help: "Downloads that errored or failed checksum verification"})
		m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "prefetch_fetcher_downloads_in_flight", Help: "Downloads currently in progress"})

		buckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "prefetch_fetcher_download_duration_seconds", Help: "Duration of a single download, request to verified file", Buckets: buckets})

		prometheus.MustRegister(m.attempted, m.succeeded, m.failed, m.inFlight, m.duration)
	})
}
