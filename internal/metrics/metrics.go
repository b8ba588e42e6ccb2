// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

var (
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multisavex_downloads_total",
			Help: "Finished download requests by platform and status.",
		},
		[]string{"platform", "status"},
	)

	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multisavex_download_duration_seconds",
			Help:    "Time spent downloading media.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"platform"},
	)

	DownloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multisavex_download_bytes_total",
			Help: "Bytes forwarded to users.",
		},
		[]string{"platform"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multisavex_rate_limited_total",
			Help: "Requests refused by the rate limiter.",
		},
		[]string{"action"},
	)

	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multisavex_file_cache_hits_total",
		Help: "Links answered from the file id cache.",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multisavex_file_cache_misses_total",
		Help: "Links not found in the file id cache.",
	})

	BroadcastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multisavex_broadcast_messages_total",
			Help: "Broadcast deliveries by result.",
		},
		[]string{"result"},
	)

	// InFlight counts downloads holding a concurrency slot.
	InFlight = atomic.NewInt64(0)

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "multisavex_downloads_in_flight",
		Help: "Downloads currently running.",
	}, func() float64 { return float64(InFlight.Load()) })
)
