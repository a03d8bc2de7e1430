package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pipeline counters and histograms, partitioned by chain.

var (
	// RPC
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total provider calls by outcome",
	}, []string{"chain", "method", "status"})

	RPCRateLimitRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "rpc",
		Name:      "rate_limit_retries_total",
		Help:      "Total retries caused by provider rate limiting",
	}, []string{"chain"})

	// Scanner
	ScannerWindows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "scanner",
		Name:      "windows_total",
		Help:      "Total block windows scanned by outcome",
	}, []string{"chain", "status"})

	ScannerCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "launchpad",
		Subsystem: "scanner",
		Name:      "cursor_block",
		Help:      "Last processed block per token",
	}, []string{"chain", "token"})

	LedgerRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "ledger",
		Name:      "records_written_total",
		Help:      "Total transfer records upserted by side and source",
	}, []string{"chain", "side", "source"})

	SkippedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "scanner",
		Name:      "skipped_items_total",
		Help:      "Total logs or transactions skipped after a permanent error",
	}, []string{"chain", "reason"})

	Graduations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "graduation",
		Name:      "consolidated_total",
		Help:      "Total graduations consolidated",
	}, []string{"chain"})

	// DEX
	DexSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "dex",
		Name:      "snapshots_written_total",
		Help:      "Total pair snapshots upserted",
	}, []string{"chain"})

	// Pipeline
	PassErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "pipeline",
		Name:      "pass_errors_total",
		Help:      "Total failed token passes",
	}, []string{"chain", "pass"})

	PassLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "launchpad",
		Subsystem: "pipeline",
		Name:      "pass_duration_seconds",
		Help:      "Per-token pass duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"chain", "pass"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "launchpad",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total pipeline runs by outcome",
	}, []string{"status"})

	RunLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "launchpad",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Whole run duration",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
)

// Push sends the default registry to a Pushgateway. No-op without a URL.
func Push(url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push()
}
