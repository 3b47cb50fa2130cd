package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "firehose_"

var rowsStreamedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "rows_streamed",
		Help: "Number of rows written to the transport buffer",
	},
	[]string{"worker"},
)

var bytesStreamedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "bytes_streamed",
		Help: "Number of serialised bytes written to the transport buffer",
	},
	[]string{"worker"},
)

var flushWaitHist = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricsPrefix + "flush_wait_seconds",
		Help:    "Time a flush spent blocked waiting for the store to consume the buffer",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	},
)

var connectRetriesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "connect_retries",
		Help: "Number of failed connection attempts that were retried",
	},
	[]string{"worker"},
)

var shardsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "shards",
		Help: "Number of shards that finished, by outcome",
	},
	[]string{"outcome"},
)

var shardDurationHist = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricsPrefix + "shard_load_seconds",
		Help:    "Time taken by the bulk load of a shard",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
	},
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

type Metrics struct{}

var m = &Metrics{}

func Get() *Metrics {
	return m
}

func workerLabel(workerId int) string {
	return fmt.Sprintf("%02d", workerId)
}

func (m *Metrics) RecordFlush(workerId int, rows int64, bytes int64, wait time.Duration) {
	label := workerLabel(workerId)
	rowsStreamedCounter.WithLabelValues(label).Add(float64(rows))
	bytesStreamedCounter.WithLabelValues(label).Add(float64(bytes))
	flushWaitHist.Observe(wait.Seconds())
}

func (m *Metrics) RecordConnectRetry(workerId int) {
	connectRetriesCounter.WithLabelValues(workerLabel(workerId)).Inc()
}

func (m *Metrics) RecordShardSucceeded(elapsed time.Duration) {
	shardsCounter.WithLabelValues(outcomeSucceeded).Inc()
	shardDurationHist.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordShardFailed() {
	shardsCounter.WithLabelValues(outcomeFailed).Inc()
}
